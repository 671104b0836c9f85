package token

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-escrow/internal/ethsig"
	"github.com/0gfoundation/0g-escrow/internal/store"
)

var (
	ErrInvalidSignature            = errors.New("token: invalid authorization signature")
	ErrAuthorizationNotYetValid    = errors.New("token: authorization not yet valid")
	ErrAuthorizationExpired        = errors.New("token: authorization expired")
	ErrAuthorizationUsed           = errors.New("token: authorization already used")
	ErrAuthorizationCallerNotPayee = errors.New("token: caller must be the payee")
)

var receiveTypeHash = crypto.Keccak256Hash([]byte(
	"ReceiveWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
))

// Authorization is a holder-signed permission for one transfer. It is valid
// strictly after ValidAfter and strictly before ValidBefore, and each
// (From, Nonce) pair can be used once.
type Authorization struct {
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Value       *big.Int       `json:"value"`
	ValidAfter  uint64         `json:"valid_after"`
	ValidBefore uint64         `json:"valid_before"`
	Nonce       common.Hash    `json:"nonce"`
}

// domainSeparator computes the EIP-712 domain separator for one token.
func domainSeparator(chainID *big.Int, token common.Address) [32]byte {
	domainTypeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	nameHash := crypto.Keccak256Hash([]byte("Escrow Token Ledger"))
	versionHash := crypto.Keccak256Hash([]byte("1"))

	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	chainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], token.Bytes())

	return crypto.Keccak256Hash(encoded)
}

// AuthorizationDigest is the EIP-712 digest the holder signs.
func AuthorizationDigest(a Authorization, chainID *big.Int, token common.Address) [32]byte {
	encoded := make([]byte, 7*32)
	copy(encoded[0:32], receiveTypeHash[:])
	copy(encoded[44:64], a.From.Bytes())
	copy(encoded[76:96], a.To.Bytes())
	if a.Value != nil {
		copy(encoded[96:128], math.U256Bytes(new(big.Int).Set(a.Value)))
	}
	new(big.Int).SetUint64(a.ValidAfter).FillBytes(encoded[128:160])
	new(big.Int).SetUint64(a.ValidBefore).FillBytes(encoded[160:192])
	copy(encoded[192:224], a.Nonce[:])

	structHash := crypto.Keccak256Hash(encoded)
	sep := domainSeparator(chainID, token)

	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// SignAuthorization signs a with privKey. V is returned as 27/28.
func SignAuthorization(a Authorization, privKey *ecdsa.PrivateKey, chainID *big.Int, token common.Address) ([]byte, error) {
	digest := AuthorizationDigest(a, chainID, token)
	return ethsig.Sign(digest[:], privKey)
}

// RecoverAuthorizer returns the address that signed a.
func RecoverAuthorizer(a Authorization, sig []byte, chainID *big.Int, token common.Address) (common.Address, error) {
	digest := AuthorizationDigest(a, chainID, token)
	addr, err := ethsig.Recover(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return addr, nil
}

// ReceiveWithAuthorization executes a signed transfer. caller must be the
// authorization's payee, which stops third parties from front-running the
// transfer into a different flow.
func (l *Ledger) ReceiveWithAuthorization(ctx context.Context, caller, token common.Address, a Authorization, sig []byte) error {
	if caller != a.To {
		return ErrAuthorizationCallerNotPayee
	}
	amt, err := toUint(a.Value)
	if err != nil {
		return err
	}
	now := uint64(l.now().Unix())
	if now <= a.ValidAfter {
		return ErrAuthorizationNotYetValid
	}
	if now >= a.ValidBefore {
		return ErrAuthorizationExpired
	}
	signer, err := RecoverAuthorizer(a, sig, l.chainID, token)
	if err != nil {
		return err
	}
	if signer != a.From {
		return fmt.Errorf("%w: signed by %s", ErrInvalidSignature, signer.Hex())
	}
	return l.db.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		key := authorizationKey(token, a.From, a.Nonce)
		_, used, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		if used {
			return ErrAuthorizationUsed
		}
		tx.Put(key, []byte("1"))
		return l.move(ctx, tx, token, a.From, a.To, amt)
	})
}

// AuthorizationUsed reports whether the (from, nonce) pair was consumed.
func (l *Ledger) AuthorizationUsed(ctx context.Context, token, from common.Address, nonce common.Hash) (bool, error) {
	var used bool
	err := l.db.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, ok, err := tx.Get(ctx, authorizationKey(token, from, nonce))
		used = ok
		return err
	})
	return used, err
}
