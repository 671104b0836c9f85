// Package ethsig signs and recovers 65-byte secp256k1 signatures over
// 32-byte digests in the wallet encoding (R || S || V, V in {27,28}).
package ethsig

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Len is the encoded signature length.
const Len = crypto.SignatureLength

// ErrLength is returned for signatures that are not Len bytes.
var ErrLength = errors.New("invalid signature length")

// Sign signs digest with key and shifts V into {27,28}.
func Sign(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address that produced sig over digest. V may be
// given as {0,1} or {27,28}; sig itself is not modified.
func Recover(digest, sig []byte) (common.Address, error) {
	if len(sig) != Len {
		return common.Address{}, fmt.Errorf("%w: %d", ErrLength, len(sig))
	}
	raw := append([]byte(nil), sig...)
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
