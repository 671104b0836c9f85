package payment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

var infoTypeHash = crypto.Keccak256Hash([]byte(
	"PaymentInfo(address operator,address payer,address receiver,address token,uint120 maxAmount,uint64 preApprovalExpiry,uint64 authorizationExpiry,uint64 refundExpiry,uint16 minFeeBps,uint16 maxFeeBps,address feeReceiver,uint256 salt)",
))

// Hasher computes payment identities for one escrow deployment. The chain ID
// and escrow address are folded into every hash so identical terms never
// collide across deployments.
type Hasher struct {
	chainID *big.Int
	escrow  common.Address
}

func NewHasher(chainID *big.Int, escrow common.Address) Hasher {
	return Hasher{chainID: new(big.Int).Set(chainID), escrow: escrow}
}

// Hash returns the ledger key for info:
// keccak256(chainId || escrow || keccak256(typeHash || abi.encode(info))).
func (h Hasher) Hash(info Info) common.Hash {
	structHash := crypto.Keccak256Hash(encodeInfo(info))

	encoded := make([]byte, 3*32)
	copy(encoded[0:32], word(h.chainID))
	copy(encoded[44:64], h.escrow.Bytes())
	copy(encoded[64:96], structHash[:])
	return crypto.Keccak256Hash(encoded)
}

// PayerAgnosticHash hashes info with the payer zeroed. Pull-based collectors
// use it as the nonce a payer signs before the payer field is bound.
func (h Hasher) PayerAgnosticHash(info Info) common.Hash {
	info.Payer = common.Address{}
	return h.Hash(info)
}

func encodeInfo(info Info) []byte {
	encoded := make([]byte, 13*32)
	copy(encoded[0:32], infoTypeHash[:])
	copy(encoded[44:64], info.Operator.Bytes())
	copy(encoded[76:96], info.Payer.Bytes())
	copy(encoded[108:128], info.Receiver.Bytes())
	copy(encoded[140:160], info.Token.Bytes())
	copy(encoded[160:192], word(info.MaxAmount))
	copy(encoded[192:224], word(new(big.Int).SetUint64(info.PreApprovalExpiry)))
	copy(encoded[224:256], word(new(big.Int).SetUint64(info.AuthorizationExpiry)))
	copy(encoded[256:288], word(new(big.Int).SetUint64(info.RefundExpiry)))
	copy(encoded[288:320], word(big.NewInt(int64(info.MinFeeBps))))
	copy(encoded[320:352], word(big.NewInt(int64(info.MaxFeeBps))))
	copy(encoded[364:384], info.FeeReceiver.Bytes())
	copy(encoded[384:416], word(info.Salt))
	return encoded
}

// word left-pads v into a 32-byte ABI slot; nil encodes as zero.
func word(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return math.U256Bytes(new(big.Int).Set(v))
}
