package auth

import (
	"crypto/ecdsa"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-escrow/internal/ethsig"
)

const personalPrefix = "\x19Ethereum Signed Message:\n"

// HashMessage returns the personal_sign digest of msg (EIP-191 version 0x45).
func HashMessage(msg []byte) []byte {
	return crypto.Keccak256([]byte(personalPrefix+strconv.Itoa(len(msg))), msg)
}

// Sign personal-signs msg with key.
func Sign(msg []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	return ethsig.Sign(HashMessage(msg), key)
}

// Recover returns the wallet that personal-signed msg.
func Recover(msg, sig []byte) (common.Address, error) {
	return ethsig.Recover(HashMessage(msg), sig)
}
