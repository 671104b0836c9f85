package ethsig

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestSign_WalletV(t *testing.T) {
	key, _ := crypto.GenerateKey()
	digest := crypto.Keccak256([]byte("digest"))

	sig, err := Sign(digest, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != Len {
		t.Fatalf("len = %d, want %d", len(sig), Len)
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Errorf("V = %d, want 27 or 28", v)
	}
}

func TestRecover_BothVEncodings(t *testing.T) {
	key, _ := crypto.GenerateKey()
	want := crypto.PubkeyToAddress(key.PublicKey)
	digest := crypto.Keccak256([]byte("digest"))

	sig, _ := Sign(digest, key)
	orig := append([]byte(nil), sig...)
	got, err := Recover(digest, sig)
	if err != nil || got != want {
		t.Fatalf("wallet V: got %s, %v; want %s", got.Hex(), err, want.Hex())
	}
	if !bytes.Equal(sig, orig) {
		t.Error("Recover modified the caller's signature")
	}

	sig[64] -= 27
	got, err = Recover(digest, sig)
	if err != nil || got != want {
		t.Fatalf("raw V: got %s, %v; want %s", got.Hex(), err, want.Hex())
	}
}

func TestRecover_BadLength(t *testing.T) {
	_, err := Recover(make([]byte, 32), make([]byte, 64))
	if !errors.Is(err, ErrLength) {
		t.Fatalf("err = %v, want ErrLength", err)
	}
}
