package auth

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestHashMessage_Deterministic(t *testing.T) {
	msg := []byte(`{"action":"capture"}`)
	if string(HashMessage(msg)) != string(HashMessage(msg)) {
		t.Fatal("HashMessage is not deterministic")
	}
	if string(HashMessage([]byte("foo"))) == string(HashMessage([]byte("bar"))) {
		t.Fatal("different messages produced the same hash")
	}
	if n := len(HashMessage(msg)); n != 32 {
		t.Fatalf("expected 32 bytes, got %d", n)
	}
}

func TestSign_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte(`{"action":"void","nonce":"abc"}`)
	sig, err := Sign(msg, key)
	if err != nil {
		t.Fatal(err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("V = %d, want 27/28", sig[64])
	}
	got, err := Recover(msg, sig)
	if err != nil {
		t.Fatalf("Recover error: %v", err)
	}
	if got != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("got %s", got.Hex())
	}
}

// V in {0,1} must also recover.
func TestRecover_RawV(t *testing.T) {
	key, _ := crypto.GenerateKey()
	msg := []byte("test message")
	sig, _ := crypto.Sign(HashMessage(msg), key)

	got, err := Recover(msg, sig)
	if err != nil {
		t.Fatalf("Recover error: %v", err)
	}
	if got != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("got %s", got.Hex())
	}
}

func TestRecover_WrongMessage(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sig, _ := Sign([]byte("original message"), key)

	wrong, err := Recover([]byte("tampered message"), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wrong == crypto.PubkeyToAddress(key.PublicKey) {
		t.Error("tampered message should not recover the original signer")
	}
}

func TestRecover_InvalidSigLength(t *testing.T) {
	if _, err := Recover([]byte("msg"), []byte("tooshort")); err == nil {
		t.Fatal("expected error for short signature")
	}
}
