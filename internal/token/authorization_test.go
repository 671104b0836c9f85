package token

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func signedAuthorization(t *testing.T, l *Ledger, to common.Address, value int64) (Authorization, []byte, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	a := Authorization{
		From:        from,
		To:          to,
		Value:       big.NewInt(value),
		ValidAfter:  0,
		ValidBefore: 2_000,
		Nonce:       crypto.Keccak256Hash([]byte("nonce-1")),
	}
	sig, err := SignAuthorization(a, key, l.ChainID(), testToken)
	if err != nil {
		t.Fatalf("SignAuthorization: %v", err)
	}
	return a, sig, from
}

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

func TestSignAuthorization_Recover(t *testing.T) {
	l, _ := newTestLedger(t)
	a, sig, from := signedAuthorization(t, l, bob, 10)

	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	got, err := RecoverAuthorizer(a, sig, l.ChainID(), testToken)
	if err != nil {
		t.Fatalf("RecoverAuthorizer: %v", err)
	}
	if got != from {
		t.Errorf("recovered %s, want %s", got.Hex(), from.Hex())
	}
}

func TestSignAuthorization_TokenDomain(t *testing.T) {
	l, _ := newTestLedger(t)
	a, sig, from := signedAuthorization(t, l, bob, 10)

	other := common.HexToAddress("0x0000000000000000000000000000000000000001")
	got, err := RecoverAuthorizer(a, sig, l.ChainID(), other)
	if err == nil && got == from {
		t.Error("signature must not verify against a different token")
	}
}

func TestReceiveWithAuthorization_Transfers(t *testing.T) {
	l, _ := newTestLedger(t)
	l.SetClock(fixedClock(1_000))
	a, sig, from := signedAuthorization(t, l, bob, 10)
	mint(t, l, from, 10)

	if err := l.ReceiveWithAuthorization(context.Background(), bob, testToken, a, sig); err != nil {
		t.Fatalf("ReceiveWithAuthorization: %v", err)
	}
	if got := mustBalance(t, l, bob); got != 10 {
		t.Errorf("bob = %d, want 10", got)
	}
	used, _ := l.AuthorizationUsed(context.Background(), testToken, from, a.Nonce)
	if !used {
		t.Error("nonce should be marked used")
	}
}

func TestReceiveWithAuthorization_Replay(t *testing.T) {
	l, _ := newTestLedger(t)
	l.SetClock(fixedClock(1_000))
	a, sig, from := signedAuthorization(t, l, bob, 10)
	mint(t, l, from, 20)

	if err := l.ReceiveWithAuthorization(context.Background(), bob, testToken, a, sig); err != nil {
		t.Fatal(err)
	}
	err := l.ReceiveWithAuthorization(context.Background(), bob, testToken, a, sig)
	if !errors.Is(err, ErrAuthorizationUsed) {
		t.Fatalf("err = %v, want ErrAuthorizationUsed", err)
	}
}

func TestReceiveWithAuthorization_Window(t *testing.T) {
	l, _ := newTestLedger(t)
	a, sig, from := signedAuthorization(t, l, bob, 10)
	mint(t, l, from, 10)

	l.SetClock(fixedClock(2_000))
	if err := l.ReceiveWithAuthorization(context.Background(), bob, testToken, a, sig); !errors.Is(err, ErrAuthorizationExpired) {
		t.Fatalf("at validBefore: err = %v, want ErrAuthorizationExpired", err)
	}
	l.SetClock(fixedClock(0))
	if err := l.ReceiveWithAuthorization(context.Background(), bob, testToken, a, sig); !errors.Is(err, ErrAuthorizationNotYetValid) {
		t.Fatalf("at validAfter: err = %v, want ErrAuthorizationNotYetValid", err)
	}
}

func TestReceiveWithAuthorization_CallerMustBePayee(t *testing.T) {
	l, _ := newTestLedger(t)
	l.SetClock(fixedClock(1_000))
	a, sig, from := signedAuthorization(t, l, bob, 10)
	mint(t, l, from, 10)

	err := l.ReceiveWithAuthorization(context.Background(), carol, testToken, a, sig)
	if !errors.Is(err, ErrAuthorizationCallerNotPayee) {
		t.Fatalf("err = %v, want ErrAuthorizationCallerNotPayee", err)
	}
}

func TestReceiveWithAuthorization_TamperedValue(t *testing.T) {
	l, _ := newTestLedger(t)
	l.SetClock(fixedClock(1_000))
	a, sig, from := signedAuthorization(t, l, bob, 10)
	mint(t, l, from, 100)

	a.Value = big.NewInt(100)
	err := l.ReceiveWithAuthorization(context.Background(), bob, testToken, a, sig)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}
