package collector

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-escrow/internal/payment"
	"github.com/0gfoundation/0g-escrow/internal/store"
	"github.com/0gfoundation/0g-escrow/internal/token"
)

var (
	escrowAddr = common.HexToAddress("0xE5C0000000000000000000000000000000000001")
	testToken  = common.HexToAddress("0x4444444444444444444444444444444444444444")
	custodyAt  = common.HexToAddress("0x000000000000000000000000000000000000C057")
	operator   = common.HexToAddress("0x0000000000000000000000000000000000000A11")
	chainID    = big.NewInt(31337)
)

type stateStub map[common.Hash]payment.State

func (s stateStub) PaymentState(_ context.Context, info payment.Info) (payment.State, error) {
	if st, ok := s[payment.NewHasher(chainID, escrowAddr).Hash(info)]; ok {
		return st, nil
	}
	return payment.NewState(), nil
}

func setup(t *testing.T) (*store.DB, *token.Ledger, *ecdsa.PrivateKey, payment.Info) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	db := store.New(store.NewMemoryBackend())
	l := token.NewLedger(db, chainID)
	l.SetClock(func() time.Time { return time.Unix(100, 0) })
	payer := crypto.PubkeyToAddress(key.PublicKey)
	if err := l.Mint(context.Background(), testToken, payer, big.NewInt(1000)); err != nil {
		t.Fatal(err)
	}
	info := payment.Info{
		Operator:            operator,
		Payer:               payer,
		Receiver:            common.HexToAddress("0xB22"),
		Token:               testToken,
		MaxAmount:           big.NewInt(500),
		PreApprovalExpiry:   200,
		AuthorizationExpiry: 300,
		RefundExpiry:        400,
		MaxFeeBps:           100,
		Salt:                big.NewInt(7),
	}
	return db, l, key, info
}

func balance(t *testing.T, l *token.Ledger, holder common.Address) int64 {
	t.Helper()
	b, err := l.BalanceOf(context.Background(), testToken, holder)
	if err != nil {
		t.Fatal(err)
	}
	return b.Int64()
}

// ── registry ──────────────────────────────────────────────────────────────────

func TestRegistry(t *testing.T) {
	_, l, _, _ := setup(t)
	r := NewRegistry()
	c := NewOperatorRefund(escrowAddr, l)
	if err := r.Register(c); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewOperatorRefund(escrowAddr, l)); !errors.Is(err, ErrDuplicateCollector) {
		t.Fatalf("duplicate err = %v", err)
	}
	got, err := r.Lookup(c.Address())
	if err != nil || got != c {
		t.Fatalf("Lookup = %v, %v", got, err)
	}
	if _, err := r.Lookup(operator); !errors.Is(err, ErrUnknownCollector) {
		t.Fatalf("unknown err = %v", err)
	}
}

func TestDeriveAddress_DistinctPerEscrowAndName(t *testing.T) {
	a := DeriveAddress(escrowAddr, SignedTransferName)
	if a != DeriveAddress(escrowAddr, SignedTransferName) {
		t.Fatal("not deterministic")
	}
	if a == DeriveAddress(escrowAddr, PreApprovalName) {
		t.Error("names collide")
	}
	if a == DeriveAddress(operator, SignedTransferName) {
		t.Error("escrows collide")
	}
}

// ── signed transfer ───────────────────────────────────────────────────────────

func TestSignedTransfer_ForwardsAndReturnsExcess(t *testing.T) {
	_, l, key, info := setup(t)
	c := NewSignedTransfer(escrowAddr, payment.NewHasher(chainID, escrowAddr), l)
	sig, err := token.SignAuthorization(c.Authorization(info), key, chainID, testToken)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.CollectTokens(context.Background(), escrowAddr, info, custodyAt, big.NewInt(120), sig); err != nil {
		t.Fatalf("CollectTokens: %v", err)
	}
	if got := balance(t, l, custodyAt); got != 120 {
		t.Errorf("custody = %d, want 120", got)
	}
	if got := balance(t, l, info.Payer); got != 880 {
		t.Errorf("payer = %d, want 880", got)
	}

	err = c.CollectTokens(context.Background(), escrowAddr, info, custodyAt, big.NewInt(120), sig)
	if !errors.Is(err, token.ErrAuthorizationUsed) {
		t.Fatalf("replay err = %v, want ErrAuthorizationUsed", err)
	}
}

func TestSignedTransfer_OnlyEscrow(t *testing.T) {
	_, l, _, info := setup(t)
	c := NewSignedTransfer(escrowAddr, payment.NewHasher(chainID, escrowAddr), l)
	err := c.CollectTokens(context.Background(), operator, info, custodyAt, big.NewInt(1), nil)
	if !errors.Is(err, ErrOnlyEscrow) {
		t.Fatalf("err = %v", err)
	}
}

// ── pre-approval ──────────────────────────────────────────────────────────────

func TestPreApproval_Lifecycle(t *testing.T) {
	db, l, _, info := setup(t)
	ctx := context.Background()
	hasher := payment.NewHasher(chainID, escrowAddr)
	c := NewPreApproval(escrowAddr, db, hasher, l, stateStub{})
	c.SetClock(func() time.Time { return time.Unix(100, 0) })
	if err := l.Approve(ctx, testToken, info.Payer, c.Address(), big.NewInt(500)); err != nil {
		t.Fatal(err)
	}

	if err := c.PreApprove(ctx, operator, info); !errors.Is(err, ErrOnlyPayer) {
		t.Fatalf("non-payer err = %v", err)
	}
	if err := c.PreApprove(ctx, info.Payer, info); err != nil {
		t.Fatalf("PreApprove: %v", err)
	}
	if ok, _ := c.IsPreApproved(ctx, info); !ok {
		t.Fatal("not recorded")
	}
	if err := c.CollectTokens(ctx, escrowAddr, info, custodyAt, big.NewInt(300), nil); err != nil {
		t.Fatalf("CollectTokens: %v", err)
	}
	if got := balance(t, l, custodyAt); got != 300 {
		t.Errorf("custody = %d", got)
	}
	if err := c.CollectTokens(ctx, escrowAddr, info, custodyAt, big.NewInt(1), nil); !errors.Is(err, ErrNotPreApproved) {
		t.Fatalf("second collect err = %v", err)
	}
}

func TestPreApproval_Rejections(t *testing.T) {
	db, l, _, info := setup(t)
	ctx := context.Background()
	hasher := payment.NewHasher(chainID, escrowAddr)
	states := stateStub{hasher.Hash(info): {Collected: true, Capturable: big.NewInt(1), Refundable: new(big.Int)}}
	c := NewPreApproval(escrowAddr, db, hasher, l, states)
	c.SetClock(func() time.Time { return time.Unix(100, 0) })

	if err := c.PreApprove(ctx, info.Payer, info); !errors.Is(err, ErrAlreadyCollected) {
		t.Errorf("collected err = %v", err)
	}
	c.SetClock(func() time.Time { return time.Unix(int64(info.PreApprovalExpiry), 0) })
	other := info
	other.Salt = big.NewInt(8)
	if err := c.PreApprove(ctx, info.Payer, other); !errors.Is(err, ErrPreApprovalExpired) {
		t.Errorf("expired err = %v", err)
	}
}

// ── operator refund ───────────────────────────────────────────────────────────

func TestOperatorRefund_PullsFromOperator(t *testing.T) {
	_, l, _, info := setup(t)
	ctx := context.Background()
	c := NewOperatorRefund(escrowAddr, l)
	if c.Type() != TypeRefund {
		t.Fatalf("type = %s", c.Type())
	}
	if err := l.Mint(ctx, testToken, operator, big.NewInt(50)); err != nil {
		t.Fatal(err)
	}
	if err := l.Approve(ctx, testToken, operator, c.Address(), big.NewInt(50)); err != nil {
		t.Fatal(err)
	}
	if err := c.CollectTokens(ctx, escrowAddr, info, custodyAt, big.NewInt(40), nil); err != nil {
		t.Fatalf("CollectTokens: %v", err)
	}
	if got := balance(t, l, operator); got != 10 {
		t.Errorf("operator = %d, want 10", got)
	}
}
