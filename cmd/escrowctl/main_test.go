package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-escrow/internal/auth"
	"github.com/0gfoundation/0g-escrow/internal/collector"
	"github.com/0gfoundation/0g-escrow/internal/custody"
	"github.com/0gfoundation/0g-escrow/internal/payment"
	"github.com/0gfoundation/0g-escrow/internal/token"
)

const (
	testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	escrowHex  = "0xE5C0000000000000000000000000000000000001"
)

var testPayer = common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")

func testInfo() payment.Info {
	return payment.Info{
		Operator:            common.HexToAddress("0x0000000000000000000000000000000000000A11"),
		Payer:               testPayer,
		Receiver:            common.HexToAddress("0x0000000000000000000000000000000000000B22"),
		Token:               common.HexToAddress("0x4444444444444444444444444444444444444444"),
		MaxAmount:           big.NewInt(1000),
		PreApprovalExpiry:   1000,
		AuthorizationExpiry: 2000,
		RefundExpiry:        3000,
		MaxFeeBps:           100,
		Salt:                big.NewInt(9),
	}
}

func infoJSON(t *testing.T) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(testInfo())
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(raw)
}

// field returns the value printed after "name:" in out.
func field(t *testing.T, out, name string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, name+":"); ok {
			return strings.TrimSpace(v)
		}
	}
	t.Fatalf("field %q missing in:\n%s", name, out)
	return ""
}

// ── subcommands ───────────────────────────────────────────────────────────────

func TestRun_Usage(t *testing.T) {
	if err := run(nil, nil, &bytes.Buffer{}); err == nil {
		t.Error("expected usage error")
	}
	if err := run([]string{"bogus"}, nil, &bytes.Buffer{}); err == nil {
		t.Error("expected unknown command error")
	}
}

func TestRun_Hash(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"hash", "--chain-id", "31337", "--escrow", escrowHex}, infoJSON(t), &out); err != nil {
		t.Fatal(err)
	}
	hasher := payment.NewHasher(big.NewInt(31337), common.HexToAddress(escrowHex))
	info := testInfo()
	if got := field(t, out.String(), "payment_hash"); got != hasher.Hash(info).Hex() {
		t.Errorf("payment_hash = %s", got)
	}
	if got := field(t, out.String(), "payer_agnostic_hash"); got != hasher.PayerAgnosticHash(info).Hex() {
		t.Errorf("payer_agnostic_hash = %s", got)
	}
}

func TestRun_HashRequiresChainID(t *testing.T) {
	if err := run([]string{"hash", "--escrow", escrowHex}, infoJSON(t), &bytes.Buffer{}); err == nil {
		t.Error("expected error without --chain-id")
	}
}

func TestRun_CustodyAndCollectors(t *testing.T) {
	var out bytes.Buffer
	op := "0x0000000000000000000000000000000000000A11"
	if err := run([]string{"custody", "--escrow", escrowHex, "--operator", op}, nil, &out); err != nil {
		t.Fatal(err)
	}
	want := custody.Address(common.HexToAddress(escrowHex), common.HexToAddress(op)).Hex()
	if strings.TrimSpace(out.String()) != want {
		t.Errorf("custody = %q, want %s", out.String(), want)
	}

	out.Reset()
	if err := run([]string{"collectors", "--escrow", escrowHex}, nil, &out); err != nil {
		t.Fatal(err)
	}
	pre := collector.DeriveAddress(common.HexToAddress(escrowHex), collector.PreApprovalName).Hex()
	if !strings.Contains(out.String(), pre) {
		t.Errorf("collectors output missing %s:\n%s", pre, out.String())
	}

	if err := run([]string{"custody", "--escrow", "nope", "--operator", op}, nil, &bytes.Buffer{}); err == nil {
		t.Error("expected invalid address error")
	}
}

func TestRun_SignTransfer(t *testing.T) {
	var out bytes.Buffer
	args := []string{"sign-transfer", "--key", testKeyHex, "--chain-id", "31337", "--escrow", escrowHex}
	if err := run(args, infoJSON(t), &out); err != nil {
		t.Fatal(err)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(field(t, out.String(), "collector_data"), "0x"))
	if err != nil {
		t.Fatal(err)
	}
	hasher := payment.NewHasher(big.NewInt(31337), common.HexToAddress(escrowHex))
	signed := collector.NewSignedTransfer(common.HexToAddress(escrowHex), hasher, nil)
	info := testInfo()
	got, err := token.RecoverAuthorizer(signed.Authorization(info), sig, big.NewInt(31337), info.Token)
	if err != nil {
		t.Fatal(err)
	}
	if got != testPayer {
		t.Errorf("recovered %s, want payer %s", got.Hex(), testPayer.Hex())
	}
}

func TestRun_SignTransferWrongKey(t *testing.T) {
	other, _ := crypto.GenerateKey()
	args := []string{"sign-transfer", "--key", hex.EncodeToString(crypto.FromECDSA(other)), "--chain-id", "31337", "--escrow", escrowHex}
	if err := run(args, infoJSON(t), &bytes.Buffer{}); err == nil {
		t.Error("expected error when key is not the payer's")
	}
}

func TestRun_SignRequest(t *testing.T) {
	var out bytes.Buffer
	args := []string{"sign-request", "--key", "0x" + testKeyHex, "--action", "capture", "--resource", "0xabc"}
	if err := run(args, strings.NewReader(`{"amount":1}`), &out); err != nil {
		t.Fatal(err)
	}
	msg, err := base64.StdEncoding.DecodeString(field(t, out.String(), "X-Signed-Message"))
	if err != nil {
		t.Fatal(err)
	}
	var sr auth.SignedRequest
	if err := json.Unmarshal(msg, &sr); err != nil {
		t.Fatal(err)
	}
	if sr.Action != "capture" || sr.ResourceID != "0xabc" || sr.Nonce == "" {
		t.Errorf("signed request = %+v", sr)
	}
	sig, _ := hex.DecodeString(strings.TrimPrefix(field(t, out.String(), "X-Wallet-Signature"), "0x"))
	signer, err := auth.Recover(msg, sig)
	if err != nil {
		t.Fatal(err)
	}
	if signer != testPayer {
		t.Errorf("signer = %s", signer.Hex())
	}

	if err := run([]string{"sign-request", "--key", testKeyHex, "--action", "x"}, strings.NewReader("{"), &bytes.Buffer{}); err == nil {
		t.Error("expected invalid JSON error")
	}
}
