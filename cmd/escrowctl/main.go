// cmd/escrowctl is an offline helper for escrow clients: it derives payment
// hashes and addresses, and produces the signatures the API expects.
//
// Usage examples:
//
//	escrowctl hash --info payment.json --chain-id 31337 --escrow 0x...
//	escrowctl custody --escrow 0x... --operator 0x...
//	escrowctl collectors --escrow 0x...
//	escrowctl sign-transfer --info payment.json --key <hex> --chain-id 31337 --escrow 0x...
//	escrowctl sign-request --key <hex> --action capture --resource 0x... --payload body.json
package main

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/0gfoundation/0g-escrow/internal/auth"
	"github.com/0gfoundation/0g-escrow/internal/collector"
	"github.com/0gfoundation/0g-escrow/internal/custody"
	"github.com/0gfoundation/0g-escrow/internal/payment"
	"github.com/0gfoundation/0g-escrow/internal/token"
)

var errUsage = errors.New("usage: escrowctl <hash|custody|collectors|sign-transfer|sign-request> [flags]")

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "hash":
		return runHash(rest, stdin, out)
	case "custody":
		return runCustody(rest, out)
	case "collectors":
		return runCollectors(rest, out)
	case "sign-transfer":
		return runSignTransfer(rest, stdin, out)
	case "sign-request":
		return runSignRequest(rest, stdin, out)
	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
	}
}

// ── subcommands ───────────────────────────────────────────────────────────────

func runHash(args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	infoPath := fs.String("info", "-", "payment info JSON file, - for stdin")
	chainID := fs.Int64("chain-id", 0, "chain ID (required)")
	escrowAddr := fs.String("escrow", "", "escrow address (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	hasher, err := newHasher(*chainID, *escrowAddr)
	if err != nil {
		return err
	}
	info, err := readInfo(*infoPath, stdin)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "payment_hash:        %s\n", hasher.Hash(info).Hex())
	fmt.Fprintf(out, "payer_agnostic_hash: %s\n", hasher.PayerAgnosticHash(info).Hex())
	fmt.Fprintf(out, "custody_store:       %s\n", custody.Address(common.HexToAddress(*escrowAddr), info.Operator).Hex())
	return nil
}

func runCustody(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("custody", flag.ContinueOnError)
	escrowAddr := fs.String("escrow", "", "escrow address (required)")
	operator := fs.String("operator", "", "operator address (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	esc, err := parseAddress("escrow", *escrowAddr)
	if err != nil {
		return err
	}
	op, err := parseAddress("operator", *operator)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, custody.Address(esc, op).Hex())
	return nil
}

func runCollectors(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("collectors", flag.ContinueOnError)
	escrowAddr := fs.String("escrow", "", "escrow address (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	esc, err := parseAddress("escrow", *escrowAddr)
	if err != nil {
		return err
	}
	for _, name := range []string{collector.SignedTransferName, collector.PreApprovalName, collector.OperatorRefundName} {
		fmt.Fprintf(out, "%-16s %s\n", name, collector.DeriveAddress(esc, name).Hex())
	}
	return nil
}

// runSignTransfer prints the collector data that funds info through the
// signed-transfer collector.
func runSignTransfer(args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("sign-transfer", flag.ContinueOnError)
	infoPath := fs.String("info", "-", "payment info JSON file, - for stdin")
	keyHex := fs.String("key", "", "payer private key hex (required)")
	chainID := fs.Int64("chain-id", 0, "chain ID (required)")
	escrowAddr := fs.String("escrow", "", "escrow address (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	hasher, err := newHasher(*chainID, *escrowAddr)
	if err != nil {
		return err
	}
	key, err := parseKey(*keyHex)
	if err != nil {
		return err
	}
	info, err := readInfo(*infoPath, stdin)
	if err != nil {
		return err
	}
	if signer := crypto.PubkeyToAddress(key.PublicKey); signer != info.Payer {
		return fmt.Errorf("key is for %s but payer is %s", signer.Hex(), info.Payer.Hex())
	}
	signed := collector.NewSignedTransfer(common.HexToAddress(*escrowAddr), hasher, nil)
	sig, err := token.SignAuthorization(signed.Authorization(info), key, big.NewInt(*chainID), info.Token)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "collector:      %s\n", signed.Address().Hex())
	fmt.Fprintf(out, "collector_data: 0x%s\n", hex.EncodeToString(sig))
	return nil
}

// runSignRequest prints the auth headers for a signed API call.
func runSignRequest(args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("sign-request", flag.ContinueOnError)
	keyHex := fs.String("key", "", "wallet private key hex (required)")
	action := fs.String("action", "", "route action, e.g. capture (required)")
	resource := fs.String("resource", "", "payment hash the request acts on")
	payloadPath := fs.String("payload", "-", "request body JSON file, - for stdin")
	ttl := fs.Duration("ttl", 2*time.Minute, "signature lifetime (max 5m)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *action == "" {
		return errors.New("--action is required")
	}
	key, err := parseKey(*keyHex)
	if err != nil {
		return err
	}
	payload, err := readInput(*payloadPath, stdin)
	if err != nil {
		return err
	}
	if !json.Valid(payload) {
		return errors.New("payload is not valid JSON")
	}
	msg, err := json.Marshal(auth.SignedRequest{
		Action:     *action,
		ExpiresAt:  time.Now().Add(*ttl).Unix(),
		Nonce:      uuid.NewString(),
		Payload:    json.RawMessage(payload),
		ResourceID: *resource,
	})
	if err != nil {
		return err
	}
	sig, err := auth.Sign(msg, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "X-Wallet-Address: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
	fmt.Fprintf(out, "X-Signed-Message: %s\n", base64.StdEncoding.EncodeToString(msg))
	fmt.Fprintf(out, "X-Wallet-Signature: 0x%s\n", hex.EncodeToString(sig))
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func newHasher(chainID int64, escrowAddr string) (payment.Hasher, error) {
	if chainID <= 0 {
		return payment.Hasher{}, errors.New("--chain-id is required")
	}
	esc, err := parseAddress("escrow", escrowAddr)
	if err != nil {
		return payment.Hasher{}, err
	}
	return payment.NewHasher(big.NewInt(chainID), esc), nil
}

func parseAddress(name, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, fmt.Errorf("--%s is required", name)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid --%s address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func parseKey(s string) (*ecdsa.PrivateKey, error) {
	if s == "" {
		return nil, errors.New("--key is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	return key, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func readInfo(path string, stdin io.Reader) (payment.Info, error) {
	raw, err := readInput(path, stdin)
	if err != nil {
		return payment.Info{}, err
	}
	var info payment.Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return payment.Info{}, fmt.Errorf("decode payment info: %w", err)
	}
	if info.MaxAmount == nil || info.Salt == nil {
		return payment.Info{}, errors.New("payment info needs max_amount and salt")
	}
	return info, nil
}
