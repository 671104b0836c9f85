// Package webhook posts escrow events to a subscriber URL, signing each body
// so the subscriber can check it came from this service.
package webhook

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-escrow/internal/auth"
)

const (
	HeaderEventID   = "X-Escrow-Event-Id"
	HeaderSignature = "X-Escrow-Signature"
	HeaderSigner    = "X-Escrow-Signer"
)

// Client is a signing webhook client.
type Client struct {
	url    string
	key    *ecdsa.PrivateKey
	signer common.Address
	http   *http.Client
}

func NewClient(url string, key *ecdsa.PrivateKey) *Client {
	return &Client{
		url:    url,
		key:    key,
		signer: crypto.PubkeyToAddress(key.PublicKey),
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// NewClientFromHex parses a hex private key, with or without 0x.
func NewClientFromHex(url, keyHex string) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return NewClient(url, key), nil
}

func (c *Client) Signer() common.Address { return c.signer }

// Deliver posts body and returns the response status. A transport failure
// returns status 0 and the error.
func (c *Client) Deliver(ctx context.Context, eventID string, body []byte) (int, error) {
	sig, err := auth.Sign(body, c.key)
	if err != nil {
		return 0, fmt.Errorf("sign body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, eventID)
	req.Header.Set(HeaderSignature, "0x"+hex.EncodeToString(sig))
	req.Header.Set(HeaderSigner, c.signer.Hex())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook %s: %w", eventID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Verify recovers the signer of a delivered body from its signature header.
func Verify(body []byte, sigHeader string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHeader, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	return auth.Recover(body, sig)
}
