package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestDeliver_SignsBody(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	var gotBody []byte
	var gotSig, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(HeaderSignature)
		gotID = r.Header.Get(HeaderEventID)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, key)
	body := []byte(`{"type":"payment.captured"}`)
	status, err := c.Deliver(context.Background(), "ev-1", body)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if status != http.StatusAccepted {
		t.Errorf("status = %d", status)
	}
	if string(gotBody) != string(body) || gotID != "ev-1" {
		t.Errorf("received %q id %q", gotBody, gotID)
	}
	signer, err := Verify(gotBody, gotSig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if signer != c.Signer() {
		t.Errorf("signer = %s, want %s", signer.Hex(), c.Signer().Hex())
	}
}

func TestDeliver_TransportError(t *testing.T) {
	key, _ := crypto.GenerateKey()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	status, err := NewClient(url, key).Deliver(context.Background(), "ev-2", []byte(`{}`))
	if err == nil || status != 0 {
		t.Fatalf("status %d err %v, want transport error", status, err)
	}
}

func TestNewClientFromHex(t *testing.T) {
	if _, err := NewClientFromHex("http://x", "not-hex"); err == nil {
		t.Fatal("expected parse error")
	}
	c, err := NewClientFromHex("http://x", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatal(err)
	}
	if c.Signer().Hex() != "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23" {
		t.Errorf("signer = %s", c.Signer().Hex())
	}
}
