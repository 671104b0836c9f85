// Package api exposes the escrow ledger over HTTP. Mutating routes sit behind
// wallet-signature auth; the recovered wallet is the caller identity the
// ledger checks against the payment terms.
package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-escrow/internal/auth"
	"github.com/0gfoundation/0g-escrow/internal/collector"
	"github.com/0gfoundation/0g-escrow/internal/escrow"
	"github.com/0gfoundation/0g-escrow/internal/payment"
	"github.com/0gfoundation/0g-escrow/internal/token"
)

// Handler wires the escrow routes onto a Gin engine.
type Handler struct {
	esc     *escrow.Escrow
	ledger  *token.Ledger
	pre     *collector.PreApproval
	devMint bool
	log     *zap.Logger
}

func NewHandler(esc *escrow.Escrow, ledger *token.Ledger, pre *collector.PreApproval, log *zap.Logger) *Handler {
	return &Handler{esc: esc, ledger: ledger, pre: pre, log: log}
}

// EnableDevMint mounts POST /api/dev/mint. Never enable it in production.
func (h *Handler) EnableDevMint() { h.devMint = true }

// Register mounts the public routes and, behind mw, the signed ones.
func (h *Handler) Register(r *gin.Engine, mw ...gin.HandlerFunc) {
	pub := r.Group("/api")
	pub.GET("/payments/:hash", h.handleState)
	pub.POST("/payments/hash", h.handleHash)
	pub.GET("/authorizations/open", h.handleOpen)
	pub.GET("/custody/:operator", h.handleCustody)
	pub.GET("/collectors", h.handleCollectors)
	pub.GET("/tokens/:token/balances/:holder", h.handleBalance)

	signed := r.Group("/api", mw...)
	// ── Lifecycle ─────────────────────────────────────────────────────────
	signed.POST("/payments/authorize", h.handleAuthorize)
	signed.POST("/payments/capture", h.handleCapture)
	signed.POST("/payments/charge", h.handleCharge)
	signed.POST("/payments/void", h.handleVoid)
	signed.POST("/payments/reclaim", h.handleReclaim)
	signed.POST("/payments/refund", h.handleRefund)

	// ── Collectors / tokens ──────────────────────────────────────────────
	signed.POST("/collectors/preapprove", h.handlePreApprove)
	signed.POST("/tokens/approve", h.handleApprove)
	if h.devMint {
		signed.POST("/dev/mint", h.handleMint)
	}
}

// ── Request bodies ──────────────────────────────────────────────────────────

type paymentRequest struct {
	Info payment.Info `json:"payment_info"`
}

type collectRequest struct {
	Info          payment.Info   `json:"payment_info"`
	Amount        *big.Int       `json:"amount"`
	Collector     common.Address `json:"collector"`
	CollectorData hexutil.Bytes  `json:"collector_data"`
}

type captureRequest struct {
	Info        payment.Info   `json:"payment_info"`
	Amount      *big.Int       `json:"amount"`
	FeeBps      uint16         `json:"fee_bps"`
	FeeReceiver common.Address `json:"fee_receiver"`
}

type chargeRequest struct {
	Info          payment.Info   `json:"payment_info"`
	Amount        *big.Int       `json:"amount"`
	Collector     common.Address `json:"collector"`
	CollectorData hexutil.Bytes  `json:"collector_data"`
	FeeBps        uint16         `json:"fee_bps"`
	FeeReceiver   common.Address `json:"fee_receiver"`
}

type tokenRequest struct {
	Token   common.Address `json:"token"`
	Spender common.Address `json:"spender,omitempty"`
	To      common.Address `json:"to,omitempty"`
	Amount  *big.Int       `json:"amount"`
}

// ── Public ────────────────────────────────────────────────────────────────

func (h *Handler) handleState(c *gin.Context) {
	raw := c.Param("hash")
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment hash"})
		return
	}
	hash := common.BytesToHash(b)
	st, err := h.esc.PaymentStateByHash(c.Request.Context(), hash)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stateResponse(hash, st))
}

func (h *Handler) handleHash(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	hasher := h.esc.Hasher()
	c.JSON(http.StatusOK, gin.H{
		"payment_hash":        hasher.Hash(req.Info).Hex(),
		"payer_agnostic_hash": hasher.PayerAgnosticHash(req.Info).Hex(),
		"custody_store":       h.esc.CustodyAddress(req.Info.Operator).Hex(),
	})
}

func (h *Handler) handleOpen(c *gin.Context) {
	open, err := h.esc.OpenAuthorizations(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if open == nil {
		open = []escrow.OpenAuthorization{}
	}
	c.JSON(http.StatusOK, open)
}

func (h *Handler) handleCustody(c *gin.Context) {
	raw := c.Param("operator")
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid operator address"})
		return
	}
	op := common.HexToAddress(raw)
	exists, err := h.esc.CustodyExists(c.Request.Context(), op)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"operator":      op.Hex(),
		"custody_store": h.esc.CustodyAddress(op).Hex(),
		"exists":        exists,
	})
}

func (h *Handler) handleCollectors(c *gin.Context) {
	all := h.esc.Collectors().All()
	out := make([]gin.H, 0, len(all))
	for _, col := range all {
		out = append(out, gin.H{"address": col.Address().Hex(), "type": col.Type().String()})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) handleBalance(c *gin.Context) {
	tok, holder := c.Param("token"), c.Param("holder")
	if !common.IsHexAddress(tok) || !common.IsHexAddress(holder) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	bal, err := h.ledger.BalanceOf(c.Request.Context(), common.HexToAddress(tok), common.HexToAddress(holder))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal.String()})
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func (h *Handler) handleAuthorize(c *gin.Context) {
	var req collectRequest
	caller, ok := h.bindSigned(c, "authorize", &req, &req.Info)
	if !ok {
		return
	}
	err := h.esc.Authorize(c.Request.Context(), caller, req.Info, req.Amount, req.Collector, req.CollectorData)
	h.respond(c, req.Info, err)
}

func (h *Handler) handleCapture(c *gin.Context) {
	var req captureRequest
	caller, ok := h.bindSigned(c, "capture", &req, &req.Info)
	if !ok {
		return
	}
	err := h.esc.Capture(c.Request.Context(), caller, req.Info, req.Amount, req.FeeBps, req.FeeReceiver)
	h.respond(c, req.Info, err)
}

func (h *Handler) handleCharge(c *gin.Context) {
	var req chargeRequest
	caller, ok := h.bindSigned(c, "charge", &req, &req.Info)
	if !ok {
		return
	}
	err := h.esc.Charge(c.Request.Context(), caller, req.Info, req.Amount, req.Collector, req.CollectorData, req.FeeBps, req.FeeReceiver)
	h.respond(c, req.Info, err)
}

func (h *Handler) handleVoid(c *gin.Context) {
	var req paymentRequest
	caller, ok := h.bindSigned(c, "void", &req, &req.Info)
	if !ok {
		return
	}
	h.respond(c, req.Info, h.esc.Void(c.Request.Context(), caller, req.Info))
}

func (h *Handler) handleReclaim(c *gin.Context) {
	var req paymentRequest
	caller, ok := h.bindSigned(c, "reclaim", &req, &req.Info)
	if !ok {
		return
	}
	h.respond(c, req.Info, h.esc.Reclaim(c.Request.Context(), caller, req.Info))
}

func (h *Handler) handleRefund(c *gin.Context) {
	var req collectRequest
	caller, ok := h.bindSigned(c, "refund", &req, &req.Info)
	if !ok {
		return
	}
	err := h.esc.Refund(c.Request.Context(), caller, req.Info, req.Amount, req.Collector, req.CollectorData)
	h.respond(c, req.Info, err)
}

// ── Collectors / tokens ─────────────────────────────────────────────────────

func (h *Handler) handlePreApprove(c *gin.Context) {
	var req paymentRequest
	caller, ok := h.bindSigned(c, "preapprove", &req, &req.Info)
	if !ok {
		return
	}
	h.respond(c, req.Info, h.pre.PreApprove(c.Request.Context(), caller, req.Info))
}

func (h *Handler) handleApprove(c *gin.Context) {
	var req tokenRequest
	caller, ok := h.bindSigned(c, "approve", &req, nil)
	if !ok {
		return
	}
	if err := h.ledger.Approve(c.Request.Context(), req.Token, caller, req.Spender, req.Amount); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": caller.Hex(), "spender": req.Spender.Hex(), "amount": req.Amount.String()})
}

func (h *Handler) handleMint(c *gin.Context) {
	var req tokenRequest
	if _, ok := h.bindSigned(c, "mint", &req, nil); !ok {
		return
	}
	if err := h.ledger.Mint(c.Request.Context(), req.Token, req.To, req.Amount); err != nil {
		h.writeError(c, err)
		return
	}
	h.log.Warn("dev mint", zap.String("token", req.Token.Hex()), zap.String("to", req.To.Hex()), zap.String("amount", req.Amount.String()))
	c.JSON(http.StatusOK, gin.H{"to": req.To.Hex(), "amount": req.Amount.String()})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// bindSigned decodes the signed payload into v after checking the signed
// action. When info is given, the signed resource id must be its payment hash.
func (h *Handler) bindSigned(c *gin.Context, action string, v any, info *payment.Info) (common.Address, bool) {
	caller, ok := auth.Wallet(c)
	sr, ok2 := auth.Request(c)
	if !ok || !ok2 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return common.Address{}, false
	}
	if sr.Action != action {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "signed action mismatch"})
		return common.Address{}, false
	}
	if err := json.Unmarshal(sr.Payload, v); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return common.Address{}, false
	}
	if info != nil {
		want := h.esc.PaymentHash(*info).Hex()
		if !strings.EqualFold(sr.ResourceID, want) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "resource_id does not match payment hash"})
			return common.Address{}, false
		}
	}
	return caller, true
}

func (h *Handler) respond(c *gin.Context, info payment.Info, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	hash := h.esc.PaymentHash(info)
	st, err := h.esc.PaymentStateByHash(c.Request.Context(), hash)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stateResponse(hash, st))
}

func stateResponse(hash common.Hash, st payment.State) gin.H {
	return gin.H{
		"payment_hash":      hash.Hex(),
		"stage":             st.Stage(),
		"collected":         st.Collected,
		"capturable_amount": st.Capturable.String(),
		"refundable_amount": st.Refundable.String(),
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": codeFor(err)})
}

// StatusFor maps ledger, collector and token errors to HTTP statuses.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrInvalidSender),
		errors.Is(err, collector.ErrOnlyPayer):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrPaymentAlreadyCollected),
		errors.Is(err, collector.ErrAlreadyCollected):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrCollectorFailed),
		errors.Is(err, escrow.ErrTokenCollectionFailed),
		errors.Is(err, escrow.ErrTransferFailed):
		return http.StatusBadGateway
	case escrow.IsRejection(err),
		errors.Is(err, collector.ErrPreApprovalExpired),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrZeroAddress),
		errors.Is(err, token.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error) string {
	if c := escrow.Code(err); c != "internal" {
		return c
	}
	switch {
	case errors.Is(err, collector.ErrOnlyPayer):
		return "only_payer"
	case errors.Is(err, collector.ErrAlreadyCollected):
		return "payment_already_collected"
	case errors.Is(err, collector.ErrPreApprovalExpired):
		return "pre_approval_expired"
	case errors.Is(err, token.ErrInvalidAmount):
		return "invalid_amount"
	}
	return "internal"
}
