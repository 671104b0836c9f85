package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
// Payload carries the operation body, so the body is covered by the signature.
type SignedRequest struct {
	Action     string          `json:"action"`
	ExpiresAt  int64           `json:"expires_at"`
	Nonce      string          `json:"nonce"`
	Payload    json.RawMessage `json:"payload"`
	ResourceID string          `json:"resource_id"`
}

// Context keys set by Middleware.
const (
	WalletKey  = "wallet_address"
	RequestKey = "signed_request"
)

const maxFutureWindow = 5 * time.Minute

// Verifier checks wallet signatures on incoming requests.
type Verifier struct {
	rdb *redis.Client
	now func() time.Time
}

func NewVerifier(rdb *redis.Client) *Verifier {
	return &Verifier{rdb: rdb, now: time.Now}
}

func (v *Verifier) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	v.now = now
}

// Middleware validates EIP-191 wallet signatures and burns the request nonce.
// Handlers read the signer with Wallet and the signed body with Request.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		walletAddr := c.GetHeader("X-Wallet-Address")
		signedMsgB64 := c.GetHeader("X-Signed-Message")
		sigHex := c.GetHeader("X-Wallet-Signature")

		if walletAddr == "" || signedMsgB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}
		if !common.IsHexAddress(walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Wallet-Address"})
			return
		}

		msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Signed-Message encoding"})
			return
		}

		var req SignedRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signed message JSON"})
			return
		}
		if req.Nonce == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing nonce"})
			return
		}

		now := v.now().Unix()
		if req.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}
		recovered, err := Recover(msgBytes, sig)
		if err != nil || recovered != common.HexToAddress(walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		// Nonces are scoped to the wallet so one signer cannot burn another's.
		nonceKey := "escrow:nonce:" + strings.ToLower(recovered.Hex()) + ":" + req.Nonce
		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		set, err := v.rdb.SetNX(c.Request.Context(), nonceKey, 1, ttl).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !set {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
			return
		}

		c.Set(WalletKey, recovered)
		c.Set(RequestKey, &req)
		c.Next()
	}
}

// Wallet returns the authenticated signer.
func Wallet(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(WalletKey)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

// Request returns the verified signed request.
func Request(c *gin.Context) (*SignedRequest, bool) {
	v, ok := c.Get(RequestKey)
	if !ok {
		return nil, false
	}
	req, ok := v.(*SignedRequest)
	return req, ok
}
