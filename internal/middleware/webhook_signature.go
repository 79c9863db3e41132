package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/response"
)

// SignatureHeader carries "ts=<unix seconds>,v1=<hex hmac>".
const SignatureHeader = "x-signature"

// DefaultSignatureSkew bounds the accepted age of a signed notification.
const DefaultSignatureSkew = 300 * time.Second

const maxWebhookBody = 1 << 20

var requiredWebhookFields = []string{"action", "api_version", "data", "date_created", "id", "live_mode", "type", "user_id"}

// WebhookSignatureConfig configures WebhookSignature.
type WebhookSignatureConfig struct {
	Secret string
	// Strict rejects every notification when Secret is empty.
	Strict  bool
	MaxSkew time.Duration
	Logger  *zap.Logger
	Now     func() time.Time
}

// SignWebhookPayload returns the hex HMAC-SHA256 of "<ts>.<body>".
func SignWebhookPayload(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookSignature authenticates gateway notifications. The raw body is kept
// on the request so handlers can bind it afterwards.
func WebhookSignature(cfg WebhookSignatureConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	skew := cfg.MaxSkew
	if skew <= 0 {
		skew = DefaultSignatureSkew
	}

	if cfg.Secret == "" {
		if cfg.Strict {
			logger.Error("webhook secret missing, every notification will be rejected")
		} else {
			logger.Warn("webhook signatures are not verified, configure MP_WEBHOOK_SECRET")
		}
	}

	return func(c *gin.Context) {
		if cfg.Secret == "" {
			if cfg.Strict {
				response.Error(c, appErrors.Clone(appErrors.ErrInvalidSignature, "webhook secret not configured"))
				return
			}
			c.Next()
			return
		}

		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrInvalidSignature, "unreadable webhook body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		c.Set(gin.BodyBytesKey, raw)

		reject := func(reason string) {
			logger.Warn("webhook rejected", zap.String("reason", reason), zap.String("ip", c.ClientIP()))
			response.Error(c, appErrors.ErrInvalidSignature)
		}

		if err := checkWebhookBody(raw); err != nil {
			reject(err.Error())
			return
		}

		ts, signature, err := parseSignatureHeader(c.GetHeader(SignatureHeader))
		if err != nil {
			reject(err.Error())
			return
		}
		received, err := hex.DecodeString(signature)
		if err != nil {
			reject("signature is not hex")
			return
		}
		expected, _ := hex.DecodeString(SignWebhookPayload(cfg.Secret, ts, raw))
		if !hmac.Equal(received, expected) {
			reject("signature mismatch")
			return
		}

		if diff := math.Abs(float64(now().Unix() - ts)); diff > skew.Seconds() {
			reject(fmt.Sprintf("timestamp outside window: %.0fs", diff))
			return
		}

		c.Next()
	}
}

func parseSignatureHeader(header string) (int64, string, error) {
	if strings.TrimSpace(header) == "" {
		return 0, "", fmt.Errorf("missing %s header", SignatureHeader)
	}
	var tsRaw, v1 string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			tsRaw = value
		case "v1":
			v1 = value
		}
	}
	if tsRaw == "" || v1 == "" {
		return 0, "", fmt.Errorf("invalid %s format", SignatureHeader)
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil || ts <= 0 {
		return 0, "", fmt.Errorf("invalid signature timestamp")
	}
	return ts, v1, nil
}

func checkWebhookBody(raw []byte) error {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("body is not a JSON object")
	}
	var missing []string
	for _, field := range requiredWebhookFields {
		if _, ok := body[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields %s", strings.Join(missing, ", "))
	}

	var data struct {
		ID interface{} `json:"id"`
	}
	if err := json.Unmarshal(body["data"], &data); err != nil {
		return fmt.Errorf("data must be an object")
	}
	if id, ok := data.ID.(string); !ok || id == "" {
		return fmt.Errorf("data.id must be a string")
	}

	var kind string
	if err := json.Unmarshal(body["type"], &kind); err != nil || kind == "" {
		return fmt.Errorf("type must be a non-empty string")
	}
	var liveMode bool
	if err := json.Unmarshal(body["live_mode"], &liveMode); err != nil {
		return fmt.Errorf("live_mode must be a boolean")
	}
	var userID interface{}
	if err := json.Unmarshal(body["user_id"], &userID); err != nil {
		return fmt.Errorf("user_id must be a string or number")
	}
	switch userID.(type) {
	case string, float64:
	default:
		return fmt.Errorf("user_id must be a string or number")
	}
	return nil
}
