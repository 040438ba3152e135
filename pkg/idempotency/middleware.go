package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderIdempotencyKey is the HTTP header for idempotency key
	HeaderIdempotencyKey = "Idempotency-Key"

	// DefaultTTL is how long a completed response is replayed
	DefaultTTL = 24 * time.Hour

	maxKeyLength = 255
	maxBodySize  = 1 << 20
)

var (
	ErrEmptyKey   = errors.New("idempotency key is empty")
	ErrKeyTooLong = errors.New("idempotency key exceeds 255 characters")
)

// responseWriter wraps gin.ResponseWriter to capture response
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// ValidateKey checks the header value
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > maxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// HashRequest fingerprints a request body
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Middleware replays the stored response for a repeated Idempotency-Key.
// Keys are scoped by scopeKey (for example the authenticated account) so two
// callers cannot collide. Requests without the header pass through.
// Server errors release the key so the client may retry.
func Middleware(store Store, scopeKey string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if err := ValidateKey(key); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":       "INVALID_IDEMPOTENCY_KEY",
				"message":    err.Error(),
				"request_id": c.GetString("request_id"),
			})
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":       "INVALID_REQUEST",
				"message":    "Failed to read request body",
				"request_id": c.GetString("request_id"),
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		scoped := c.Request.Method + " " + c.FullPath() + " " + c.GetString(scopeKey) + " " + key
		rec := &Record{
			Key:         scoped,
			RequestHash: HashRequest(body),
			Pending:     true,
			CreatedAt:   time.Now().UTC(),
		}

		existing, err := store.Reserve(ctx, rec, DefaultTTL)
		if err != nil {
			// fail open
			logger.Error("Failed to reserve idempotency key", zap.String("idempotency_key", key), zap.Error(err))
			c.Next()
			return
		}
		if existing != nil {
			replay(c, existing, rec.RequestHash, key, logger)
			return
		}

		writer := &responseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = writer
		c.Next()

		status := writer.Status()
		if status >= http.StatusInternalServerError {
			if err := store.Release(ctx, scoped); err != nil {
				logger.Warn("Failed to release idempotency key", zap.String("idempotency_key", key), zap.Error(err))
			}
			return
		}

		rec.Pending = false
		rec.Status = status
		rec.Body = writer.body.Bytes()
		if err := store.Complete(ctx, rec, DefaultTTL); err != nil {
			logger.Error("Failed to store idempotent response", zap.String("idempotency_key", key), zap.Error(err))
		}
	}
}

func replay(c *gin.Context, existing *Record, requestHash, key string, logger *zap.Logger) {
	switch {
	case existing.RequestHash != requestHash:
		logger.Warn("Idempotency key reused with a different body", zap.String("idempotency_key", key))
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"code":       "IDEMPOTENCY_KEY_MISMATCH",
			"message":    "Idempotency key was used with a different request body",
			"request_id": c.GetString("request_id"),
		})
	case existing.Pending:
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"code":       "REQUEST_IN_PROGRESS",
			"message":    "A request with this idempotency key is still in progress",
			"request_id": c.GetString("request_id"),
		})
	default:
		logger.Info("Replaying idempotent response", zap.String("idempotency_key", key), zap.Int("status", existing.Status))
		c.Header("Idempotent-Replayed", "true")
		c.Data(existing.Status, "application/json; charset=utf-8", existing.Body)
		c.Abort()
	}
}
