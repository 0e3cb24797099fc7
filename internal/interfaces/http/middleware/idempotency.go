package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"referral-tracker.backend/pkg/logger"
	"referral-tracker.backend/pkg/redis"
)

const (
	IdempotencyHeader    = "Idempotency-Key"
	IdempotencyHitHeader = "X-Idempotency-Hit"
	// LockDuration is the time we hold the lock while processing
	LockDuration = 30 * time.Second
	// RetentionDuration is how long we keep the response
	RetentionDuration = 24 * time.Hour

	processingMarker = "processing"
)

var (
	redisEnabled = redis.Enabled
	redisGet     = redis.Get
	redisSet     = redis.Set
	redisSetNX   = redis.SetNX
	redisDel     = redis.Del
)

// storedResponse is what gets replayed for a repeated key
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware replays the first response for a repeated
// Idempotency-Key on the same route. Without Redis it does nothing, and
// Redis failures let the request through unprotected.
func IdempotencyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" || !redisEnabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		storageKey := "idempotency:" + c.FullPath() + ":" + key

		val, err := redisGet(ctx, storageKey)
		switch {
		case err == nil:
			replay(c, val)
			return
		case !redis.IsNil(err):
			logger.Warn(ctx, "Idempotency store unavailable", zap.Error(err))
			c.Next()
			return
		}

		acquired, err := redisSetNX(ctx, storageKey, processingMarker, LockDuration)
		if err != nil {
			logger.Warn(ctx, "Idempotency lock failed", zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			abortInProgress(c)
			return
		}

		w := &responseWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = w

		// a panicking handler still releases the key before Recovery answers 500
		defer func() {
			if rec := recover(); rec != nil {
				_ = redisDel(ctx, storageKey)
				panic(rec)
			}
		}()

		c.Next()

		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			// let the client retry
			_ = redisDel(ctx, storageKey)
			return
		}

		payload, err := json.Marshal(storedResponse{
			Status:      status,
			ContentType: c.Writer.Header().Get("Content-Type"),
			Body:        w.body.String(),
		})
		if err == nil {
			err = redisSet(ctx, storageKey, string(payload), RetentionDuration)
		}
		if err != nil {
			logger.Warn(ctx, "Failed to store idempotent response", zap.Error(err))
			_ = redisDel(ctx, storageKey)
		}
	}
}

func replay(c *gin.Context, val string) {
	if val == processingMarker {
		abortInProgress(c)
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		logger.Warn(c.Request.Context(), "Discarding unreadable idempotent response", zap.Error(err))
		c.Next()
		return
	}

	contentType := stored.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Header(IdempotencyHitHeader, "true")
	c.Data(stored.Status, contentType, []byte(stored.Body))
	c.Abort()
}

func abortInProgress(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "Request already in progress"})
}
