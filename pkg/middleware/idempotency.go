package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/waitroomlab/waitroom/pkg/response"
)

const (
	// IdempotencyKeyHeader carries the client-chosen idempotency key
	IdempotencyKeyHeader = "X-Idempotency-Key"

	idempotencyKeyPrefix = "wr:idem:"
)

// idempotencyStatus is the lifecycle of one idempotent request
type idempotencyStatus string

const (
	statusProcessing idempotencyStatus = "processing"
	statusCompleted  idempotencyStatus = "completed"
)

// idempotencyRecord is the stored state of one idempotent request
type idempotencyRecord struct {
	Key          string            `json:"key"`
	Status       idempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code"`
	ResponseBody string            `json:"response_body"`
	CreatedAt    time.Time         `json:"created_at"`
}

// IdempotencyRedis is the subset of redis operations the middleware needs
type IdempotencyRedis interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// IdempotencyConfig tunes the idempotency middleware
type IdempotencyConfig struct {
	Redis IdempotencyRedis
	// TTL for completed records (default 24h)
	TTL time.Duration
	// ProcessingTTL bounds how long an in-flight record blocks retries,
	// so a crashed request does not wedge its key (default 60s)
	ProcessingTTL time.Duration
}

// Idempotency makes mutating admin requests safe to retry. A request
// carrying X-Idempotency-Key is executed once; retries with the same
// key and body replay the stored response, and reusing a key with a
// different body is rejected. Requests without the header pass through
// untouched. Redis outages fail open: the request runs without the
// replay guarantee.
func Idempotency(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.ProcessingTTL <= 0 {
		cfg.ProcessingTTL = 60 * time.Second
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" || !mutating(c.Request.Method) {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		}
		hash := requestHash(c.Request.Method, c.Request.URL.Path, body)

		ctx := c.Request.Context()
		redisKey := idempotencyKeyPrefix + key

		existing, err := getRecord(ctx, cfg.Redis, redisKey)
		if err != nil && !errors.Is(err, redis.Nil) {
			c.Next()
			return
		}
		if existing == nil {
			record := &idempotencyRecord{
				Key:         key,
				Status:      statusProcessing,
				RequestHash: hash,
				CreatedAt:   time.Now(),
			}
			if !claimKey(ctx, cfg.Redis, redisKey, record, cfg.ProcessingTTL) {
				// lost the claim race, re-read whoever won
				existing, _ = getRecord(ctx, cfg.Redis, redisKey)
			}
			if existing == nil {
				capture := &captureWriter{ResponseWriter: c.Writer, body: bytes.NewBuffer(nil)}
				c.Writer = capture
				c.Next()

				record.Status = statusCompleted
				record.ResponseCode = capture.status
				record.ResponseBody = capture.body.String()
				storeRecord(ctx, cfg.Redis, redisKey, record, cfg.TTL)
				return
			}
		}

		if existing.RequestHash != hash {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity,
				errorBody("IDEMPOTENCY_KEY_REUSED", "idempotency key was already used with a different request"))
			return
		}
		if existing.Status == statusProcessing {
			c.AbortWithStatusJSON(http.StatusConflict,
				errorBody("REQUEST_IN_PROGRESS", "a request with this idempotency key is still being processed"))
			return
		}

		c.Data(existing.ResponseCode, "application/json", []byte(existing.ResponseBody))
		c.Abort()
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func errorBody(code, message string) response.Response {
	return response.Response{
		Success: false,
		Error:   &response.ErrorData{Code: code, Message: message},
	}
}

// captureWriter records the response so it can be replayed on retry
type captureWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func getRecord(ctx context.Context, client IdempotencyRedis, key string) (*idempotencyRecord, error) {
	raw, err := client.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func claimKey(ctx context.Context, client IdempotencyRedis, key string, record *idempotencyRecord, ttl time.Duration) bool {
	data, err := json.Marshal(record)
	if err != nil {
		return false
	}
	ok, err := client.SetNX(ctx, key, string(data), ttl).Result()
	return err == nil && ok
}

func storeRecord(ctx context.Context, client IdempotencyRedis, key string, record *idempotencyRecord, ttl time.Duration) {
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	client.Set(ctx, key, string(data), ttl)
}
