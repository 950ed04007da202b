package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"taximeter/internal/logger"
)

const (
	idempotencyHeader   = "Idempotency-Key"
	replayedHeader      = "Idempotent-Replayed"
	idempotencyTTL      = 24 * time.Hour
	idempotencyKeySpace = "idempotency:"
)

// cachedResponse stores the response for idempotent requests.
type cachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// replayStore keeps captured responses in Redis, keyed by route and client key.
type replayStore struct {
	client *redis.Client
	ttl    time.Duration
}

func (s replayStore) key(r *http.Request, clientKey string) string {
	return idempotencyKeySpace + r.Method + ":" + r.URL.Path + ":" + clientKey
}

// lookup returns nil without error when nothing was stored under key.
func (s replayStore) lookup(ctx context.Context, key string) (*cachedResponse, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (s replayStore) save(ctx context.Context, key string, response *cachedResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

// IdempotencyMiddleware replays the stored response of a mutating request
// whose Idempotency-Key was already seen on the same route.
func IdempotencyMiddleware(redisClient *redis.Client, log *logger.Logger) gin.HandlerFunc {
	store := replayStore{client: redisClient, ttl: idempotencyTTL}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}

		clientKey := c.GetHeader(idempotencyHeader)
		if clientKey == "" || redisClient == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := store.key(c.Request, clientKey)

		cached, err := store.lookup(ctx, key)
		if err != nil {
			log.WithError(err).Warn("Idempotency lookup failed")
			c.Next()
			return
		}
		if cached != nil {
			replay(c, cached)
			return
		}

		w := &responseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w

		c.Next()

		// 5xx responses are not stored so the client can retry.
		status := w.Status()
		if status < http.StatusOK || status >= http.StatusInternalServerError {
			return
		}
		response := &cachedResponse{StatusCode: status, Body: w.body.Bytes(), Headers: make(http.Header)}
		if ct := w.Header().Get("Content-Type"); ct != "" {
			response.Headers.Set("Content-Type", ct)
		}
		if err := store.save(ctx, key, response); err != nil {
			log.WithError(err).Warn("Failed to store idempotent response")
		}
	}
}

func replay(c *gin.Context, cached *cachedResponse) {
	for k, v := range cached.Headers {
		for _, val := range v {
			c.Header(k, val)
		}
	}
	c.Header(replayedHeader, "true")
	if len(cached.Body) == 0 || string(cached.Body) == "null" {
		c.AbortWithStatus(cached.StatusCode)
		return
	}
	c.Data(cached.StatusCode, cached.Headers.Get("Content-Type"), cached.Body)
	c.Abort()
}
