package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type counterStore struct {
	counts map[string]int64
	err    error
}

func (c *counterStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]++
	return c.counts[key], nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	store := &counterStore{counts: map[string]int64{}}
	policy := NewRateLimitPolicy("resolve", time.Minute, 2, ClientIP)
	h := RateLimit(policy, store, nil)(okHandler())

	codes := []int{}
	var last *httptest.ResponseRecorder
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/r/ABC", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	require.Equal(t, []int{200, 200, 429}, codes)
	require.Equal(t, "60", last.Header().Get("Retry-After"))
	require.Equal(t, int64(3), store.counts["rl:resolve:10.0.0.1"])
}

func TestRateLimitSeparatesSubjects(t *testing.T) {
	store := &counterStore{counts: map[string]int64{}}
	h := RateLimit(NewRateLimitPolicy("claim", time.Minute, 1, WorkerSubject), store, nil)(okHandler())

	for _, worker := range []string{"w1", "w2"} {
		req := httptest.NewRequest(http.MethodPost, "/claim", nil)
		req = req.WithContext(WithWorkerID(req.Context(), worker))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, worker)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	store := &counterStore{err: errors.New("unused")}
	h := RateLimit(NewRateLimitPolicy("resolve", time.Minute, 0, ClientIP), store, nil)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/r/ABC", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitSurfacesStoreFailure(t *testing.T) {
	store := &counterStore{err: errors.New("redis down")}
	h := RateLimit(NewRateLimitPolicy("resolve", time.Minute, 5, ClientIP), store, nil)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/r/ABC", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
	require.Equal(t, "203.0.113.9", ClientIP(req))
}
