package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedHandler(cfg RateLimitConfig) http.Handler {
	return RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(t *testing.T, h http.Handler, remoteAddr string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_CountsDownThenBlocks(t *testing.T) {
	h := limitedHandler(RateLimitConfig{Max: 3, Window: time.Minute})

	wantRemaining := []string{"2", "1", "0"}
	for i := range 3 {
		w := hit(t, h, "10.0.0.1:1000", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, wantRemaining[i], w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := hit(t, h, "10.0.0.1:1000", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"ok":false`)
	assert.Contains(t, w.Body.String(), "too many requests")
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	h := limitedHandler(RateLimitConfig{Max: 1, Window: time.Minute})

	assert.Equal(t, http.StatusOK, hit(t, h, "10.0.0.1:1", nil).Code)
	assert.Equal(t, http.StatusOK, hit(t, h, "10.0.0.2:1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(t, h, "10.0.0.1:2", nil).Code)
}

func TestRateLimit_ForwardedForWinsOverRemoteAddr(t *testing.T) {
	h := limitedHandler(RateLimitConfig{Max: 1, Window: time.Minute})
	xff := map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}

	assert.Equal(t, http.StatusOK, hit(t, h, "192.168.1.1:1", xff).Code)
	// Different connection, same forwarded client: still limited.
	assert.Equal(t, http.StatusTooManyRequests, hit(t, h, "192.168.1.2:1", xff).Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	h := limitedHandler(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("X-User-ID")
		},
	})

	assert.Equal(t, http.StatusOK, hit(t, h, "10.0.0.1:1", map[string]string{"X-User-ID": "buyer-1"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(t, h, "10.0.0.9:1", map[string]string{"X-User-ID": "buyer-1"}).Code)
	assert.Equal(t, http.StatusOK, hit(t, h, "10.0.0.1:1", map[string]string{"X-User-ID": "buyer-2"}).Code)
}

func TestRateLimit_WindowReset(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()

	allowed, _, _ := l.take("client", now)
	require.True(t, allowed)
	allowed, _, _ = l.take("client", now)
	require.False(t, allowed)

	// Past the window boundary the counter starts fresh.
	allowed, remaining, _ := l.take("client", now.Add(time.Minute+time.Second))
	assert.True(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestRateLimit_SweepEvictsExpired(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()

	l.take("stale", now)
	l.take("fresh", now.Add(30*time.Second))
	l.sweep(now.Add(time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "stale")
	assert.Contains(t, l.clients, "fresh")
}
