package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysOK(_ context.Context) error { return nil }

func alwaysErr(msg string) CheckFunc {
	return func(_ context.Context) error { return errors.New(msg) }
}

func decode(t *testing.T, w *httptest.ResponseRecorder) probeReport {
	t.Helper()
	var report probeReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	return report
}

func serveLive(h *Health) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	return w
}

func serveReady(h *Health) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	return w
}

func TestLivez_AllPassing(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, alwaysOK)

	w := serveLive(h)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode(t, w).Status)
}

func TestLivez_FailsAfterStreak(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, alwaysErr("leak"))
	p := h.probes[0]

	ctx := context.Background()
	for range failStreak {
		p.observe(ctx)
	}

	w := serveLive(h)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	report := decode(t, w)
	assert.Equal(t, "failing", report.Status)
	assert.Equal(t, "leak", report.Failing["goroutines"])
}

func TestLivez_BelowStreakStaysHealthy(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, alwaysErr("blip"))
	p := h.probes[0]

	ctx := context.Background()
	for range failStreak - 1 {
		p.observe(ctx)
	}

	assert.Equal(t, http.StatusOK, serveLive(h).Code)
}

func TestProbe_RecoversOnFirstSuccess(t *testing.T) {
	down := true
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(_ context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	p := h.probes[0]
	ctx := context.Background()

	for range failStreak {
		p.observe(ctx)
	}
	_, bad := p.failure()
	require.True(t, bad)

	down = false
	p.observe(ctx)
	_, bad = p.failure()
	assert.False(t, bad)
}

func TestReadyz_GatedOnSetReady(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, alwaysOK)

	w := serveReady(h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w).Failing, "service")

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serveReady(h).Code)

	// Shutdown drains by closing the gate again.
	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, serveReady(h).Code)
}

func TestReadyz_ReportsOnlyFailingProbes(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, alwaysOK)
	h.AddReadinessCheck("stripe", time.Second, alwaysErr("connect timeout"))
	h.SetReady(true)

	ctx := context.Background()
	for range failStreak {
		h.probes[1].observe(ctx)
	}

	w := serveReady(h)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	report := decode(t, w)
	assert.Contains(t, report.Failing, "stripe")
	assert.NotContains(t, report.Failing, "postgres")
}

func TestReadyz_LivenessFailureDoesNotAffectReadiness(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, alwaysErr("leak"))
	h.AddReadinessCheck("postgres", time.Second, alwaysOK)
	h.SetReady(true)

	ctx := context.Background()
	for range failStreak {
		h.probes[0].observe(ctx)
	}

	assert.Equal(t, http.StatusServiceUnavailable, serveLive(h).Code)
	assert.Equal(t, http.StatusOK, serveReady(h).Code)
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, alwaysOK)

	h.Start(context.Background(), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentObserveAndServe(t *testing.T) {
	h := New()
	h.AddLivenessCheck("flaky", time.Second, alwaysErr("err"))
	h.AddReadinessCheck("postgres", time.Second, alwaysOK)
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				serveLive(h)
				serveReady(h)
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit 0")
}
