package payment

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dutyvia/market-api/internal/domain/order"
	"github.com/dutyvia/market-api/internal/domain/request"
)

// --- Mock implementations ---

// casOrderRepo mimics the database's conditional updates: every status
// mutation checks the current state under a lock, exactly like the
// WHERE-guarded UPDATEs in the real repository.
type casOrderRepo struct {
	mu sync.Mutex
	o  *order.Order

	markPaidHits int
	confirmHits  int
	markPaidErr  error
}

func (m *casOrderRepo) Create(_ context.Context, _ *order.Order) error { return nil }

func (m *casOrderRepo) CreateLines(_ context.Context, _ string, _ []order.OrderLine) error {
	return nil
}

func (m *casOrderRepo) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.o == nil || m.o.ID != id {
		return nil, order.ErrNotFound
	}
	snapshot := *m.o
	return &snapshot, nil
}

func (m *casOrderRepo) SetSession(_ context.Context, id, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.o == nil || m.o.ID != id || m.o.PaymentStatus == order.PaymentPaid {
		return false, nil
	}
	m.o.SessionID = sessionID
	m.o.PaymentStatus = order.PaymentPending
	return true, nil
}

func (m *casOrderRepo) MarkPaid(_ context.Context, id, sessionID, paymentIntentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markPaidErr != nil {
		return false, m.markPaidErr
	}
	if m.o == nil || m.o.ID != id || m.o.PaymentStatus == order.PaymentPaid {
		return false, nil
	}
	m.o.PaymentStatus = order.PaymentPaid
	if sessionID != "" {
		m.o.SessionID = sessionID
	}
	if paymentIntentID != "" {
		m.o.PaymentIntentID = paymentIntentID
	}
	m.markPaidHits++
	return true, nil
}

func (m *casOrderRepo) Confirm(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.o == nil || m.o.ID != id || m.o.Status != order.StatusCreated {
		return false, nil
	}
	m.o.Status = order.StatusConfirmed
	m.confirmHits++
	return true, nil
}

func (m *casOrderRepo) Cancel(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.o == nil || m.o.ID != id || m.o.Status != order.StatusCreated || m.o.PaymentStatus == order.PaymentPaid {
		return false, nil
	}
	m.o.Status = order.StatusCancelled
	return true, nil
}

type casRequestRepo struct {
	mu     sync.Mutex
	status map[int64]request.Status
	err    error
	hits   int
}

func (m *casRequestRepo) Create(_ context.Context, _ *request.Request) error { return nil }

func (m *casRequestRepo) Get(_ context.Context, id int64) (*request.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.status[id]
	if !ok {
		return nil, request.ErrNotFound
	}
	return &request.Request{ID: id, Status: s}, nil
}

func (m *casRequestRepo) Transition(_ context.Context, id int64, from []request.Status, to request.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	cur, ok := m.status[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if cur == f {
			m.status[id] = to
			m.hits++
			return true, nil
		}
	}
	return false, nil
}

func (m *casRequestRepo) CreateMatch(_ context.Context, _ *request.Match) error { return nil }

func (m *casRequestRepo) UpdateMatchStatus(_ context.Context, _ int64, _ request.MatchStatus) error {
	return nil
}

func (m *casRequestRepo) ActiveMatch(_ context.Context, _ int64) (*request.Match, error) {
	return nil, request.ErrNotFound
}

type mockProvider struct {
	status SessionStatus
	err    error
	calls  int
}

func (m *mockProvider) SessionStatus(_ context.Context, _ string) (SessionStatus, error) {
	m.calls++
	return m.status, m.err
}

// --- Helpers ---

func ptr[T any](v T) *T { return &v }

func pendingOrder(requestID *int64) *order.Order {
	return &order.Order{
		ID:            "o1",
		BuyerID:       "buyer-1",
		RequestID:     requestID,
		Status:        order.StatusCreated,
		PaymentStatus: order.PaymentPending,
		SessionID:     "cs_123",
	}
}

// --- Tests ---

func TestReconcile_OrderNotFoundIsSoft(t *testing.T) {
	r := NewReconciler(&casOrderRepo{}, &casRequestRepo{}, &mockProvider{}, nil)

	out, err := r.Reconcile(context.Background(), "missing")

	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, out.Status)
	assert.NotEmpty(t, out.Warnings)
}

func TestReconcile_NoSessionIsUnknown(t *testing.T) {
	repo := &casOrderRepo{o: &order.Order{
		ID:            "o1",
		Status:        order.StatusCreated,
		PaymentStatus: order.PaymentUnpaid,
	}}
	provider := &mockProvider{}
	r := NewReconciler(repo, &casRequestRepo{}, provider, nil)

	out, err := r.Reconcile(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, out.Status)
	assert.Zero(t, provider.calls)
}

func TestReconcile_CompletedPayment(t *testing.T) {
	repo := &casOrderRepo{o: pendingOrder(ptr(int64(7)))}
	reqRepo := &casRequestRepo{status: map[int64]request.Status{7: request.StatusPaymentPending}}
	r := NewReconciler(repo, reqRepo, &mockProvider{status: SessionCompleted}, nil)

	out, err := r.Reconcile(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.Status)
	assert.Empty(t, out.Warnings)
	assert.Equal(t, order.PaymentPaid, repo.o.PaymentStatus)
	assert.Equal(t, order.StatusConfirmed, repo.o.Status)
	assert.Equal(t, request.StatusPaid, reqRepo.status[7])
}

func TestReconcile_Idempotent(t *testing.T) {
	repo := &casOrderRepo{o: pendingOrder(ptr(int64(7)))}
	reqRepo := &casRequestRepo{status: map[int64]request.Status{7: request.StatusPaymentPending}}
	provider := &mockProvider{status: SessionCompleted}
	r := NewReconciler(repo, reqRepo, provider, nil)

	first, err := r.Reconcile(context.Background(), "o1")
	require.NoError(t, err)

	second, err := r.Reconcile(context.Background(), "o1")
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, 1, repo.markPaidHits)
	assert.Equal(t, 1, repo.confirmHits)
	// The second call short-circuits on the already-paid read and never
	// queries the processor again.
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, order.PaymentPaid, repo.o.PaymentStatus)
}

func TestReconcile_ConcurrentCallsConvergeOnce(t *testing.T) {
	repo := &casOrderRepo{o: pendingOrder(ptr(int64(7)))}
	reqRepo := &casRequestRepo{status: map[int64]request.Status{7: request.StatusPaymentPending}}
	r := NewReconciler(repo, reqRepo, &mockProvider{status: SessionCompleted}, nil)

	const n = 16
	var wg sync.WaitGroup
	results := make([]*Outcome, n)
	errs := make([]error, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = r.Reconcile(context.Background(), "o1")
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, StatusPaid, results[i].Status)
	}
	assert.Equal(t, 1, repo.markPaidHits, "paid transition must fire exactly once")
	assert.Equal(t, order.PaymentPaid, repo.o.PaymentStatus)
	assert.Equal(t, order.StatusConfirmed, repo.o.Status)
}

func TestReconcile_PendingIsNotAnError(t *testing.T) {
	repo := &casOrderRepo{o: pendingOrder(nil)}
	r := NewReconciler(repo, &casRequestRepo{}, &mockProvider{status: SessionPending}, nil)

	out, err := r.Reconcile(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, StatusPending, out.Status)
	assert.Equal(t, order.PaymentPending, repo.o.PaymentStatus)
}

func TestReconcile_UpstreamUnavailableWritesNothing(t *testing.T) {
	repo := &casOrderRepo{o: pendingOrder(ptr(int64(7)))}
	reqRepo := &casRequestRepo{status: map[int64]request.Status{7: request.StatusPaymentPending}}
	provider := &mockProvider{err: errors.Wrap(ErrUpstreamUnavailable, "timeout")}
	r := NewReconciler(repo, reqRepo, provider, nil)

	_, err := r.Reconcile(context.Background(), "o1")

	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, order.PaymentPending, repo.o.PaymentStatus)
	assert.Equal(t, request.StatusPaymentPending, reqRepo.status[7])

	// A later call with a reachable processor still converges.
	provider.err = nil
	provider.status = SessionCompleted
	out, err := r.Reconcile(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.Status)
	assert.Equal(t, order.PaymentPaid, repo.o.PaymentStatus)
}

func TestReconcile_RequestWriteFailureIsWarning(t *testing.T) {
	repo := &casOrderRepo{o: pendingOrder(ptr(int64(7)))}
	reqRepo := &casRequestRepo{
		status: map[int64]request.Status{7: request.StatusPaymentPending},
		err:    errors.New("db down"),
	}
	r := NewReconciler(repo, reqRepo, &mockProvider{status: SessionCompleted}, nil)

	out, err := r.Reconcile(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.Status)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "request update warning")
	// The order write succeeded and is never rolled back.
	assert.Equal(t, order.PaymentPaid, repo.o.PaymentStatus)
}

func TestReconcile_AlreadyPaidRepairsLaggingRequest(t *testing.T) {
	repo := &casOrderRepo{o: &order.Order{
		ID:            "o1",
		RequestID:     ptr(int64(7)),
		Status:        order.StatusConfirmed,
		PaymentStatus: order.PaymentPaid,
		SessionID:     "cs_123",
	}}
	reqRepo := &casRequestRepo{status: map[int64]request.Status{7: request.StatusPaymentPending}}
	provider := &mockProvider{}
	r := NewReconciler(repo, reqRepo, provider, nil)

	out, err := r.Reconcile(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.Status)
	assert.Zero(t, provider.calls)
	assert.Equal(t, request.StatusPaid, reqRepo.status[7])
}

func TestApplyCompleted_RecordsPaymentRefs(t *testing.T) {
	repo := &casOrderRepo{o: pendingOrder(ptr(int64(7)))}
	reqRepo := &casRequestRepo{status: map[int64]request.Status{7: request.StatusAccepted}}
	r := NewReconciler(repo, reqRepo, &mockProvider{}, nil)

	out, err := r.ApplyCompleted(context.Background(), "o1", "cs_456", "pi_789")

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.Status)
	assert.Equal(t, "cs_456", repo.o.SessionID)
	assert.Equal(t, "pi_789", repo.o.PaymentIntentID)
	assert.Equal(t, request.StatusPaid, reqRepo.status[7])
}

func TestApplyCompleted_ThenPollShortCircuits(t *testing.T) {
	repo := &casOrderRepo{o: pendingOrder(nil)}
	provider := &mockProvider{status: SessionCompleted}
	r := NewReconciler(repo, &casRequestRepo{}, provider, nil)

	// Webhook wins the race.
	_, err := r.ApplyCompleted(context.Background(), "o1", "cs_123", "pi_1")
	require.NoError(t, err)

	// The later client poll observes paid without any further side effect.
	out, err := r.Reconcile(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.Status)
	assert.Zero(t, provider.calls)
	assert.Equal(t, 1, repo.markPaidHits)
}

func TestApplyCompleted_UnknownOrderIsSoft(t *testing.T) {
	r := NewReconciler(&casOrderRepo{}, &casRequestRepo{}, &mockProvider{}, nil)

	out, err := r.ApplyCompleted(context.Background(), "missing", "cs_1", "pi_1")

	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, out.Status)
}

func TestReconcile_OrderWriteFailureIsWarningNotError(t *testing.T) {
	repo := &casOrderRepo{o: pendingOrder(nil), markPaidErr: errors.New("db down")}
	r := NewReconciler(repo, &casRequestRepo{}, &mockProvider{status: SessionCompleted}, nil)

	out, err := r.Reconcile(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.Status)
	require.NotEmpty(t, out.Warnings)
	assert.Contains(t, out.Warnings[0], "order update warning")
}
