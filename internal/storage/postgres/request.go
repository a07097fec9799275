package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dutyvia/market-api/internal/domain/request"
)

const (
	createRequestSQL = `INSERT INTO requests (requester_id, product_ref, product_name, brand, category, quantity, max_price, airport, meetup_location, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id, created_at, updated_at`

	getRequestSQL = `SELECT id, requester_id, product_ref, product_name, brand, category, quantity, max_price, airport, meetup_location, status, created_at, updated_at
	FROM requests WHERE id = $1`

	transitionRequestSQL = `UPDATE requests
	SET status = $2, updated_at = now()
	WHERE id = $1 AND status = ANY($3)`

	createMatchSQL = `INSERT INTO matches (request_id, traveler_id, status)
	VALUES ($1, $2, $3)
	RETURNING id, created_at`

	updateMatchStatusSQL = `UPDATE matches SET status = $2 WHERE id = $1`

	activeMatchSQL = `SELECT id, request_id, traveler_id, status, created_at
	FROM matches WHERE request_id = $1 AND status = 'accepted'`
)

// uniqueViolation is the PostgreSQL error code raised when the
// one-active-match-per-request index rejects a duplicate insert.
const uniqueViolation = "23505"

var _ request.Repository = (*RequestRepository)(nil)

// RequestRepository implements request.Repository backed by PostgreSQL.
type RequestRepository struct {
	pool *pgxpool.Pool
}

// NewRequestRepository returns a RequestRepository that uses the given pool.
func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

// Create persists a new request and fills in its generated id and timestamps.
func (r *RequestRepository) Create(ctx context.Context, req *request.Request) error {
	err := r.pool.QueryRow(ctx, createRequestSQL,
		req.RequesterID, req.ProductRef, req.ProductName, req.Brand, req.Category,
		req.Quantity, req.MaxPrice, req.Airport, req.MeetupLocation, string(req.Status),
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return nil
}

// Get loads a request by id.
func (r *RequestRepository) Get(ctx context.Context, id int64) (*request.Request, error) {
	var req request.Request
	var status string

	err := r.pool.QueryRow(ctx, getRequestSQL, id).Scan(
		&req.ID, &req.RequesterID, &req.ProductRef, &req.ProductName,
		&req.Brand, &req.Category, &req.Quantity, &req.MaxPrice,
		&req.Airport, &req.MeetupLocation, &status,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, request.ErrNotFound
		}
		return nil, fmt.Errorf("getting request %d: %w", id, err)
	}
	req.Status = request.Status(status)
	return &req, nil
}

// Transition conditionally moves the request's status. It reports whether a
// row was written: false means the current status was not among the expected
// sources, which callers treat as "already there or incompatible".
func (r *RequestRepository) Transition(ctx context.Context, id int64, from []request.Status, to request.Status) (bool, error) {
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}

	tag, err := r.pool.Exec(ctx, transitionRequestSQL, id, string(to), sources)
	if err != nil {
		return false, fmt.Errorf("transitioning request %d to %s: %w", id, to, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CreateMatch inserts a match row. The partial unique index on accepted
// matches turns a second concurrent accept into ErrAlreadyMatched.
func (r *RequestRepository) CreateMatch(ctx context.Context, m *request.Match) error {
	err := r.pool.QueryRow(ctx, createMatchSQL,
		m.RequestID, m.TravelerID, string(m.Status),
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return request.ErrAlreadyMatched
		}
		return fmt.Errorf("creating match for request %d: %w", m.RequestID, err)
	}
	return nil
}

// UpdateMatchStatus rewrites a match's status. Rejecting a match releases
// the partial unique index slot so the request can be matched again.
func (r *RequestRepository) UpdateMatchStatus(ctx context.Context, matchID int64, status request.MatchStatus) error {
	if _, err := r.pool.Exec(ctx, updateMatchStatusSQL, matchID, string(status)); err != nil {
		return fmt.Errorf("updating match %d to %s: %w", matchID, status, err)
	}
	return nil
}

// ActiveMatch returns the accepted match for a request, or ErrNotFound.
func (r *RequestRepository) ActiveMatch(ctx context.Context, requestID int64) (*request.Match, error) {
	var m request.Match
	var status string

	err := r.pool.QueryRow(ctx, activeMatchSQL, requestID).Scan(
		&m.ID, &m.RequestID, &m.TravelerID, &status, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, request.ErrNotFound
		}
		return nil, fmt.Errorf("getting active match for request %d: %w", requestID, err)
	}
	m.Status = request.MatchStatus(status)
	return &m, nil
}
