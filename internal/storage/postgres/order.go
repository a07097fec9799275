package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dutyvia/market-api/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, buyer_id, request_id, subtotal, commission, total, status, payment_status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	createOrderLineSQL = `INSERT INTO order_items (order_id, product_ref, product_name, unit_price, quantity, line_subtotal, line_commission)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getOrderSQL = `SELECT id, buyer_id, request_id, subtotal, commission, total, status, payment_status, session_id, payment_intent_id, created_at, updated_at
	FROM orders WHERE id = $1`

	getOrderLinesSQL = `SELECT order_id, product_ref, product_name, unit_price, quantity, line_subtotal, line_commission
	FROM order_items WHERE order_id = $1 ORDER BY id`

	// A new session supersedes any prior one, but never on a paid order.
	setSessionSQL = `UPDATE orders
	SET session_id = $2, payment_status = 'payment_pending', updated_at = now()
	WHERE id = $1 AND payment_status IN ('unpaid', 'payment_pending')`

	// Monotonic: paid never regresses, and repeated marks are no-ops.
	markPaidSQL = `UPDATE orders
	SET payment_status = 'paid',
	    session_id = CASE WHEN $2 <> '' THEN $2 ELSE session_id END,
	    payment_intent_id = CASE WHEN $3 <> '' THEN $3 ELSE payment_intent_id END,
	    updated_at = now()
	WHERE id = $1 AND payment_status IN ('unpaid', 'payment_pending')`

	confirmOrderSQL = `UPDATE orders
	SET status = 'confirmed', updated_at = now()
	WHERE id = $1 AND status = 'created'`

	cancelOrderSQL = `UPDATE orders
	SET status = 'cancelled', updated_at = now()
	WHERE id = $1 AND status = 'created' AND payment_status <> 'paid'`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order row. Line items are persisted separately by
// CreateLines; the two are independent saga steps, not one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.BuyerID, o.RequestID, o.Subtotal, o.Commission, o.Total,
		string(o.Status), string(o.PaymentStatus),
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// CreateLines persists the order's line items in one batch.
func (r *OrderRepository) CreateLines(ctx context.Context, orderID string, lines []order.OrderLine) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(createOrderLineSQL,
			orderID, l.ProductRef, l.ProductName, l.UnitPrice, l.Quantity,
			l.LineSubtotal, l.LineCommission,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range lines {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("creating order items for %q: %w", orderID, err)
		}
	}
	return nil
}

// Get loads an order with its line items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	var status, paymentStatus string

	err := r.pool.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.BuyerID, &o.RequestID, &o.Subtotal, &o.Commission, &o.Total,
		&status, &paymentStatus, &o.SessionID, &o.PaymentIntentID,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)

	rows, err := r.pool.Query(ctx, getOrderLinesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order items for %q: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var l order.OrderLine
		if err := rows.Scan(
			&l.OrderID, &l.ProductRef, &l.ProductName, &l.UnitPrice,
			&l.Quantity, &l.LineSubtotal, &l.LineCommission,
		); err != nil {
			return nil, fmt.Errorf("scanning order item: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading order items: %w", err)
	}

	return &o, nil
}

// SetSession conditionally records the checkout session id.
func (r *OrderRepository) SetSession(ctx context.Context, id, sessionID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, setSessionSQL, id, sessionID)
	if err != nil {
		return false, fmt.Errorf("setting session on order %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkPaid conditionally moves the order's payment status to paid.
func (r *OrderRepository) MarkPaid(ctx context.Context, id, sessionID, paymentIntentID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, markPaidSQL, id, sessionID, paymentIntentID)
	if err != nil {
		return false, fmt.Errorf("marking order %q paid: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Confirm conditionally moves the order's fulfillment status to confirmed.
func (r *OrderRepository) Confirm(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, confirmOrderSQL, id)
	if err != nil {
		return false, fmt.Errorf("confirming order %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel conditionally terminalizes an unpaid order.
func (r *OrderRepository) Cancel(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, cancelOrderSQL, id)
	if err != nil {
		return false, fmt.Errorf("cancelling order %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
