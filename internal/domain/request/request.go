// Package request models a buyer's standing ask for a product and the
// traveler match bound to it. Request.Status is the authoritative lifecycle
// field; a Match only records which traveler accepted and is never consulted
// for lifecycle decisions.
package request

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusOpen           Status = "open"
	StatusAccepted       Status = "accepted"
	StatusPaymentPending Status = "payment_pending"
	StatusPaid           Status = "paid"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// transitions is the legal state graph. Absent entries are illegal moves.
var transitions = map[Status][]Status{
	StatusOpen:           {StatusAccepted, StatusCancelled},
	StatusAccepted:       {StatusPaymentPending, StatusCancelled},
	StatusPaymentPending: {StatusPaid},
	StatusPaid:           {StatusDelivered},
}

// CanTransition reports whether moving from one status to another is legal.
// Terminal states (delivered, cancelled) have no outgoing transitions.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// statesAllowing returns every status from which the given target is legal.
// Services pass the result as the expected-source set of a conditional
// Transition, so the SQL guard and the transition table cannot drift apart.
func statesAllowing(to Status) []Status {
	var from []Status
	for s := range transitions {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// Sentinel errors.
var (
	ErrNotFound       = fmt.Errorf("request not found")
	ErrAlreadyMatched = fmt.Errorf("request already has an active match")
)

// InvalidTransitionError indicates an attempted state change that is not
// legal from the request's current status. The persisted state is unchanged.
type InvalidTransitionError struct {
	RequestID int64
	From      Status
	To        Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("request %d: illegal transition %s -> %s", e.RequestID, e.From, e.To)
}

// Request is a buyer's ask for a product to be sourced by a traveler.
type Request struct {
	ID             int64
	RequesterID    string
	ProductRef     string
	ProductName    string
	Brand          string
	Category       string
	Quantity       int
	MaxPrice       decimal.Decimal
	Airport        string
	MeetupLocation string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MatchStatus annotates a single traveler's acceptance of a request.
type MatchStatus string

const (
	MatchAccepted MatchStatus = "accepted"
	MatchRejected MatchStatus = "rejected"
)

// Match binds a request to exactly one accepting traveler.
type Match struct {
	ID         int64
	RequestID  int64
	TravelerID string
	Status     MatchStatus
	CreatedAt  time.Time
}

// Repository defines persistence operations for requests and matches.
// Transition is a conditional update: it only writes when the current
// persisted status is one of the expected source states, and reports whether
// a row was actually updated.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id int64) (*Request, error)
	Transition(ctx context.Context, id int64, from []Status, to Status) (bool, error)
	CreateMatch(ctx context.Context, m *Match) error
	UpdateMatchStatus(ctx context.Context, matchID int64, status MatchStatus) error
	ActiveMatch(ctx context.Context, requestID int64) (*Match, error)
}
