package request

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateRequestInput holds the input for opening a new request. MaxPrice is
// optional; when absent it defaults to the catalog base price times the
// quantity, which callers surface to travelers as a budget ceiling.
type CreateRequestInput struct {
	RequesterID    string
	ProductRef     string
	ProductName    string
	Brand          string
	Category       string
	Quantity       int
	BasePrice      decimal.Decimal
	MaxPrice       *decimal.Decimal
	Airport        string
	MeetupLocation string
}

// Service encapsulates the request lifecycle operations.
type Service struct {
	requests Repository
	lg       *zap.Logger
}

// NewService creates a request Service.
func NewService(requests Repository, lg *zap.Logger) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{requests: requests, lg: lg}
}

// Create opens a new request in the open state.
func (s *Service) Create(ctx context.Context, in CreateRequestInput) (*Request, error) {
	if in.RequesterID == "" {
		return nil, errors.New("requester id required")
	}
	if in.ProductName == "" {
		return nil, errors.New("product name required")
	}
	if in.Quantity <= 0 {
		return nil, errors.New("quantity must be greater than 0")
	}

	maxPrice := in.BasePrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
	if in.MaxPrice != nil {
		maxPrice = *in.MaxPrice
	}

	r := &Request{
		RequesterID:    in.RequesterID,
		ProductRef:     in.ProductRef,
		ProductName:    in.ProductName,
		Brand:          in.Brand,
		Category:       in.Category,
		Quantity:       in.Quantity,
		MaxPrice:       maxPrice,
		Airport:        in.Airport,
		MeetupLocation: in.MeetupLocation,
		Status:         StatusOpen,
	}
	if err := s.requests.Create(ctx, r); err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	return r, nil
}

// Accept records a traveler's acceptance: it inserts the match and moves the
// request open -> accepted in one conditional step. A request that is no
// longer open cannot be matched again; the match insert is attempted first
// so the unique-active-match constraint catches concurrent acceptors, and
// the status transition then guards against races with cancellation.
func (s *Service) Accept(ctx context.Context, requestID int64, travelerID string) (*Match, error) {
	if travelerID == "" {
		return nil, errors.New("traveler id required")
	}

	r, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusAccepted) {
		return nil, &InvalidTransitionError{RequestID: requestID, From: r.Status, To: StatusAccepted}
	}

	m := &Match{
		RequestID:  requestID,
		TravelerID: travelerID,
		Status:     MatchAccepted,
	}
	if err := s.requests.CreateMatch(ctx, m); err != nil {
		return nil, err
	}

	updated, err := s.requests.Transition(ctx, requestID, []Status{StatusOpen}, StatusAccepted)
	if err != nil {
		return nil, errors.Wrap(err, "transition request")
	}
	if !updated {
		// Lost a race after the match insert. The request status stays
		// authoritative; the dangling match row is rejected so it releases
		// the unique active-match slot and a later accept can succeed.
		m.Status = MatchRejected
		if rerr := s.requests.UpdateMatchStatus(ctx, m.ID, MatchRejected); rerr != nil {
			s.lg.Warn("rejecting dangling match failed",
				zap.Int64("request_id", requestID),
				zap.Int64("match_id", m.ID),
				zap.Error(rerr),
			)
		}
		return nil, &InvalidTransitionError{RequestID: requestID, From: r.Status, To: StatusAccepted}
	}
	return m, nil
}

// Cancel terminalizes a request. Only legal before payment: open or
// accepted. The guard is the conditional update itself, so a concurrent
// payment cannot be cancelled away.
func (s *Service) Cancel(ctx context.Context, requestID int64) error {
	updated, err := s.requests.Transition(ctx, requestID, statesAllowing(StatusCancelled), StatusCancelled)
	if err != nil {
		return errors.Wrap(err, "cancel request")
	}
	if !updated {
		r, err := s.requests.Get(ctx, requestID)
		if err != nil {
			return err
		}
		return &InvalidTransitionError{RequestID: requestID, From: r.Status, To: StatusCancelled}
	}
	return nil
}

// ConfirmDelivery moves a paid request to delivered. Either party may
// confirm; the transition is only legal from paid.
func (s *Service) ConfirmDelivery(ctx context.Context, requestID int64) error {
	updated, err := s.requests.Transition(ctx, requestID, statesAllowing(StatusDelivered), StatusDelivered)
	if err != nil {
		return errors.Wrap(err, "confirm delivery")
	}
	if !updated {
		r, err := s.requests.Get(ctx, requestID)
		if err != nil {
			return err
		}
		return &InvalidTransitionError{RequestID: requestID, From: r.Status, To: StatusDelivered}
	}
	return nil
}
