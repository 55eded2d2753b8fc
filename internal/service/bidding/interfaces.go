package bidding

import (
	"context"

	"github.com/google/uuid"
)

// AmountCodec is the amount parsing/validation contract the service
// consumes. internal/amount provides the production implementation.
type AmountCodec interface {
	Parse(text string) (int64, error)
	ValidateRange(amount int64) error
	Format(amount int64) string
}

// Eligibility is the externally supplied permission predicate. A nil
// return allows the bid; a rejection-typed error carries the denial
// reason to the bidder.
type Eligibility interface {
	CanBid(ctx context.Context, userID string, auctionID uuid.UUID) error
}

// EligibilityFunc adapts a function to the Eligibility interface.
type EligibilityFunc func(ctx context.Context, userID string, auctionID uuid.UUID) error

func (f EligibilityFunc) CanBid(ctx context.Context, userID string, auctionID uuid.UUID) error {
	return f(ctx, userID, auctionID)
}

// AllowAll is the default eligibility policy.
var AllowAll = EligibilityFunc(func(context.Context, string, uuid.UUID) error {
	return nil
})

// MonitorRegistry is the lifecycle registry the service pokes after a
// committed bid. Ensure is idempotent: at most one live monitor per
// auction id survives.
type MonitorRegistry interface {
	Ensure(auctionID uuid.UUID)
	Cancel(auctionID uuid.UUID)
}

// Finalizer closes an auction idempotently.
type Finalizer interface {
	Finalize(ctx context.Context, auctionID uuid.UUID) error
}
