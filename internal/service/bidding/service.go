// Package bidding implements bid acceptance: the validation pipeline a
// bid attempt runs before it becomes a durable record, and the admin
// operations around it.
package bidding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auctionhouse/auctiond/internal/domain/auction"
	"github.com/auctionhouse/auctiond/internal/domain/errors"
	"github.com/auctionhouse/auctiond/internal/infrastructure/cache"
	"github.com/auctionhouse/auctiond/internal/infrastructure/database"
	"github.com/auctionhouse/auctiond/internal/infrastructure/events"
	"github.com/auctionhouse/auctiond/internal/metrics"
)

// Config carries the tunables the service enforces.
type Config struct {
	Cooldown            time.Duration
	DefaultStartBid     int64
	DefaultMinIncrement int64
	DefaultDuration     time.Duration
}

// Service validates and commits bids against the active auction.
// It is the only writer of bid records and of the last-bid timestamp.
type Service struct {
	store       database.Store
	cooldowns   cache.CooldownStore
	eligibility Eligibility
	codec       AmountCodec
	monitors    MonitorRegistry
	finalizer   Finalizer
	publisher   *events.Publisher
	logger      *zap.Logger
	cfg         Config

	// now is swappable for tests.
	now func() time.Time
}

func NewService(
	store database.Store,
	cooldowns cache.CooldownStore,
	eligibility Eligibility,
	codec AmountCodec,
	monitors MonitorRegistry,
	finalizer Finalizer,
	publisher *events.Publisher,
	logger *zap.Logger,
	cfg Config,
) *Service {
	if eligibility == nil {
		eligibility = AllowAll
	}
	return &Service{
		store:       store,
		cooldowns:   cooldowns,
		eligibility: eligibility,
		codec:       codec,
		monitors:    monitors,
		finalizer:   finalizer,
		publisher:   publisher,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// PlaceBidRequest is one bid attempt. Exactly one of Amount or
// Increment must be set; Increment is resolved against the current
// highest bid.
type PlaceBidRequest struct {
	AuctionID uuid.UUID
	UserID    string
	Amount    *int64
	Increment *int64
}

// PlaceBid runs the acceptance pipeline. A rejection comes back as an
// *errors.AppError of type rejection; anything else is a real failure.
//
// The committed bid is durable as soon as AddBid returns. The last-bid
// timestamp is written immediately afterwards but not atomically with
// it: if that write fails the bid still stands and the monitor catches
// up on its next unconditional re-read.
func (s *Service) PlaceBid(ctx context.Context, req PlaceBidRequest) (*auction.Bid, error) {
	now := s.now()

	// 1. Cooldown. A failed cooldown read degrades to "no cooldown":
	// an unavailable cooldown store must never block bids.
	if last, ok, err := s.cooldowns.Last(ctx, req.UserID); err == nil && ok {
		if elapsed := now.Sub(last); elapsed < s.cfg.Cooldown {
			remaining := s.cfg.Cooldown - elapsed
			return nil, s.reject(errors.NewRejection(errors.CodeCooldown,
				fmt.Sprintf("wait %.0f seconds before bidding again", remaining.Seconds())).
				WithDetails(map[string]interface{}{
					"remaining_seconds": int(remaining.Seconds() + 0.999),
				}))
		}
	}
	// Even a subsequently rejected attempt arms the cooldown; that is
	// what keeps button-mashing cheap to absorb.
	if err := s.cooldowns.Touch(ctx, req.UserID, now); err != nil {
		s.logger.Warn("cooldown stamp failed", zap.String("user_id", req.UserID), zap.Error(err))
	}

	// 2. Active-auction check.
	active, err := s.store.GetActiveAuction(ctx)
	if err != nil {
		return nil, err
	}
	if !active.IsOpen() || active.ID != req.AuctionID {
		return nil, s.reject(errors.NewRejection(errors.CodeNotActive,
			"this auction is not active"))
	}

	// 3. Eligibility.
	if err := s.eligibility.CanBid(ctx, req.UserID, req.AuctionID); err != nil {
		if rej, ok := errors.IsRejection(err); ok {
			return nil, s.reject(rej)
		}
		return nil, s.reject(errors.NewRejection(errors.CodeForbidden,
			"you are not allowed to bid on this auction").WithCause(err))
	}

	bids, err := s.store.GetBidsForAuction(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}
	highest := auction.Highest(bids)
	highestAmount := active.StartBid
	highestUser := ""
	if highest != nil {
		highestAmount = highest.Amount
		highestUser = highest.UserID
	}

	// 4. Amount resolution.
	var newAmount int64
	switch {
	case req.Increment != nil:
		newAmount = highestAmount + *req.Increment
	case req.Amount != nil:
		newAmount = *req.Amount
	default:
		return nil, errors.NewValidationError("NO_AMOUNT", "no bid amount provided")
	}

	// 5. Self-outbid guard: the highest bidder cannot raise against
	// themself, regardless of amount.
	if highestUser == req.UserID {
		return nil, s.reject(errors.NewRejection(errors.CodeAlreadyHighest,
			"you are already the highest bidder"))
	}

	// 6. Minimum increment.
	if newAmount-highestAmount < active.MinIncrement {
		return nil, s.reject(errors.NewRejection(errors.CodeIncrementTooSmall,
			fmt.Sprintf("bid must exceed the highest by at least %s", s.codec.Format(active.MinIncrement))).
			WithDetails(map[string]interface{}{
				"required_increment": active.MinIncrement,
				"current_highest":    highestAmount,
			}))
	}

	// 7. Range validation.
	if err := s.codec.ValidateRange(newAmount); err != nil {
		if rej, ok := errors.IsRejection(err); ok {
			return nil, s.reject(rej)
		}
		return nil, err
	}

	// 8. Commit.
	b := auction.NewBid(req.AuctionID, req.UserID, newAmount)
	if err := s.store.AddBid(ctx, b); err != nil {
		return nil, err
	}
	if err := s.store.SetSetting(ctx, auction.LastBidKey(req.AuctionID),
		auction.FormatTimestamp(b.CreatedAt)); err != nil {
		// The bid is durable; the monitor may just learn about it a
		// poll late.
		s.logger.Warn("last-bid timestamp write failed",
			zap.String("auction_id", req.AuctionID.String()), zap.Error(err))
	}

	// 9. Make sure a monitor is watching this auction.
	s.monitors.Ensure(req.AuctionID)

	metrics.BidsPlaced.Inc()
	s.logger.Info("bid accepted",
		zap.String("auction_id", req.AuctionID.String()),
		zap.String("user_id", req.UserID),
		zap.Int64("amount", newAmount))

	s.publisher.Publish(events.Event{
		Type:      events.TypeBidAccepted,
		AuctionID: req.AuctionID,
		Payload: map[string]interface{}{
			"bid_id":  b.ID.String(),
			"user_id": req.UserID,
			"amount":  newAmount,
			"display": s.codec.Format(newAmount),
		},
	})
	s.publisher.Publish(events.Event{
		Type:      events.TypePanelRefresh,
		AuctionID: req.AuctionID,
	})

	return b, nil
}

// PlaceBidText parses a human-entered amount ("250k") and places it as
// an absolute bid.
func (s *Service) PlaceBidText(ctx context.Context, auctionID uuid.UUID, userID, text string) (*auction.Bid, error) {
	amount, err := s.codec.Parse(text)
	if err != nil {
		if rej, ok := errors.IsRejection(err); ok {
			return nil, s.reject(rej)
		}
		return nil, err
	}
	return s.PlaceBid(ctx, PlaceBidRequest{
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    &amount,
	})
}

func (s *Service) reject(rej *errors.AppError) error {
	metrics.BidsRejected.WithLabelValues(rej.Code).Inc()
	return rej
}
