// Package lifecycle drives auctions to their close: one monitor per
// open auction watches for inactivity, runs the interruptible
// countdown, and invokes the finalizer exactly once.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auctionhouse/auctiond/internal/amount"
	"github.com/auctionhouse/auctiond/internal/domain/auction"
	"github.com/auctionhouse/auctiond/internal/infrastructure/database"
	"github.com/auctionhouse/auctiond/internal/infrastructure/events"
	"github.com/auctionhouse/auctiond/internal/metrics"
)

// Finalizer closes auctions idempotently. It is the only mutator of
// auction records and, with the monitor, the only writer of ephemeral
// per-auction settings.
type Finalizer struct {
	store             database.Store
	publisher         *events.Publisher
	logger            *zap.Logger
	commissionPercent int

	now func() time.Time
}

func NewFinalizer(store database.Store, publisher *events.Publisher, logger *zap.Logger, commissionPercent int) *Finalizer {
	return &Finalizer{
		store:             store,
		publisher:         publisher,
		logger:            logger,
		commissionPercent: commissionPercent,
		now:               time.Now,
	}
}

// Finalize ends the auction, fixes winner and final price, clears the
// auction's ephemeral coordination keys, and announces the outcome.
//
// Idempotent by construction: if the auction is missing or no longer
// OPEN, another path already closed it and this call is a no-op. That
// is the primary defense against a double-finalize race between the
// monitor and a manual end command.
func (f *Finalizer) Finalize(ctx context.Context, auctionID uuid.UUID) error {
	a, err := f.store.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if a == nil || !a.IsOpen() {
		f.logger.Debug("finalize skipped, auction not open",
			zap.String("auction_id", auctionID.String()))
		return nil
	}

	bids, err := f.store.GetBidsForAuction(ctx, auctionID)
	if err != nil {
		return err
	}

	winner := auction.Highest(bids)
	finalPrice := a.StartBid
	var winnerID *string
	if winner != nil {
		finalPrice = winner.Amount
		winnerID = &winner.UserID
	}

	if err := f.store.EndAuction(ctx, auctionID, &finalPrice, winnerID, f.now().UTC()); err != nil {
		return err
	}

	// Clear ephemeral state regardless of what happens downstream; a
	// future auction must not inherit stale coordination keys.
	for _, key := range auction.EphemeralKeys(auctionID) {
		if err := f.store.DeleteSetting(ctx, key); err != nil {
			f.logger.Warn("ephemeral key cleanup failed",
				zap.String("key", key), zap.Error(err))
		}
	}

	outcome := "unsold"
	payload := map[string]interface{}{
		"final_price": finalPrice,
		"display":     amount.Format(finalPrice),
		"bid_count":   len(bids),
	}
	if winner != nil {
		outcome = "sold"
		payload["winner_id"] = winner.UserID
		payload["commission"] = amount.Commission(finalPrice, f.commissionPercent)
	}
	metrics.AuctionsFinalized.WithLabelValues(outcome).Inc()

	f.logger.Info("auction finalized",
		zap.String("auction_id", auctionID.String()),
		zap.String("outcome", outcome),
		zap.Int64("final_price", finalPrice))

	f.publisher.Publish(events.Event{
		Type:      events.TypeAuctionFinalized,
		AuctionID: auctionID,
		Payload:   payload,
	})
	return nil
}
