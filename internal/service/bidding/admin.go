package bidding

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auctionhouse/auctiond/internal/domain/auction"
	"github.com/auctionhouse/auctiond/internal/domain/errors"
)

// OpenAuctionRequest creates a new auction. Zero values fall back to
// the configured defaults.
type OpenAuctionRequest struct {
	StartedBy    string
	StartBid     int64
	MinIncrement int64
	Duration     time.Duration
}

// OpenAuction creates a new OPEN auction after defensively verifying
// no other auction is already open. The at-most-one-OPEN invariant is
// owned here, by the creator.
func (s *Service) OpenAuction(ctx context.Context, req OpenAuctionRequest) (*auction.Auction, error) {
	active, err := s.store.GetActiveAuction(ctx)
	if err != nil {
		return nil, err
	}
	if active.IsOpen() {
		return nil, errors.NewConflictError("an auction is already open")
	}

	if req.StartBid <= 0 {
		req.StartBid = s.cfg.DefaultStartBid
	}
	if req.MinIncrement <= 0 {
		req.MinIncrement = s.cfg.DefaultMinIncrement
	}
	if req.Duration <= 0 {
		req.Duration = s.cfg.DefaultDuration
	}
	if err := s.codec.ValidateRange(req.StartBid); err != nil {
		return nil, err
	}

	a := auction.NewAuction(req.StartedBy, req.StartBid, req.MinIncrement,
		s.now().Add(req.Duration).UTC())
	if err := s.store.CreateAuction(ctx, a); err != nil {
		return nil, err
	}

	s.monitors.Ensure(a.ID)
	s.logger.Info("auction opened",
		zap.String("auction_id", a.ID.String()),
		zap.String("started_by", a.StartedBy),
		zap.Int64("start_bid", a.StartBid))
	return a, nil
}

// EndAuctionNow finalizes an auction immediately, then releases its
// monitor. Finalization is idempotent, so racing the monitor's own
// expiry is harmless.
func (s *Service) EndAuctionNow(ctx context.Context, auctionID uuid.UUID) error {
	if err := s.finalizer.Finalize(ctx, auctionID); err != nil {
		return err
	}
	s.monitors.Cancel(auctionID)
	return nil
}

// UndoLastBid removes the most recently created bid (administrative
// undo), not the highest one, and rewinds the last-bid timestamp to
// the new latest bid so the monitor's inactivity clock stays honest.
func (s *Service) UndoLastBid(ctx context.Context, auctionID uuid.UUID) (*auction.Bid, error) {
	removed, err := s.store.UndoLastBid(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if removed == nil {
		return nil, nil
	}

	remaining, err := s.store.GetBidsForAuction(ctx, auctionID)
	if err == nil {
		ts := ""
		var latest time.Time
		for _, b := range remaining {
			if b.CreatedAt.After(latest) {
				latest = b.CreatedAt
			}
		}
		if !latest.IsZero() {
			ts = auction.FormatTimestamp(latest)
		}
		if ts != "" {
			err = s.store.SetSetting(ctx, auction.LastBidKey(auctionID), ts)
		} else {
			err = s.store.DeleteSetting(ctx, auction.LastBidKey(auctionID))
		}
	}
	if err != nil {
		s.logger.Warn("last-bid timestamp rewind failed",
			zap.String("auction_id", auctionID.String()), zap.Error(err))
	}

	s.logger.Info("bid removed",
		zap.String("auction_id", auctionID.String()),
		zap.String("bid_id", removed.ID.String()),
		zap.Int64("amount", removed.Amount))
	return removed, nil
}

// SetPanelRef records where an external UI rendered this auction's
// panel. Both values are opaque strings; the finalizer clears them
// with the rest of the ephemeral keys.
func (s *Service) SetPanelRef(ctx context.Context, auctionID uuid.UUID, channelID, messageID string) error {
	a, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if a == nil {
		return errors.NewNotFoundError("auction")
	}
	if err := s.store.SetSetting(ctx, auction.PanelChannelKey(auctionID), channelID); err != nil {
		return err
	}
	return s.store.SetSetting(ctx, auction.PanelMessageKey(auctionID), messageID)
}

// ActiveAuction returns the currently open auction, or nil if none.
func (s *Service) ActiveAuction(ctx context.Context) (*auction.Auction, error) {
	a, err := s.store.GetActiveAuction(ctx)
	if err != nil {
		return nil, err
	}
	if !a.IsOpen() {
		return nil, nil
	}
	return a, nil
}

// Snapshot is the operational debug view of one auction: the record,
// its ranked bids, and whatever ephemeral coordination keys are live.
type Snapshot struct {
	Auction       *auction.Auction  `json:"auction"`
	Bids          []*auction.Bid    `json:"bids"`
	EphemeralKeys map[string]string `json:"ephemeral_keys"`
}

// DebugSnapshot assembles a Snapshot for operational tooling.
func (s *Service) DebugSnapshot(ctx context.Context, auctionID uuid.UUID) (*Snapshot, error) {
	a, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errors.NewNotFoundError("auction")
	}

	bids, err := s.store.GetBidsForAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	ephemeral := make(map[string]string)
	for _, key := range auction.EphemeralKeys(auctionID) {
		if value, ok, err := s.store.GetSetting(ctx, key); err == nil && ok {
			ephemeral[key] = value
		}
	}

	return &Snapshot{Auction: a, Bids: bids, EphemeralKeys: ephemeral}, nil
}
