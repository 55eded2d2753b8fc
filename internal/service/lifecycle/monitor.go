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

// MonitorConfig holds the timing knobs of the inactivity watcher.
type MonitorConfig struct {
	PollInterval        time.Duration
	InactivityThreshold time.Duration
	CountdownSeconds    int
	PromoInterval       time.Duration
}

// monitor watches a single open auction. It polls the store for the
// last-bid timestamp, enters a tick-per-second countdown once the
// inactivity threshold is reached, and finalizes unless a bid
// interrupts. One monitor per auction id; the registry enforces that.
type monitor struct {
	auctionID uuid.UUID
	store     database.Store
	finalizer *Finalizer
	publisher *events.Publisher
	logger    *zap.Logger
	cfg       MonitorConfig

	now func() time.Time
	// tick is the countdown tick length, swappable in tests.
	tick time.Duration
}

// run executes the watch loop until the auction closes, the countdown
// expires, or ctx is cancelled. A panic anywhere in the loop is
// caught: a crashed monitor terminates quietly and a later bid starts
// a fresh one.
func (m *monitor) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor crashed",
				zap.String("auction_id", m.auctionID.String()),
				zap.Any("panic", r))
		}
	}()

	m.logger.Debug("monitor started", zap.String("auction_id", m.auctionID.String()))

	for {
		a, err := m.store.GetActiveAuction(ctx)
		if err != nil {
			// Transient storage trouble: stay alive and retry next
			// poll rather than acting on bad data.
			m.logger.Warn("active auction read failed", zap.Error(err))
			if !m.sleep(ctx, m.cfg.PollInterval) {
				return
			}
			continue
		}
		if a == nil || a.ID != m.auctionID || !a.IsOpen() {
			// Ended or replaced; someone else closed it.
			m.logger.Debug("auction no longer active, monitor stopping",
				zap.String("auction_id", m.auctionID.String()))
			return
		}

		lastBid := m.lastBidTime(ctx, a)
		idle := m.now().Sub(lastBid)

		if idle >= m.cfg.InactivityThreshold {
			switch m.countdown(ctx, lastBid) {
			case countdownExpired:
				if err := m.finalizer.Finalize(ctx, m.auctionID); err != nil {
					m.logger.Error("finalization failed",
						zap.String("auction_id", m.auctionID.String()),
						zap.Error(err))
				}
				return
			case countdownAborted:
				return
			case countdownInterrupted:
				// A bid landed; the whole detection cycle restarts
				// from scratch.
				continue
			}
		}

		if idle >= m.cfg.InactivityThreshold/2 {
			m.maybePromo(ctx, a)
		}

		if !m.sleep(ctx, m.cfg.PollInterval) {
			return
		}
	}
}

type countdownResult int

const (
	countdownExpired countdownResult = iota
	countdownInterrupted
	countdownAborted
)

// countdown ticks once per second. baseline is the last-bid time
// captured at entry; any stored timestamp newer than it means a bid
// arrived mid-countdown and the cycle restarts rather than resuming.
func (m *monitor) countdown(ctx context.Context, baseline time.Time) countdownResult {
	metrics.CountdownsStarted.Inc()
	m.logger.Info("countdown started",
		zap.String("auction_id", m.auctionID.String()),
		zap.Int("seconds", m.cfg.CountdownSeconds))

	for sec := m.cfg.CountdownSeconds; sec >= 1; sec-- {
		if !m.stillExpected(ctx) {
			return countdownAborted
		}
		if m.bidAfter(ctx, baseline) {
			return m.interrupted()
		}

		m.publisher.Publish(events.Event{
			Type:      events.TypeCountdownTick,
			AuctionID: m.auctionID,
			Payload:   map[string]interface{}{"seconds_left": sec},
		})

		if !m.sleep(ctx, m.tick) {
			return countdownAborted
		}
	}

	// Final re-read before declaring expiry. This closes the race
	// between "the tick loop observed no change" and "a bid landed in
	// the same second" and is the single most important safeguard in
	// the design.
	if m.bidAfter(ctx, baseline) {
		return m.interrupted()
	}
	return countdownExpired
}

func (m *monitor) interrupted() countdownResult {
	metrics.CountdownsInterrupted.Inc()
	m.logger.Info("countdown interrupted by new bid",
		zap.String("auction_id", m.auctionID.String()))
	return countdownInterrupted
}

// stillExpected re-reads the active auction and reports whether it is
// still the one this monitor was started for, and still OPEN. A read
// failure counts as still-expected; finalization re-checks on its own.
func (m *monitor) stillExpected(ctx context.Context) bool {
	a, err := m.store.GetActiveAuction(ctx)
	if err != nil {
		m.logger.Warn("active auction read failed", zap.Error(err))
		return true
	}
	return a != nil && a.ID == m.auctionID && a.IsOpen()
}

// lastBidTime reads the stored last-bid timestamp, falling back to the
// auction's start time when no bid has been recorded yet.
func (m *monitor) lastBidTime(ctx context.Context, a *auction.Auction) time.Time {
	value, ok, err := m.store.GetSetting(ctx, auction.LastBidKey(m.auctionID))
	if err != nil || !ok {
		return a.StartedAt
	}
	t, ok := auction.ParseTimestamp(value)
	if !ok {
		return a.StartedAt
	}
	return t
}

func (m *monitor) bidAfter(ctx context.Context, baseline time.Time) bool {
	value, ok, err := m.store.GetSetting(ctx, auction.LastBidKey(m.auctionID))
	if err != nil || !ok {
		return false
	}
	t, ok := auction.ParseTimestamp(value)
	return ok && t.After(baseline)
}

// maybePromo emits a best-effort promo event at most once per
// configured interval while the auction idles.
func (m *monitor) maybePromo(ctx context.Context, a *auction.Auction) {
	if m.cfg.PromoInterval <= 0 {
		return
	}
	key := auction.PromoKey(m.auctionID)
	if value, ok, err := m.store.GetSetting(ctx, key); err == nil && ok {
		if last, ok := auction.ParseTimestamp(value); ok {
			if m.now().Sub(last) < m.cfg.PromoInterval {
				return
			}
		}
	}

	payload := map[string]interface{}{"start_bid": a.StartBid}
	bids, err := m.store.GetBidsForAuction(ctx, m.auctionID)
	if err == nil {
		if top := auction.Highest(bids); top != nil {
			payload["top_user_id"] = top.UserID
			payload["top_amount"] = top.Amount
			payload["display"] = amount.Format(top.Amount)
		}
	}
	m.publisher.Publish(events.Event{
		Type:      events.TypePromo,
		AuctionID: m.auctionID,
		Payload:   payload,
	})

	if err := m.store.SetSetting(ctx, key, auction.FormatTimestamp(m.now())); err != nil {
		m.logger.Warn("promo timestamp write failed", zap.Error(err))
	}
}

// sleep waits for d or until ctx is cancelled; returns false on
// cancellation.
func (m *monitor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
