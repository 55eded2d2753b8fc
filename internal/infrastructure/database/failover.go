package database

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auctionhouse/auctiond/internal/domain/auction"
	domerr "github.com/auctionhouse/auctiond/internal/domain/errors"
	"github.com/auctionhouse/auctiond/internal/metrics"
)

// PrimaryFactory establishes the primary backend: validate the URL,
// open the pool, ensure the schema. Called lazily on first use and on
// manual retry.
type PrimaryFactory func(ctx context.Context) (Store, error)

// ConnectionStatus is the introspection result exposed to operational
// tooling. It is the only way a caller learns which backend is active.
type ConnectionStatus struct {
	ActiveBackend       Backend `json:"active_backend"`
	PrimaryConfigured   bool    `json:"primary_configured"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

// FailoverController selects between the primary and secondary stores.
// One-way: any failure while the primary is active switches to the
// secondary and the call is retried once there; the primary is never
// attempted again except through RetryPrimary. No data written to the
// secondary is migrated back on a successful retry.
type FailoverController struct {
	logger     *zap.Logger
	newPrimary PrimaryFactory
	secondary  Store

	maxAttempts int
	coolOff     time.Duration

	mu                  sync.Mutex
	active              Store
	backend             Backend
	primaryConfigured   bool
	consecutiveFailures int
	lastAttempt         time.Time
}

// NewFailoverController wires the controller. The secondary must be
// already constructed; it has no failure mode worth modeling. The
// first Store call triggers primary establishment.
func NewFailoverController(newPrimary PrimaryFactory, secondary Store, primaryConfigured bool, maxAttempts int, coolOff time.Duration, logger *zap.Logger) *FailoverController {
	return &FailoverController{
		logger:            logger,
		newPrimary:        newPrimary,
		secondary:         secondary,
		maxAttempts:       maxAttempts,
		coolOff:           coolOff,
		primaryConfigured: primaryConfigured,
	}
}

// Status reports the current backend selection.
func (c *FailoverController) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	backend := c.backend
	if c.active == nil {
		// Not yet established; report what the first call will try.
		if c.primaryConfigured {
			backend = BackendPrimary
		} else {
			backend = BackendSecondary
		}
	}
	return ConnectionStatus{
		ActiveBackend:       backend,
		PrimaryConfigured:   c.primaryConfigured,
		ConsecutiveFailures: c.consecutiveFailures,
	}
}

// RetryPrimary re-runs primary establishment, bypassing the cool-off.
// On success the controller switches back to the primary; data written
// to the secondary in the meantime is not migrated. On failure the
// secondary stays active. Returns whether the primary is now active.
func (c *FailoverController) RetryPrimary(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures = 0
	return c.establishPrimaryLocked(ctx, true)
}

// establishPrimaryLocked attempts to bring up the primary. Returns
// true if the primary is active afterwards. Establishment failures are
// swallowed and translated into state, never propagated.
func (c *FailoverController) establishPrimaryLocked(ctx context.Context, manual bool) bool {
	if !c.primaryConfigured {
		c.useSecondaryLocked("primary not configured")
		return false
	}

	now := time.Now()
	if !manual && c.consecutiveFailures >= c.maxAttempts && now.Sub(c.lastAttempt) < c.coolOff {
		c.logger.Debug("primary connection attempts suppressed by cool-off",
			zap.Int("consecutive_failures", c.consecutiveFailures))
		c.useSecondaryLocked("cool-off active")
		return false
	}
	c.lastAttempt = now

	var primary Store
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		primary, err = c.newPrimary(ctx)
		if err == nil {
			break
		}
		c.consecutiveFailures++
		c.logger.Warn("primary connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("consecutive_failures", c.consecutiveFailures),
			zap.Error(err))
	}
	if err != nil {
		c.useSecondaryLocked("primary establishment failed")
		return false
	}

	if c.active == c.secondary {
		metrics.FailbackTotal.Inc()
	}
	c.consecutiveFailures = 0
	c.active = primary
	c.backend = BackendPrimary
	c.logger.Info("primary backend active")
	return true
}

func (c *FailoverController) useSecondaryLocked(reason string) {
	if c.active == c.secondary {
		return
	}
	if old := c.active; old != nil {
		// Best effort; the pool may already be broken.
		_ = old.Close()
		metrics.FailoverTotal.Inc()
	}
	c.active = c.secondary
	c.backend = BackendSecondary
	c.logger.Warn("secondary backend active", zap.String("reason", reason))
}

// ensure returns the active store, establishing one on first use.
func (c *FailoverController) ensure(ctx context.Context) Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		c.establishPrimaryLocked(ctx, false)
	}
	return c.active
}

// do runs op against the active store. If the call fails on the
// primary, the controller transitions to the secondary and re-issues
// the op exactly once there; only a secondary failure surfaces. The
// retry decision keys off the store that served the failed call, not
// the controller's current backend: a concurrent call may already have
// flipped the controller while this op was in flight on the primary,
// and that call still gets its one retry on the secondary.
func (c *FailoverController) do(ctx context.Context, name string, op func(Store) error) error {
	store := c.ensure(ctx)

	err := op(store)
	if err == nil {
		return nil
	}

	if store == c.secondary {
		return domerr.NewStorageError(name + " failed on secondary backend").WithCause(err)
	}

	c.mu.Lock()
	if c.active == store {
		c.logger.Warn("primary operation failed, failing over",
			zap.String("operation", name), zap.Error(err))
		c.useSecondaryLocked("operation failed: " + name)
	}
	c.mu.Unlock()

	if err := op(c.secondary); err != nil {
		return domerr.NewStorageError(name + " failed on both backends").WithCause(err)
	}
	return nil
}

func (c *FailoverController) SetSetting(ctx context.Context, key, value string) error {
	return c.do(ctx, "SetSetting", func(s Store) error {
		return s.SetSetting(ctx, key, value)
	})
}

func (c *FailoverController) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	var ok bool
	err := c.do(ctx, "GetSetting", func(s Store) error {
		var err error
		value, ok, err = s.GetSetting(ctx, key)
		return err
	})
	return value, ok, err
}

func (c *FailoverController) AllSettings(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := c.do(ctx, "AllSettings", func(s Store) error {
		var err error
		out, err = s.AllSettings(ctx)
		return err
	})
	return out, err
}

func (c *FailoverController) DeleteSetting(ctx context.Context, key string) error {
	return c.do(ctx, "DeleteSetting", func(s Store) error {
		return s.DeleteSetting(ctx, key)
	})
}

func (c *FailoverController) CreateAuction(ctx context.Context, a *auction.Auction) error {
	return c.do(ctx, "CreateAuction", func(s Store) error {
		return s.CreateAuction(ctx, a)
	})
}

func (c *FailoverController) GetAuction(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	var a *auction.Auction
	err := c.do(ctx, "GetAuction", func(s Store) error {
		var err error
		a, err = s.GetAuction(ctx, id)
		return err
	})
	return a, err
}

func (c *FailoverController) GetActiveAuction(ctx context.Context) (*auction.Auction, error) {
	var a *auction.Auction
	err := c.do(ctx, "GetActiveAuction", func(s Store) error {
		var err error
		a, err = s.GetActiveAuction(ctx)
		return err
	})
	return a, err
}

func (c *FailoverController) EndAuction(ctx context.Context, id uuid.UUID, finalPrice *int64, winnerID *string, endedAt time.Time) error {
	return c.do(ctx, "EndAuction", func(s Store) error {
		return s.EndAuction(ctx, id, finalPrice, winnerID, endedAt)
	})
}

func (c *FailoverController) AddBid(ctx context.Context, b *auction.Bid) error {
	return c.do(ctx, "AddBid", func(s Store) error {
		return s.AddBid(ctx, b)
	})
}

func (c *FailoverController) GetBidsForAuction(ctx context.Context, auctionID uuid.UUID) ([]*auction.Bid, error) {
	var bids []*auction.Bid
	err := c.do(ctx, "GetBidsForAuction", func(s Store) error {
		var err error
		bids, err = s.GetBidsForAuction(ctx, auctionID)
		return err
	})
	return bids, err
}

func (c *FailoverController) UndoLastBid(ctx context.Context, auctionID uuid.UUID) (*auction.Bid, error) {
	var b *auction.Bid
	err := c.do(ctx, "UndoLastBid", func(s Store) error {
		var err error
		b, err = s.UndoLastBid(ctx, auctionID)
		return err
	})
	return b, err
}

func (c *FailoverController) Ping(ctx context.Context) error {
	return c.do(ctx, "Ping", func(s Store) error {
		return s.Ping(ctx)
	})
}

func (c *FailoverController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.active != c.secondary {
		_ = c.active.Close()
	}
	return c.secondary.Close()
}

var _ Store = (*FailoverController)(nil)
