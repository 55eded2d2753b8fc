package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auctionhouse/auctiond/internal/infrastructure/database"
	"github.com/auctionhouse/auctiond/internal/infrastructure/events"
	"github.com/auctionhouse/auctiond/internal/metrics"
)

// Registry is the single authority over monitor goroutines, keyed by
// auction id. Ensure is the atomic "start if absent or dead" check:
// two bids racing to start a monitor leave exactly one alive.
type Registry struct {
	store     database.Store
	finalizer *Finalizer
	publisher *events.Publisher
	logger    *zap.Logger
	cfg       MonitorConfig

	baseCtx context.Context

	mu       sync.Mutex
	monitors map[uuid.UUID]*handle
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *handle) terminated() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// NewRegistry wires the registry. baseCtx bounds the lifetime of every
// monitor it starts; cancelling it (process shutdown) stops them all.
func NewRegistry(baseCtx context.Context, store database.Store, finalizer *Finalizer, publisher *events.Publisher, logger *zap.Logger, cfg MonitorConfig) *Registry {
	return &Registry{
		store:     store,
		finalizer: finalizer,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		baseCtx:   baseCtx,
		monitors:  make(map[uuid.UUID]*handle),
	}
}

// Ensure starts a monitor for the auction unless a live one is already
// registered. Idempotent and safe under concurrent callers.
func (r *Registry) Ensure(auctionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.monitors[auctionID]; ok && !h.terminated() {
		return
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	r.monitors[auctionID] = h

	m := &monitor{
		auctionID: auctionID,
		store:     r.store,
		finalizer: r.finalizer,
		publisher: r.publisher,
		logger:    r.logger,
		cfg:       r.cfg,
		now:       time.Now,
		tick:      time.Second,
	}

	metrics.ActiveMonitors.Inc()
	go func() {
		defer r.release(auctionID, h)
		defer close(h.done)
		defer metrics.ActiveMonitors.Dec()
		defer cancel()
		m.run(ctx)
	}()
}

// release drops a terminated monitor's handle. Identity-guarded so a
// replacement registered under the same id is left alone.
func (r *Registry) release(auctionID uuid.UUID, h *handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.monitors[auctionID] == h {
		delete(r.monitors, auctionID)
	}
}

// Cancel stops the monitor for an auction without finalizing; the
// caller finalizes by other means first. Safe to call when no monitor
// is registered or the monitor already terminated on its own.
func (r *Registry) Cancel(auctionID uuid.UUID) {
	r.mu.Lock()
	h, ok := r.monitors[auctionID]
	if ok {
		delete(r.monitors, auctionID)
	}
	r.mu.Unlock()

	if ok {
		h.cancel()
	}
}

// Running reports whether a live monitor exists for the auction.
func (r *Registry) Running(auctionID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.monitors[auctionID]
	return ok && !h.terminated()
}

// Restore starts a monitor for the currently open auction, if any.
// Called once at process startup so an auction that was live across a
// restart keeps its inactivity watch.
func (r *Registry) Restore(ctx context.Context) error {
	a, err := r.store.GetActiveAuction(ctx)
	if err != nil {
		return err
	}
	if a.IsOpen() {
		r.logger.Info("restoring monitor for open auction",
			zap.String("auction_id", a.ID.String()))
		r.Ensure(a.ID)
	}
	return nil
}

// Shutdown cancels every monitor and waits for them to exit, bounded
// by ctx.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	handles := make([]*handle, 0, len(r.monitors))
	for id, h := range r.monitors {
		h.cancel()
		handles = append(handles, h)
		delete(r.monitors, id)
	}
	r.mu.Unlock()

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return
		}
	}
}
