// Package events carries engine state transitions to external sinks.
// Delivery is fire-and-forget: a slow or failing sink can never stall
// or fail a bid.
package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types emitted by the engine.
const (
	TypeBidAccepted      = "bid_accepted"
	TypeCountdownTick    = "countdown_tick"
	TypeAuctionFinalized = "auction_finalized"
	TypePromo            = "promo"
	TypePanelRefresh     = "panel_refresh"
)

// Event is one state transition of interest.
type Event struct {
	Type      string                 `json:"type"`
	AuctionID uuid.UUID              `json:"auction_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Sink consumes events. Implementations must tolerate concurrent
// calls; errors are logged by the publisher and otherwise dropped.
type Sink interface {
	Deliver(event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event Event) error

func (f SinkFunc) Deliver(event Event) error { return f(event) }

// Publisher fans events out to registered sinks on a background
// goroutine per event. Failures are swallowed and logged.
type Publisher struct {
	logger *zap.Logger

	mu    sync.RWMutex
	sinks []Sink
}

func NewPublisher(logger *zap.Logger) *Publisher {
	return &Publisher{logger: logger}
}

// Subscribe registers a sink for all subsequent events.
func (p *Publisher) Subscribe(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, sink)
}

// Publish delivers the event to every sink asynchronously and returns
// immediately. A panicking or erroring sink affects nothing but a log
// line.
func (p *Publisher) Publish(event Event) {
	p.mu.RLock()
	sinks := make([]Sink, len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.RUnlock()

	for _, sink := range sinks {
		go p.deliver(sink, event)
	}
}

func (p *Publisher) deliver(sink Sink, event Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("event sink panicked",
				zap.String("type", event.Type),
				zap.Any("panic", r))
		}
	}()
	if err := sink.Deliver(event); err != nil {
		p.logger.Warn("event delivery failed",
			zap.String("type", event.Type),
			zap.String("auction_id", event.AuctionID.String()),
			zap.Error(err))
	}
}
