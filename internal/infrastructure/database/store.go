// Package database provides the record store behind the auction
// engine: a PostgreSQL primary, an embedded SQLite secondary, and a
// failover controller that keeps exactly one of them active.
package database

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/auctionhouse/auctiond/internal/domain/auction"
)

// Store is the backend-agnostic record store contract. Both backends
// implement every operation identically; callers never learn which
// backend served a call except through the controller's Status.
//
// All operations are atomic at the single-record level. No multi-record
// transaction spans an auction row and its bids: a bid is durable the
// moment AddBid returns.
type Store interface {
	// Settings: idempotent upserts over a string key/value table.
	SetSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
	AllSettings(ctx context.Context) (map[string]string, error)
	DeleteSetting(ctx context.Context, key string) error

	// Auctions.
	CreateAuction(ctx context.Context, a *auction.Auction) error
	GetAuction(ctx context.Context, id uuid.UUID) (*auction.Auction, error)
	// GetActiveAuction returns the most recently started OPEN auction,
	// or nil. At most one auction should ever be OPEN; most-recent-wins
	// is the defensive read if that invariant is ever violated upstream.
	GetActiveAuction(ctx context.Context) (*auction.Auction, error)
	// EndAuction marks an auction ENDED with the given outcome. A
	// second call is a no-op: the guard on status=OPEN means the first
	// recorded final price and winner are never overwritten.
	EndAuction(ctx context.Context, id uuid.UUID, finalPrice *int64, winnerID *string, endedAt time.Time) error

	// Bids.
	AddBid(ctx context.Context, b *auction.Bid) error
	// GetBidsForAuction returns bids in standing order: amount
	// descending, created_at ascending on ties.
	GetBidsForAuction(ctx context.Context, auctionID uuid.UUID) ([]*auction.Bid, error)
	// UndoLastBid removes and returns the bid with the latest
	// created_at (not the highest amount). Returns nil if there are no
	// bids.
	UndoLastBid(ctx context.Context, auctionID uuid.UUID) (*auction.Bid, error)

	// Ping reports connection health.
	Ping(ctx context.Context) error
	Close() error
}

// Backend identifies which implementation is serving calls.
type Backend string

const (
	BackendPrimary   Backend = "primary"
	BackendSecondary Backend = "secondary"
)
