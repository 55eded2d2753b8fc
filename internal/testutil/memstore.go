// Package testutil provides shared test doubles for the service and
// lifecycle suites.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auctionhouse/auctiond/internal/domain/auction"
	"github.com/auctionhouse/auctiond/internal/infrastructure/database"
)

// MemStore is an in-memory database.Store. It honors the same contract
// as the real backends, including the status=OPEN guard on EndAuction
// and standing order on GetBidsForAuction, so service tests exercise
// the genuine storage semantics without a database.
//
// SetErr injects a failure on every subsequent call, which is how the
// failover suite simulates a dying backend.
type MemStore struct {
	mu       sync.Mutex
	settings map[string]string
	auctions map[uuid.UUID]*auction.Auction
	bids     map[uuid.UUID][]*auction.Bid
	err      error
	calls    map[string]int
}

var _ database.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		settings: make(map[string]string),
		auctions: make(map[uuid.UUID]*auction.Auction),
		bids:     make(map[uuid.UUID][]*auction.Bid),
		calls:    make(map[string]int),
	}
}

// CallCount reports how many times the named operation has been
// invoked. Safe to call while monitors are still running.
func (m *MemStore) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// SetErr makes every subsequent operation fail with err. Pass nil to
// heal the store.
func (m *MemStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemStore) enter(op string) error {
	m.calls[op]++
	return m.err
}

func (m *MemStore) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetSetting"); err != nil {
		return err
	}
	m.settings[key] = value
	return nil
}

func (m *MemStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetSetting"); err != nil {
		return "", false, err
	}
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *MemStore) AllSettings(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AllSettings"); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}

func (m *MemStore) DeleteSetting(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteSetting"); err != nil {
		return err
	}
	delete(m.settings, key)
	return nil
}

func (m *MemStore) CreateAuction(ctx context.Context, a *auction.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateAuction"); err != nil {
		return err
	}
	cp := *a
	m.auctions[a.ID] = &cp
	return nil
}

func (m *MemStore) GetAuction(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetAuction"); err != nil {
		return nil, err
	}
	a, ok := m.auctions[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MemStore) GetActiveAuction(ctx context.Context) (*auction.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetActiveAuction"); err != nil {
		return nil, err
	}
	var latest *auction.Auction
	for _, a := range m.auctions {
		if a.Status != auction.StatusOpen {
			continue
		}
		if latest == nil || a.StartedAt.After(latest.StartedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemStore) EndAuction(ctx context.Context, id uuid.UUID, finalPrice *int64, winnerID *string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("EndAuction"); err != nil {
		return err
	}
	a, ok := m.auctions[id]
	if !ok || a.Status != auction.StatusOpen {
		return nil
	}
	a.Status = auction.StatusEnded
	a.EndedAt = &endedAt
	a.FinalPrice = finalPrice
	a.WinnerID = winnerID
	return nil
}

func (m *MemStore) AddBid(ctx context.Context, b *auction.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddBid"); err != nil {
		return err
	}
	cp := *b
	m.bids[b.AuctionID] = append(m.bids[b.AuctionID], &cp)
	return nil
}

func (m *MemStore) GetBidsForAuction(ctx context.Context, auctionID uuid.UUID) ([]*auction.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetBidsForAuction"); err != nil {
		return nil, err
	}
	src := m.bids[auctionID]
	out := make([]*auction.Bid, 0, len(src))
	for _, b := range src {
		cp := *b
		out = append(out, &cp)
	}
	auction.RankBids(out)
	return out, nil
}

func (m *MemStore) UndoLastBid(ctx context.Context, auctionID uuid.UUID) (*auction.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UndoLastBid"); err != nil {
		return nil, err
	}
	src := m.bids[auctionID]
	if len(src) == 0 {
		return nil, nil
	}
	latest := 0
	for i, b := range src {
		if b.CreatedAt.After(src[latest].CreatedAt) {
			latest = i
		}
	}
	removed := src[latest]
	m.bids[auctionID] = append(src[:latest], src[latest+1:]...)
	cp := *removed
	return &cp, nil
}

func (m *MemStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter("Ping")
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Close"]++
	return nil
}
