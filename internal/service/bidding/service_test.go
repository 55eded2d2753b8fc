package bidding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auctionhouse/auctiond/internal/amount"
	"github.com/auctionhouse/auctiond/internal/domain/auction"
	"github.com/auctionhouse/auctiond/internal/domain/errors"
	"github.com/auctionhouse/auctiond/internal/infrastructure/cache"
	"github.com/auctionhouse/auctiond/internal/infrastructure/events"
	"github.com/auctionhouse/auctiond/internal/testutil"
)

type fakeRegistry struct {
	mu       sync.Mutex
	ensured  []uuid.UUID
	canceled []uuid.UUID
}

func (r *fakeRegistry) Ensure(id uuid.UUID) {
	r.mu.Lock()
	r.ensured = append(r.ensured, id)
	r.mu.Unlock()
}

func (r *fakeRegistry) Cancel(id uuid.UUID) {
	r.mu.Lock()
	r.canceled = append(r.canceled, id)
	r.mu.Unlock()
}

type fakeFinalizer struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (f *fakeFinalizer) Finalize(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	return nil
}

// fakeClock lets tests step time past the cooldown window without
// sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store     *testutil.MemStore
	registry  *fakeRegistry
	finalizer *fakeFinalizer
	clock     *fakeClock
	svc       *Service
}

func newFixture(t *testing.T, elig Eligibility) *fixture {
	t.Helper()
	f := &fixture{
		store:     testutil.NewMemStore(),
		registry:  &fakeRegistry{},
		finalizer: &fakeFinalizer{},
		clock:     &fakeClock{now: time.Now().UTC()},
	}
	f.svc = NewService(
		f.store,
		cache.NewMemoryCooldowns(),
		elig,
		amount.NewCodec(1_000, 1_000_000_000_000),
		f.registry,
		f.finalizer,
		events.NewPublisher(zap.NewNop()),
		zap.NewNop(),
		Config{
			Cooldown:            2 * time.Second,
			DefaultStartBid:     250_000,
			DefaultMinIncrement: 50_000,
			DefaultDuration:     24 * time.Hour,
		},
	)
	f.svc.now = f.clock.Now
	return f
}

func (f *fixture) open(t *testing.T) *auction.Auction {
	t.Helper()
	a, err := f.svc.OpenAuction(context.Background(), OpenAuctionRequest{StartedBy: "seller"})
	require.NoError(t, err)
	return a
}

// bid advances the clock past the cooldown first, so tests exercise
// one rule at a time.
func (f *fixture) bid(t *testing.T, auctionID uuid.UUID, user string, value int64) (*auction.Bid, error) {
	t.Helper()
	f.clock.Advance(3 * time.Second)
	return f.svc.PlaceBid(context.Background(), PlaceBidRequest{
		AuctionID: auctionID, UserID: user, Amount: &value,
	})
}

func requireRejection(t *testing.T, err error, code string) *errors.AppError {
	t.Helper()
	require.Error(t, err)
	rej, ok := errors.IsRejection(err)
	require.True(t, ok, "expected rejection, got %v", err)
	require.Equal(t, code, rej.Code)
	return rej
}

func amt(v int64) *int64 { return &v }

func TestBiddingScenario(t *testing.T) {
	// Start 250K, minimum increment 50K. Alice opens at 300K, Bob's
	// 310K is 40K short, Bob clears with +60K = 360K, Alice's 380K is
	// then 20K short of 410K.
	f := newFixture(t, nil)
	a := f.open(t)

	_, err := f.bid(t, a.ID, "alice", 250_000)
	requireRejection(t, err, errors.CodeIncrementTooSmall)

	b1, err := f.bid(t, a.ID, "alice", 300_000)
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), b1.Amount)

	_, err = f.bid(t, a.ID, "bob", 310_000)
	requireRejection(t, err, errors.CodeIncrementTooSmall)

	// Increment bids resolve against the current highest.
	f.clock.Advance(3 * time.Second)
	b2, err := f.svc.PlaceBid(context.Background(), PlaceBidRequest{
		AuctionID: a.ID, UserID: "bob", Increment: amt(60_000),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(360_000), b2.Amount)

	_, err = f.bid(t, a.ID, "alice", 380_000)
	requireRejection(t, err, errors.CodeIncrementTooSmall)

	bids, err := f.store.GetBidsForAuction(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, "bob", bids[0].UserID)
	assert.Equal(t, int64(360_000), bids[0].Amount)
}

func TestCooldownRejectsRapidBids(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)
	ctx := context.Background()

	_, err := f.bid(t, a.ID, "alice", 300_000)
	require.NoError(t, err)

	// Half a second later the same user is still on cooldown.
	f.clock.Advance(500 * time.Millisecond)
	_, err = f.svc.PlaceBid(ctx, PlaceBidRequest{
		AuctionID: a.ID, UserID: "alice", Amount: amt(400_000),
	})
	rej := requireRejection(t, err, errors.CodeCooldown)
	remaining, ok := rej.Details["remaining_seconds"].(int)
	require.True(t, ok)
	assert.Greater(t, remaining, 0)

	// A different user is unaffected.
	_, err = f.svc.PlaceBid(ctx, PlaceBidRequest{
		AuctionID: a.ID, UserID: "bob", Amount: amt(400_000),
	})
	require.NoError(t, err)
}

func TestRejectedAttemptStillArmsCooldown(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)

	_, err := f.bid(t, a.ID, "alice", 250_001)
	requireRejection(t, err, errors.CodeIncrementTooSmall)

	// The rejected attempt stamped the cooldown all the same.
	f.clock.Advance(time.Second)
	_, err = f.svc.PlaceBid(context.Background(), PlaceBidRequest{
		AuctionID: a.ID, UserID: "alice", Amount: amt(300_000),
	})
	requireRejection(t, err, errors.CodeCooldown)
}

func TestNoActiveAuction(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.bid(t, uuid.New(), "alice", 300_000)
	requireRejection(t, err, errors.CodeNotActive)
}

func TestBidAgainstWrongAuction(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t)

	_, err := f.bid(t, uuid.New(), "alice", 300_000)
	requireRejection(t, err, errors.CodeNotActive)
}

func TestEligibilityDenial(t *testing.T) {
	denyAll := EligibilityFunc(func(context.Context, string, uuid.UUID) error {
		return errors.NewRejection(errors.CodeForbidden, "sellers cannot bid")
	})
	f := newFixture(t, denyAll)
	a := f.open(t)

	_, err := f.bid(t, a.ID, "seller", 300_000)
	requireRejection(t, err, errors.CodeForbidden)
}

func TestSelfOutbidRejected(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)

	_, err := f.bid(t, a.ID, "alice", 300_000)
	require.NoError(t, err)

	// Well past cooldown, any self-raise is still rejected.
	_, err = f.bid(t, a.ID, "alice", 500_000)
	requireRejection(t, err, errors.CodeAlreadyHighest)
}

func TestOutOfRange(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)

	_, err := f.bid(t, a.ID, "alice", 2_000_000_000_000)
	requireRejection(t, err, errors.CodeOutOfRange)
}

func TestAcceptedBidSideEffects(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)
	ctx := context.Background()

	b, err := f.bid(t, a.ID, "alice", 300_000)
	require.NoError(t, err)

	// Last-bid timestamp written with full precision.
	raw, ok, err := f.store.GetSetting(ctx, auction.LastBidKey(a.ID))
	require.NoError(t, err)
	require.True(t, ok)
	ts, ok := auction.ParseTimestamp(raw)
	require.True(t, ok)
	assert.True(t, ts.Equal(b.CreatedAt))

	// OpenAuction ensured a monitor, and the bid ensured it again.
	require.Len(t, f.registry.ensured, 2)
	assert.Equal(t, a.ID, f.registry.ensured[1])
}

func TestPlaceBidText(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)
	ctx := context.Background()

	f.clock.Advance(3 * time.Second)
	b, err := f.svc.PlaceBidText(ctx, a.ID, "alice", "300k")
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), b.Amount)

	_, err = f.svc.PlaceBidText(ctx, a.ID, "bob", "lots")
	requireRejection(t, err, errors.CodeParseError)
}

func TestOpenAuctionConflict(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t)

	_, err := f.svc.OpenAuction(context.Background(), OpenAuctionRequest{StartedBy: "other"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
}

func TestOpenAuctionDefaults(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)

	assert.Equal(t, int64(250_000), a.StartBid)
	assert.Equal(t, int64(50_000), a.MinIncrement)
	assert.True(t, a.IsOpen())
	assert.True(t, a.EndsAt.After(a.StartedAt))
}

func TestEndAuctionNow(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)

	require.NoError(t, f.svc.EndAuctionNow(context.Background(), a.ID))
	require.Len(t, f.finalizer.calls, 1)
	assert.Equal(t, a.ID, f.finalizer.calls[0])
	require.Len(t, f.registry.canceled, 1)
	assert.Equal(t, a.ID, f.registry.canceled[0])
}

func TestUndoLastBid(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)
	ctx := context.Background()

	b1, err := f.bid(t, a.ID, "alice", 300_000)
	require.NoError(t, err)
	b2, err := f.bid(t, a.ID, "bob", 400_000)
	require.NoError(t, err)

	removed, err := f.svc.UndoLastBid(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, b2.ID, removed.ID)

	// Timestamp rewinds to the surviving latest bid.
	raw, ok, err := f.store.GetSetting(ctx, auction.LastBidKey(a.ID))
	require.NoError(t, err)
	require.True(t, ok)
	ts, _ := auction.ParseTimestamp(raw)
	assert.True(t, ts.Equal(b1.CreatedAt))

	// Removing the only remaining bid clears the key entirely.
	removed, err = f.svc.UndoLastBid(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, b1.ID, removed.ID)

	_, ok, err = f.store.GetSetting(ctx, auction.LastBidKey(a.ID))
	require.NoError(t, err)
	assert.False(t, ok)

	// Nothing left to undo.
	removed, err = f.svc.UndoLastBid(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestSetPanelRef(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SetPanelRef(ctx, a.ID, "channel-7", "message-42"))

	ch, ok, err := f.store.GetSetting(ctx, auction.PanelChannelKey(a.ID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "channel-7", ch)

	msg, ok, err := f.store.GetSetting(ctx, auction.PanelMessageKey(a.ID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "message-42", msg)

	err = f.svc.SetPanelRef(ctx, uuid.New(), "c", "m")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestActiveAuction(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	got, err := f.svc.ActiveAuction(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	a := f.open(t)
	got, err = f.svc.ActiveAuction(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)
}

func TestDebugSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)
	ctx := context.Background()

	_, err := f.bid(t, a.ID, "alice", 300_000)
	require.NoError(t, err)

	snap, err := f.svc.DebugSnapshot(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, snap.Auction.ID)
	require.Len(t, snap.Bids, 1)
	assert.Contains(t, snap.EphemeralKeys, auction.LastBidKey(a.ID))

	_, err = f.svc.DebugSnapshot(ctx, uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestCooldownStoreFailureDegradesToOpen(t *testing.T) {
	f := newFixture(t, nil)
	a := f.open(t)

	// A cooldown store that always errors must never block bids.
	f.svc.cooldowns = failingCooldowns{}
	_, err := f.svc.PlaceBid(context.Background(), PlaceBidRequest{
		AuctionID: a.ID, UserID: "alice", Amount: amt(300_000),
	})
	require.NoError(t, err)
}

type failingCooldowns struct{}

func (failingCooldowns) Touch(context.Context, string, time.Time) error {
	return assert.AnError
}

func (failingCooldowns) Last(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, assert.AnError
}
