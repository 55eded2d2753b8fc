package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auctionhouse/auctiond/internal/amount"
	"github.com/auctionhouse/auctiond/internal/domain/auction"
	"github.com/auctionhouse/auctiond/internal/infrastructure/cache"
	"github.com/auctionhouse/auctiond/internal/infrastructure/database"
	"github.com/auctionhouse/auctiond/internal/infrastructure/events"
	"github.com/auctionhouse/auctiond/internal/service/bidding"
	"github.com/auctionhouse/auctiond/internal/service/lifecycle"
	"github.com/auctionhouse/auctiond/internal/testutil"
)

type nopRegistry struct{}

func (nopRegistry) Ensure(uuid.UUID) {}
func (nopRegistry) Cancel(uuid.UUID) {}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	logger := zap.NewNop()
	secondary := testutil.NewMemStore()
	factory := func(context.Context) (database.Store, error) {
		return nil, fmt.Errorf("primary unavailable")
	}
	controller := database.NewFailoverController(factory, secondary, false, 3, 5*time.Minute, logger)

	publisher := events.NewPublisher(logger)
	finalizer := lifecycle.NewFinalizer(controller, publisher, logger, 20)
	svc := bidding.NewService(
		controller,
		cache.NewMemoryCooldowns(),
		nil,
		amount.NewCodec(1_000, 1_000_000_000_000),
		nopRegistry{},
		finalizer,
		publisher,
		logger,
		bidding.Config{
			DefaultStartBid:     250_000,
			DefaultMinIncrement: 50_000,
			DefaultDuration:     24 * time.Hour,
		},
	)
	return NewHandler(svc, controller, logger)
}

func doJSON(t *testing.T, h *Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func openTestAuction(t *testing.T, h *Handler) *auction.Auction {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/auctions", map[string]interface{}{
		"started_by": "seller",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a auction.Auction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	return &a
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestHandler(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusReportsBackend(t *testing.T) {
	rec := doJSON(t, newTestHandler(t), http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status database.ConnectionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, database.BackendSecondary, status.ActiveBackend)
	assert.False(t, status.PrimaryConfigured)
}

func TestRetryPrimaryWithoutPrimary(t *testing.T) {
	rec := doJSON(t, newTestHandler(t), http.MethodPost, "/v1/storage/retry-primary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		PrimaryActive bool `json:"primary_active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.PrimaryActive)
}

func TestOpenAndFetchActiveAuction(t *testing.T) {
	h := newTestHandler(t)
	a := openTestAuction(t, h)
	assert.Equal(t, int64(250_000), a.StartBid)

	rec := doJSON(t, h, http.MethodGet, "/v1/auctions/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active auction.Auction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.Equal(t, a.ID, active.ID)

	// A second open conflicts.
	rec = doJSON(t, h, http.MethodPost, "/v1/auctions", map[string]interface{}{
		"started_by": "other",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestNoActiveAuctionIs404(t *testing.T) {
	rec := doJSON(t, newTestHandler(t), http.MethodGet, "/v1/auctions/active", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaceBid(t *testing.T) {
	h := newTestHandler(t)
	a := openTestAuction(t, h)

	rec := doJSON(t, h, http.MethodPost, "/v1/auctions/"+a.ID.String()+"/bids",
		map[string]interface{}{"user_id": "alice", "amount": "300k"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b auction.Bid
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, int64(300_000), b.Amount)

	// A rejection maps to 422 and carries the code.
	rec = doJSON(t, h, http.MethodPost, "/v1/auctions/"+a.ID.String()+"/bids",
		map[string]interface{}{"user_id": "bob", "amount": "310k"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var rejection struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejection))
	assert.Equal(t, "INCREMENT_TOO_SMALL", rejection.Code)

	// Increment bids resolve server-side.
	inc := int64(60_000)
	rec = doJSON(t, h, http.MethodPost, "/v1/auctions/"+a.ID.String()+"/bids",
		map[string]interface{}{"user_id": "bob", "increment": inc})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, int64(360_000), b.Amount)
}

func TestPlaceBidValidation(t *testing.T) {
	h := newTestHandler(t)
	a := openTestAuction(t, h)

	// Missing user_id.
	rec := doJSON(t, h, http.MethodPost, "/v1/auctions/"+a.ID.String()+"/bids",
		map[string]interface{}{"amount": "300k"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed auction id.
	rec = doJSON(t, h, http.MethodPost, "/v1/auctions/not-a-uuid/bids",
		map[string]interface{}{"user_id": "alice", "amount": "300k"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUndoLastBid(t *testing.T) {
	h := newTestHandler(t)
	a := openTestAuction(t, h)

	// Nothing to undo yet.
	rec := doJSON(t, h, http.MethodDelete, "/v1/auctions/"+a.ID.String()+"/bids/last", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	doJSON(t, h, http.MethodPost, "/v1/auctions/"+a.ID.String()+"/bids",
		map[string]interface{}{"user_id": "alice", "amount": "300k"})

	rec = doJSON(t, h, http.MethodDelete, "/v1/auctions/"+a.ID.String()+"/bids/last", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var removed auction.Bid
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &removed))
	assert.Equal(t, int64(300_000), removed.Amount)
}

func TestSetPanelRef(t *testing.T) {
	h := newTestHandler(t)
	a := openTestAuction(t, h)

	rec := doJSON(t, h, http.MethodPut, "/v1/auctions/"+a.ID.String()+"/panel",
		map[string]interface{}{"channel_id": "channel-7", "message_id": "message-42"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The refs show up among the snapshot's ephemeral keys.
	rec = doJSON(t, h, http.MethodGet, "/v1/auctions/"+a.ID.String()+"/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap bidding.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Len(t, snap.EphemeralKeys, 2)

	// Missing fields fail validation.
	rec = doJSON(t, h, http.MethodPut, "/v1/auctions/"+a.ID.String()+"/panel",
		map[string]interface{}{"channel_id": "channel-7"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndAuctionAndSnapshot(t *testing.T) {
	h := newTestHandler(t)
	a := openTestAuction(t, h)

	doJSON(t, h, http.MethodPost, "/v1/auctions/"+a.ID.String()+"/bids",
		map[string]interface{}{"user_id": "alice", "amount": "300k"})

	rec := doJSON(t, h, http.MethodPost, "/v1/auctions/"+a.ID.String()+"/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// No longer active.
	rec = doJSON(t, h, http.MethodGet, "/v1/auctions/active", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The snapshot still serves the closed record, with ephemeral
	// keys cleared by finalization.
	rec = doJSON(t, h, http.MethodGet, "/v1/auctions/"+a.ID.String()+"/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap bidding.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.NotNil(t, snap.Auction)
	assert.Equal(t, auction.StatusEnded, snap.Auction.Status)
	require.Len(t, snap.Bids, 1)
	assert.Empty(t, snap.EphemeralKeys)

	rec = doJSON(t, h, http.MethodGet, "/v1/auctions/"+uuid.NewString()+"/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
