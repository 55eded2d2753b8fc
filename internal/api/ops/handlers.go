// Package ops is the operational HTTP surface: bid and admin
// endpoints, storage status introspection, debug snapshots, and the
// Prometheus metrics endpoint.
package ops

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	domerr "github.com/auctionhouse/auctiond/internal/domain/errors"
	"github.com/auctionhouse/auctiond/internal/infrastructure/database"
	"github.com/auctionhouse/auctiond/internal/service/bidding"
)

// Handler routes operational HTTP requests to the engine.
type Handler struct {
	service  *bidding.Service
	failover *database.FailoverController
	logger   *zap.Logger
	validate *validator.Validate
}

func NewHandler(service *bidding.Service, failover *database.FailoverController, logger *zap.Logger) *Handler {
	return &Handler{
		service:  service,
		failover: failover,
		logger:   logger,
		validate: validator.New(),
	}
}

// Router builds the mux router for the ops server.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/status", h.Status).Methods(http.MethodGet)
	api.HandleFunc("/storage/retry-primary", h.RetryPrimary).Methods(http.MethodPost)
	api.HandleFunc("/auctions", h.OpenAuction).Methods(http.MethodPost)
	api.HandleFunc("/auctions/active", h.ActiveAuction).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/bids", h.PlaceBid).Methods(http.MethodPost)
	api.HandleFunc("/auctions/{id}/bids/last", h.UndoLastBid).Methods(http.MethodDelete)
	api.HandleFunc("/auctions/{id}/end", h.EndAuction).Methods(http.MethodPost)
	api.HandleFunc("/auctions/{id}/panel", h.SetPanelRef).Methods(http.MethodPut)
	api.HandleFunc("/auctions/{id}/snapshot", h.Snapshot).Methods(http.MethodGet)

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status reports which storage backend is active.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.failover.Status())
}

// RetryPrimary manually re-attempts primary establishment, bypassing
// the cool-off.
func (h *Handler) RetryPrimary(w http.ResponseWriter, r *http.Request) {
	ok := h.failover.RetryPrimary(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"primary_active": ok,
		"status":         h.failover.Status(),
	})
}

type openAuctionRequest struct {
	StartedBy       string `json:"started_by" validate:"required"`
	StartBid        int64  `json:"start_bid" validate:"gte=0"`
	MinIncrement    int64  `json:"min_increment" validate:"gte=0"`
	DurationSeconds int64  `json:"duration_seconds" validate:"gte=0"`
}

func (h *Handler) OpenAuction(w http.ResponseWriter, r *http.Request) {
	var req openAuctionRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.service.OpenAuction(r.Context(), bidding.OpenAuctionRequest{
		StartedBy:    req.StartedBy,
		StartBid:     req.StartBid,
		MinIncrement: req.MinIncrement,
		Duration:     secondsToDuration(req.DurationSeconds),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

func (h *Handler) ActiveAuction(w http.ResponseWriter, r *http.Request) {
	active, err := h.service.ActiveAuction(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if active == nil {
		h.respondError(w, domerr.NewNotFoundError("active auction"))
		return
	}
	respondJSON(w, http.StatusOK, active)
}

type placeBidRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	Amount    string `json:"amount" validate:"required_without=Increment"`
	Increment *int64 `json:"increment"`
}

func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := h.auctionID(w, r)
	if !ok {
		return
	}
	var req placeBidRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Increment != nil {
		b, err := h.service.PlaceBid(r.Context(), bidding.PlaceBidRequest{
			AuctionID: auctionID,
			UserID:    req.UserID,
			Increment: req.Increment,
		})
		if err != nil {
			h.respondError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, b)
		return
	}

	b, err := h.service.PlaceBidText(r.Context(), auctionID, req.UserID, req.Amount)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (h *Handler) UndoLastBid(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := h.auctionID(w, r)
	if !ok {
		return
	}
	removed, err := h.service.UndoLastBid(r.Context(), auctionID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if removed == nil {
		h.respondError(w, domerr.NewNotFoundError("bid"))
		return
	}
	respondJSON(w, http.StatusOK, removed)
}

func (h *Handler) EndAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := h.auctionID(w, r)
	if !ok {
		return
	}
	if err := h.service.EndAuctionNow(r.Context(), auctionID); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

type panelRefRequest struct {
	ChannelID string `json:"channel_id" validate:"required"`
	MessageID string `json:"message_id" validate:"required"`
}

// SetPanelRef records the external panel location for an auction.
func (h *Handler) SetPanelRef(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := h.auctionID(w, r)
	if !ok {
		return
	}
	var req panelRefRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetPanelRef(r.Context(), auctionID, req.ChannelID, req.MessageID); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := h.auctionID(w, r)
	if !ok {
		return
	}
	snap, err := h.service.DebugSnapshot(r.Context(), auctionID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (h *Handler) auctionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, domerr.NewValidationError("BAD_ID", "invalid auction id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, domerr.NewValidationError("BAD_BODY", "invalid request body"))
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.respondError(w, domerr.NewValidationError("BAD_REQUEST", err.Error()))
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var app *domerr.AppError
	if !errors.As(err, &app) {
		h.logger.Error("request failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
		return
	}

	status := http.StatusInternalServerError
	switch app.Type {
	case domerr.ErrorTypeRejection:
		status = http.StatusUnprocessableEntity
	case domerr.ErrorTypeValidation:
		status = http.StatusBadRequest
	case domerr.ErrorTypeNotFound:
		status = http.StatusNotFound
	case domerr.ErrorTypeConflict:
		status = http.StatusConflict
	case domerr.ErrorTypeStorage:
		status = http.StatusServiceUnavailable
		h.logger.Error("storage failure", zap.Error(err))
	default:
		h.logger.Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, app)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
