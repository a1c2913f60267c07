package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gavelhq/bidwire/go/internal/auction"
	"github.com/gavelhq/bidwire/go/internal/notification"
)

// API serves the REST surface the live-sync clients talk to.
type API struct {
	auctions      *auction.Service
	notifications *notification.Service
	cache         *StateCache

	// onAuctionCreated, when set, runs after a listing is created. The expiry
	// scheduler hooks its Wake here.
	onAuctionCreated func()
}

// NewAPI creates the REST handler set.
func NewAPI(auctions *auction.Service, notifications *notification.Service, cache *StateCache) *API {
	return &API{
		auctions:      auctions,
		notifications: notifications,
		cache:         cache,
	}
}

// OnAuctionCreated registers a hook invoked after each new listing.
func (api *API) OnAuctionCreated(fn func()) {
	api.onAuctionCreated = fn
}

// RegisterRoutes wires the REST routes onto mux. All routes require auth.
func (api *API) RegisterRoutes(mux *http.ServeMux, auth *Authenticator) {
	mux.Handle("GET /auctions/{id}/state", auth.Middleware(http.HandlerFunc(api.handleGetState)))
	mux.Handle("POST /auctions/{id}/bids", auth.Middleware(http.HandlerFunc(api.handlePlaceBid)))
	mux.Handle("POST /auctions/{id}/buy", auth.Middleware(http.HandlerFunc(api.handleBuyNow)))
	mux.Handle("POST /auctions/{id}/chat", auth.Middleware(http.HandlerFunc(api.handlePostChat)))
	mux.Handle("POST /auctions", auth.Middleware(http.HandlerFunc(api.handleCreateAuction)))
	mux.Handle("GET /users/me/notifications", auth.Middleware(http.HandlerFunc(api.handleListNotifications)))
	mux.Handle("POST /notifications/{id}/read", auth.Middleware(http.HandlerFunc(api.handleMarkNotificationRead)))
}

func (api *API) handleGetState(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if data, hit := api.cache.Get(r.Context(), auctionID); hit {
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
		return
	}

	state, err := api.auctions.GetAuctionState(r.Context(), auctionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	data, err := json.Marshal(state)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.cache.Set(r.Context(), auctionID, data)

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (api *API) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := requireUser(w, r.Context())
	if !ok {
		return
	}

	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bid, err := api.auctions.PlaceBid(r.Context(), auctionID, userID, body.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

func (api *API) handleBuyNow(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := requireUser(w, r.Context())
	if !ok {
		return
	}

	bought, err := api.auctions.BuyNow(r.Context(), auctionID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bought)
}

func (api *API) handlePostChat(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := requireUser(w, r.Context())
	if !ok {
		return
	}

	var body struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := api.auctions.PostChatMessage(r.Context(), auctionID, userID, body.Body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (api *API) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r.Context())
	if !ok {
		return
	}

	var body struct {
		Title         string `json:"title"`
		Description   string `json:"description"`
		ImageRef      string `json:"image_ref"`
		StartingPrice int64  `json:"starting_price"`
		EndsAt        string `json:"ends_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := api.auctions.CreateAuction(r.Context(), auction.CreateAuctionParams{
		SellerID:      userID,
		Title:         body.Title,
		Description:   body.Description,
		ImageRef:      body.ImageRef,
		StartingPrice: body.StartingPrice,
		EndsAt:        body.EndsAt,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if api.onAuctionCreated != nil {
		api.onAuctionCreated()
	}
	writeJSON(w, http.StatusCreated, created)
}

func (api *API) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r.Context())
	if !ok {
		return
	}

	limit := int64(0)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	notifications, err := api.notifications.List(r.Context(), userID, int32(limit))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (api *API) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	notificationID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := requireUser(w, r.Context())
	if !ok {
		return
	}

	if err := api.notifications.MarkRead(r.Context(), notificationID, userID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func requireUser(w http.ResponseWriter, ctx context.Context) (uuid.UUID, bool) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

// writeServiceError maps service errors onto the wire contract: 404 for
// missing auctions, 409 for preconditions that a fresh snapshot would have
// caught (the client treats these as "refetch and move on"), 400 for caller
// mistakes no refetch can fix.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound):
		writeError(w, http.StatusNotFound, auction.ErrAuctionNotFound.Error())
	case errors.Is(err, auction.ErrAuctionSold),
		errors.Is(err, auction.ErrAuctionEnded),
		errors.Is(err, auction.ErrAuctionNotLive),
		errors.Is(err, auction.ErrBidTooLow):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auction.ErrSelfBid),
		errors.Is(err, auction.ErrInsufficientFunds),
		errors.Is(err, auction.ErrEmptyChatMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
