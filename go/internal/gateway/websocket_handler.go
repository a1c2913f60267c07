package gateway

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler upgrades authenticated clients onto event feeds.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	auth              *Authenticator
}

// NewWebSocketHandler creates a WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager, auth *Authenticator) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		auth:              auth,
	}
}

// HandleAuctionFeed subscribes the caller to one auction's event feed.
// The auction id comes from the auction_id query parameter.
func (h *WebSocketHandler) HandleAuctionFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	auctionIDStr := r.URL.Query().Get("auction_id")
	if auctionIDStr == "" {
		http.Error(w, "auction_id is required", http.StatusBadRequest)
		return
	}
	auctionID, err := uuid.Parse(auctionIDStr)
	if err != nil {
		http.Error(w, "invalid auction_id format", http.StatusBadRequest)
		return
	}

	if err := h.connectionManager.UpgradeAuction(w, r, userID, auctionID); err != nil {
		log.Error().
			Err(err).
			Str("auction_id", auctionID.String()).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleInboxFeed subscribes the caller to their own notification feed.
func (h *WebSocketHandler) HandleInboxFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.connectionManager.UpgradeInbox(w, r, userID); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID.String()).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats reports pool sizes.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, topics := h.connectionManager.ConnectionStats()
	writeJSON(w, http.StatusOK, map[string]int{
		"total_connections": total,
		"active_topics":     topics,
	})
}

// RegisterRoutes registers the WebSocket routes with mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/auction", h.HandleAuctionFeed)
	mux.HandleFunc("/ws/inbox", h.HandleInboxFeed)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
