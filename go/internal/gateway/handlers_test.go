package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gavelhq/bidwire/go/internal/auction"
)

// The client contract: 404 means gone, 409 means "refetch and move on", 400
// means the request itself was wrong.
func TestWriteServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"auction not found", auction.ErrAuctionNotFound, http.StatusNotFound},
		{"already sold", auction.ErrAuctionSold, http.StatusConflict},
		{"auction ended", auction.ErrAuctionEnded, http.StatusConflict},
		{"not live", auction.ErrAuctionNotLive, http.StatusConflict},
		{"bid too low", auction.ErrBidTooLow, http.StatusConflict},
		{"self bid", auction.ErrSelfBid, http.StatusBadRequest},
		{"insufficient funds", auction.ErrInsufficientFunds, http.StatusBadRequest},
		{"empty chat message", auction.ErrEmptyChatMessage, http.StatusBadRequest},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, tt.err)

			require.Equal(t, tt.wantStatus, w.Code)

			var body struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.NotEmpty(t, body.Error)
		})
	}
}

func TestWriteServiceErrorKeepsWrappedReason(t *testing.T) {
	w := httptest.NewRecorder()
	writeServiceError(w, errors.New("database exploded"))

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	// Internal details never leak to clients.
	require.Equal(t, "internal error", body.Error)
}
