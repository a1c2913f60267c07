package livesync

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Reconciler owns the local view of one auction and merges the event stream
// into it deterministically. Every merge rule is idempotent and
// order-independent, so the reconciler stays correct under duplicate and
// reordered delivery. All mutations go through the mutex; hosts that deliver
// events from multiple goroutines get the required exclusion for free.
type Reconciler struct {
	mu       sync.Mutex
	snapshot AuctionSnapshot
	bids     []BidRecord
	chat     []ChatMessage
	bidIDs   map[string]struct{}
	chatIDs  map[string]struct{}
}

// View is a consistent copy of the reconciler's state.
type View struct {
	Snapshot AuctionSnapshot
	Bids     []BidRecord
	Chat     []ChatMessage
}

// NewReconciler returns an empty reconciler. ApplySnapshot must run before
// any event application.
func NewReconciler() *Reconciler {
	return &Reconciler{
		bidIDs:  make(map[string]struct{}),
		chatIDs: make(map[string]struct{}),
	}
}

// ApplySnapshot replaces the snapshot and bid list wholesale. Used on
// (re)connect to close any gap accumulated while disconnected.
func (r *Reconciler) ApplySnapshot(s AuctionSnapshot, bids []BidRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshot = s
	r.bids = r.bids[:0]
	r.bidIDs = make(map[string]struct{}, len(bids))
	for _, b := range bids {
		if _, dup := r.bidIDs[b.ID]; dup {
			continue
		}
		r.bidIDs[b.ID] = struct{}{}
		r.insertBidLocked(b)
	}
}

// ApplyChatHistory replaces the chat transcript wholesale.
func (r *Reconciler) ApplyChatHistory(msgs []ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.chat = r.chat[:0]
	r.chatIDs = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := r.chatIDs[m.ID]; dup {
			continue
		}
		r.chatIDs[m.ID] = struct{}{}
		r.insertChatLocked(m)
	}
}

// ApplyBidInserted merges one bid event. Duplicate ids are no-ops. The
// current price only ever moves up (monotonic max, not last-write-wins), so a
// stale lower bid arriving after a newer higher one cannot clobber the price.
func (r *Reconciler) ApplyBidInserted(b BidRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.bidIDs[b.ID]; dup {
		return
	}
	r.bidIDs[b.ID] = struct{}{}
	r.insertBidLocked(b)

	if b.Amount > r.snapshot.CurrentPrice {
		r.snapshot.CurrentPrice = b.Amount
	}
}

// ApplyAuctionUpdated merges a partial authoritative update. Status only
// moves forward; a backward transition is dropped and logged while the rest
// of the update still applies. Price follows the same monotonic-max rule as
// bids.
func (r *Reconciler) ApplyAuctionUpdated(u AuctionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.Title != nil {
		r.snapshot.Title = *u.Title
	}
	if u.Description != nil {
		r.snapshot.Description = *u.Description
	}
	if u.ImageRef != nil {
		r.snapshot.ImageRef = *u.ImageRef
	}
	if u.EndsAt != nil {
		r.snapshot.EndsAt = *u.EndsAt
	}
	if u.CurrentPrice != nil && *u.CurrentPrice > r.snapshot.CurrentPrice {
		r.snapshot.CurrentPrice = *u.CurrentPrice
	}
	if u.BoughtBy != nil && *u.BoughtBy != "" {
		r.snapshot.BoughtBy = *u.BoughtBy
	}
	if u.Status != nil {
		if u.Status.Before(r.snapshot.Status) {
			log.Warn().
				Str("auction_id", r.snapshot.ID).
				Str("current_status", string(r.snapshot.Status)).
				Str("event_status", string(*u.Status)).
				Msg("dropping backward status transition")
		} else {
			r.snapshot.Status = *u.Status
		}
	}
}

// ApplyChatInserted merges one chat event, idempotent by id.
func (r *Reconciler) ApplyChatInserted(m ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.chatIDs[m.ID]; dup {
		return
	}
	r.chatIDs[m.ID] = struct{}{}
	r.insertChatLocked(m)
}

// Snapshot returns a copy of the current auction snapshot.
func (r *Reconciler) Snapshot() AuctionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// Bids returns a copy of the bid list, amount desc, created_at asc.
func (r *Reconciler) Bids() []BidRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BidRecord, len(r.bids))
	copy(out, r.bids)
	return out
}

// Chat returns a copy of the chat transcript, created_at asc.
func (r *Reconciler) Chat() []ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChatMessage, len(r.chat))
	copy(out, r.chat)
	return out
}

// View returns a consistent copy of everything under one lock acquisition.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{
		Snapshot: r.snapshot,
		Bids:     make([]BidRecord, len(r.bids)),
		Chat:     make([]ChatMessage, len(r.chat)),
	}
	copy(v.Bids, r.bids)
	copy(v.Chat, r.chat)
	return v
}

func bidBefore(a, b BidRecord) bool {
	if a.Amount != b.Amount {
		return a.Amount > b.Amount
	}
	return a.CreatedAt.Time.Before(b.CreatedAt.Time)
}

func (r *Reconciler) insertBidLocked(b BidRecord) {
	idx := sort.Search(len(r.bids), func(i int) bool {
		return bidBefore(b, r.bids[i])
	})
	r.bids = append(r.bids, BidRecord{})
	copy(r.bids[idx+1:], r.bids[idx:])
	r.bids[idx] = b
}

func (r *Reconciler) insertChatLocked(m ChatMessage) {
	// Strict Before keeps arrival order among equal timestamps.
	idx := sort.Search(len(r.chat), func(i int) bool {
		return m.CreatedAt.Time.Before(r.chat[i].CreatedAt.Time)
	})
	r.chat = append(r.chat, ChatMessage{})
	copy(r.chat[idx+1:], r.chat[idx:])
	r.chat[idx] = m
}
