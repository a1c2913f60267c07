package livesync

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Phase is the derived biddability of an auction.
type Phase string

const (
	PhaseScheduled Phase = "Scheduled"
	PhaseLive      Phase = "Live"
	PhaseEnded     Phase = "Ended"
	PhaseSold      Phase = "Sold"
)

// Terminal reports whether the phase can no longer change.
func (p Phase) Terminal() bool {
	return p == PhaseEnded || p == PhaseSold
}

// Tick is one countdown evaluation.
type Tick struct {
	Phase     Phase
	Remaining time.Duration
	Display   string
}

// DeriveTick computes the countdown state for a snapshot at a wall-clock
// instant. Pure function; every consumer shares this one rule instead of
// re-deriving it per panel.
func DeriveTick(snap AuctionSnapshot, now time.Time) Tick {
	if snap.Sold() {
		return Tick{Phase: PhaseSold, Display: "Item Sold"}
	}
	if snap.Status == StatusEnded {
		return Tick{Phase: PhaseEnded, Display: "Auction Ended"}
	}
	if !snap.EndsAt.IsZero() && !now.Before(snap.EndsAt.Time) {
		return Tick{Phase: PhaseEnded, Display: "Auction Ended"}
	}

	var remaining time.Duration
	if !snap.EndsAt.IsZero() {
		remaining = snap.EndsAt.Time.Sub(now)
	}
	if snap.Status == StatusScheduled {
		// Not biddable yet; the monitor keeps ticking until it goes live.
		return Tick{Phase: PhaseScheduled, Remaining: remaining, Display: "Not Started"}
	}
	return Tick{Phase: PhaseLive, Remaining: remaining, Display: formatRemaining(remaining)}
}

// CountdownMonitor re-evaluates the derived phase on a fixed tick. It holds
// no state beyond the timer handle and stops ticking the moment the phase
// turns terminal.
type CountdownMonitor struct {
	clock    clockwork.Clock
	view     SnapshotView
	onTick   func(Tick)
	interval time.Duration
}

// NewCountdownMonitor creates a monitor delivering one Tick per evaluation.
func NewCountdownMonitor(clock clockwork.Clock, view SnapshotView, onTick func(Tick)) *CountdownMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CountdownMonitor{
		clock:    clock,
		view:     view,
		onTick:   onTick,
		interval: time.Second,
	}
}

// Run evaluates immediately, then once per second until the phase is
// terminal or ctx is cancelled. An auction whose ends_at is already in the
// past reports Ended on the first evaluation without waiting for a tick.
func (m *CountdownMonitor) Run(ctx context.Context) {
	if m.evaluate() {
		return
	}

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if m.evaluate() {
				return
			}
		}
	}
}

// evaluate emits one tick and reports whether it was terminal.
func (m *CountdownMonitor) evaluate() bool {
	tick := DeriveTick(m.view(), m.clock.Now())
	m.onTick(tick)
	return tick.Phase.Terminal()
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}
