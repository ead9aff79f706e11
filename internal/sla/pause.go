package sla

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// PauseTransition describes what ApplyPauseFlag did to a ticket.
type PauseTransition int

const (
	// PauseNoop means the flag already had the requested value.
	PauseNoop PauseTransition = iota
	// PauseFlagOnly means a flag changed but the ticket stayed paused or unpaused.
	PauseFlagOnly
	// PauseStarted means the ticket went from running to paused.
	PauseStarted
	// PauseEnded means the ticket went from paused to running and the episode was accumulated.
	PauseEnded
)

func (p PauseTransition) String() string {
	switch p {
	case PauseFlagOnly:
		return "flag_only"
	case PauseStarted:
		return "started"
	case PauseEnded:
		return "ended"
	}
	return "noop"
}

// Changed reports whether the ticket needs to be persisted.
func (p PauseTransition) Changed() bool {
	return p != PauseNoop
}

// ApplyPauseFlag sets one pause flag on t and applies the accumulation rule on
// the OR-of-flags edge:
//   - false to true records LastPauseStartedAt (never overwritten while paused)
//   - true to false adds now-LastPauseStartedAt to PausedTotalMinutes and clears it
//
// The accumulated delta is clamped at zero so PausedTotalMinutes never decreases.
func ApplyPauseFlag(t *domain.Ticket, reason domain.PauseReason, active bool, now time.Time) PauseTransition {
	if t.Flags.Get(reason) == active {
		return PauseNoop
	}

	wasPaused := t.Flags.Any()
	t.Flags = t.Flags.With(reason, active)
	isPaused := t.Flags.Any()

	switch {
	case !wasPaused && isPaused:
		if t.LastPauseStartedAt == nil {
			started := now
			t.LastPauseStartedAt = &started
		}
		return PauseStarted
	case wasPaused && !isPaused:
		if t.LastPauseStartedAt != nil {
			if delta := minutesBetween(*t.LastPauseStartedAt, now); delta > 0 {
				t.PausedTotalMinutes += delta
			}
		}
		t.LastPauseStartedAt = nil
		return PauseEnded
	}
	return PauseFlagOnly
}
