package domain

import "fmt"

// PauseReason names one of the independent reasons an SLA clock can be suspended.
type PauseReason string

const (
	PauseReasonManual        PauseReason = "manual"
	PauseReasonAwaitingReply PauseReason = "awaiting_reply"
	PauseReasonOutsideHours  PauseReason = "outside_hours"
)

// ParsePauseReason validates a wire value.
func ParsePauseReason(v string) (PauseReason, error) {
	switch PauseReason(v) {
	case PauseReasonManual, PauseReasonAwaitingReply, PauseReasonOutsideHours:
		return PauseReason(v), nil
	default:
		return "", fmt.Errorf("unknown pause reason %q", v)
	}
}

// PauseFlags holds the three pause booleans. The ticket is paused when any is set.
type PauseFlags struct {
	Manual        bool `json:"manual"`
	AwaitingReply bool `json:"awaiting_reply"`
	OutsideHours  bool `json:"outside_hours"`
}

// Any reports the logical OR of all flags.
func (f PauseFlags) Any() bool {
	return f.Manual || f.AwaitingReply || f.OutsideHours
}

// Get returns the value of a single flag.
func (f PauseFlags) Get(reason PauseReason) bool {
	switch reason {
	case PauseReasonManual:
		return f.Manual
	case PauseReasonAwaitingReply:
		return f.AwaitingReply
	case PauseReasonOutsideHours:
		return f.OutsideHours
	}
	return false
}

// With returns a copy with one flag set to active.
func (f PauseFlags) With(reason PauseReason, active bool) PauseFlags {
	switch reason {
	case PauseReasonManual:
		f.Manual = active
	case PauseReasonAwaitingReply:
		f.AwaitingReply = active
	case PauseReasonOutsideHours:
		f.OutsideHours = active
	}
	return f
}

// Primary returns the reason shown to users when several are active.
// Priority: outside hours, then awaiting reply, then manual.
func (f PauseFlags) Primary() PauseReason {
	switch {
	case f.OutsideHours:
		return PauseReasonOutsideHours
	case f.AwaitingReply:
		return PauseReasonAwaitingReply
	case f.Manual:
		return PauseReasonManual
	}
	return ""
}
