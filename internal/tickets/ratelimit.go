package tickets

import "time"

// WindowState is the persisted fixed-window counter of one registration.
type WindowState struct {
	Start *time.Time
	Count int
}

// Decision is the outcome of a fixed-window check.
type Decision struct {
	Allowed    bool
	Start      time.Time
	Count      int
	RetryAfter time.Duration
}

// CheckWindow applies the fixed-window rule: an expired (or never started)
// window resets to (now, 1) and allows; a full window denies without mutating
// state; otherwise the count increments. Bursts of up to 2x the limit at
// window boundaries are an accepted property of the fixed window.
func CheckWindow(state WindowState, now time.Time, window time.Duration, limit int) Decision {
	if state.Start == nil || now.Sub(*state.Start) > window {
		return Decision{Allowed: true, Start: now, Count: 1}
	}
	if state.Count >= limit {
		return Decision{
			Allowed:    false,
			Start:      *state.Start,
			Count:      state.Count,
			RetryAfter: window - now.Sub(*state.Start),
		}
	}
	return Decision{Allowed: true, Start: *state.Start, Count: state.Count + 1}
}
