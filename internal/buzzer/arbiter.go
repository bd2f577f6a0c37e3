// Package buzzer defines the arbitration primitive that resolves
// concurrent buzz-in attempts into exactly one winner per epoch.
//
// The slot is the only resource in the system with true multi-writer
// contention. Every implementation must apply AttemptBuzz as a single
// indivisible conditional update against the shared slot: commit iff the
// slot is currently enabled with no press. A read-then-write pair from
// the client is not acceptable; any client may be racing any other with
// unknown latency.
package buzzer

import (
	"context"

	"github.com/buzzboard/buzzboard/internal/models"
)

// Arbiter manages one room's buzzer slot.
//
// Arm and Disarm/Clear are host-only: the session state machine arms the
// slot once per question shown and once per steal round, and disarms it
// the moment a press commits. AttemptBuzz is the only write available to
// player devices.
type Arbiter interface {
	// Arm sets {enabled: true, press: nil} and starts a new epoch.
	// Returns the new epoch.
	Arm(ctx context.Context) (uint64, error)

	// AttemptBuzz conditionally commits press: it succeeds iff, at the
	// moment of application, the slot is enabled and holds no press.
	// On success the slot becomes {enabled: false, press: &press} and
	// committed is true. Otherwise the slot is untouched, committed is
	// false, and slot reports the state that won; the caller must roll
	// back any optimistic "I buzzed" indication.
	AttemptBuzz(ctx context.Context, press models.BuzzerPress) (committed bool, slot models.BuzzerSlot, err error)

	// Disarm forces the buzzer off, optionally recording press (host
	// override paths). Does not start a new epoch.
	Disarm(ctx context.Context, press *models.BuzzerPress) error

	// Clear resets the slot to {enabled: false, press: nil} between
	// rounds. Does not start a new epoch.
	Clear(ctx context.Context) error

	// Snapshot returns the current committed slot state.
	Snapshot(ctx context.Context) (models.BuzzerSlot, error)
}
