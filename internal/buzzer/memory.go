package buzzer

import (
	"context"
	"sync"

	"github.com/buzzboard/buzzboard/internal/models"
)

// MemoryArbiter serializes all slot updates behind a mutex. It backs
// single-process deployments (host and gateway in one binary) and tests;
// multi-process deployments use the JetStream KV arbiter in roomsync,
// which provides the same contract via revision-checked writes.
type MemoryArbiter struct {
	mu   sync.Mutex
	slot models.BuzzerSlot
}

// NewMemoryArbiter returns an arbiter holding a cleared, disarmed slot.
func NewMemoryArbiter() *MemoryArbiter {
	return &MemoryArbiter{}
}

func (a *MemoryArbiter) Arm(ctx context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slot = models.BuzzerSlot{Enabled: true, Press: nil, Epoch: a.slot.Epoch + 1}
	return a.slot.Epoch, nil
}

func (a *MemoryArbiter) AttemptBuzz(ctx context.Context, press models.BuzzerPress) (bool, models.BuzzerSlot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.slot.Enabled || a.slot.Press != nil {
		return false, a.snapshotLocked(), nil
	}
	p := press
	a.slot.Enabled = false
	a.slot.Press = &p
	return true, a.snapshotLocked(), nil
}

func (a *MemoryArbiter) Disarm(ctx context.Context, press *models.BuzzerPress) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slot.Enabled = false
	if press != nil {
		p := *press
		a.slot.Press = &p
	} else {
		a.slot.Press = nil
	}
	return nil
}

func (a *MemoryArbiter) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slot.Enabled = false
	a.slot.Press = nil
	return nil
}

func (a *MemoryArbiter) Snapshot(ctx context.Context) (models.BuzzerSlot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(), nil
}

func (a *MemoryArbiter) snapshotLocked() models.BuzzerSlot {
	out := a.slot
	if a.slot.Press != nil {
		p := *a.slot.Press
		out.Press = &p
	}
	return out
}
