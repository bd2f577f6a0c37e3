package buzzer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/buzzboard/buzzboard/internal/models"
)

func press(team string) models.BuzzerPress {
	return models.BuzzerPress{
		PlayerID:   "player-" + team,
		PlayerName: "Player " + team,
		TeamID:     team,
		TeamName:   "Team " + team,
		Timestamp:  time.Now(),
	}
}

func TestAttemptBuzzRequiresArmedSlot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := NewMemoryArbiter()

	committed, slot, err := a.AttemptBuzz(ctx, press("a"))
	if err != nil {
		t.Fatal(err)
	}
	if committed {
		t.Fatal("buzz committed against a slot that was never armed")
	}
	if slot.Press != nil {
		t.Fatalf("slot press = %+v, want nil", slot.Press)
	}
}

func TestFirstBuzzWinsSecondLoses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := NewMemoryArbiter()

	epoch, err := a.Arm(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if epoch != 1 {
		t.Fatalf("first epoch = %d, want 1", epoch)
	}

	committed, slot, err := a.AttemptBuzz(ctx, press("a"))
	if err != nil {
		t.Fatal(err)
	}
	if !committed {
		t.Fatal("first buzz on a fresh epoch did not commit")
	}
	if slot.Enabled {
		t.Error("slot still enabled after a committed press")
	}
	if slot.Press == nil || slot.Press.TeamID != "a" {
		t.Fatalf("slot press = %+v, want team a", slot.Press)
	}

	committed, slot, err = a.AttemptBuzz(ctx, press("b"))
	if err != nil {
		t.Fatal(err)
	}
	if committed {
		t.Fatal("second buzz committed over an existing press")
	}
	if slot.Press.TeamID != "a" {
		t.Errorf("losing caller observed press for %q, want a", slot.Press.TeamID)
	}
}

func TestConcurrentBuzzesExactlyOneCommits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := NewMemoryArbiter()
	if _, err := a.Arm(ctx); err != nil {
		t.Fatal(err)
	}

	const contenders = 64
	var wg sync.WaitGroup
	results := make([]bool, contenders)
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			committed, _, err := a.AttemptBuzz(ctx, press(fmt.Sprintf("t%d", i)))
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = committed
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	winnerIdx := -1
	for i, won := range results {
		if won {
			winners++
			winnerIdx = i
		}
	}
	if winners != 1 {
		t.Fatalf("%d presses committed, want exactly 1", winners)
	}

	slot, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if slot.Press == nil || slot.Press.TeamID != fmt.Sprintf("t%d", winnerIdx) {
		t.Errorf("slot press = %+v, want the winning contender t%d", slot.Press, winnerIdx)
	}
}

func TestRearmStartsFreshEpoch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := NewMemoryArbiter()

	if _, err := a.Arm(ctx); err != nil {
		t.Fatal(err)
	}
	if committed, _, _ := a.AttemptBuzz(ctx, press("a")); !committed {
		t.Fatal("setup buzz did not commit")
	}

	epoch, err := a.Arm(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if epoch != 2 {
		t.Fatalf("epoch after re-arm = %d, want 2", epoch)
	}

	committed, slot, err := a.AttemptBuzz(ctx, press("b"))
	if err != nil {
		t.Fatal(err)
	}
	if !committed {
		t.Fatal("buzz on re-armed slot did not commit")
	}
	if slot.Press.TeamID != "b" || slot.Epoch != 2 {
		t.Errorf("slot = %+v, want team b in epoch 2", slot)
	}
}

func TestDisarmAndClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := NewMemoryArbiter()
	if _, err := a.Arm(ctx); err != nil {
		t.Fatal(err)
	}

	// Host override: disarm with no winner.
	if err := a.Disarm(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if committed, _, _ := a.AttemptBuzz(ctx, press("late")); committed {
		t.Fatal("buzz committed after disarm")
	}

	p := press("manual")
	if err := a.Disarm(ctx, &p); err != nil {
		t.Fatal(err)
	}
	slot, _ := a.Snapshot(ctx)
	if slot.Press == nil || slot.Press.TeamID != "manual" {
		t.Fatalf("disarm with press: slot = %+v", slot)
	}

	if err := a.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	slot, _ = a.Snapshot(ctx)
	if slot.Enabled || slot.Press != nil {
		t.Fatalf("after clear: slot = %+v, want disabled and empty", slot)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := NewMemoryArbiter()
	if _, err := a.Arm(ctx); err != nil {
		t.Fatal(err)
	}
	if committed, _, _ := a.AttemptBuzz(ctx, press("a")); !committed {
		t.Fatal("setup buzz did not commit")
	}

	snap, _ := a.Snapshot(ctx)
	snap.Press.TeamID = "tampered"

	again, _ := a.Snapshot(ctx)
	if again.Press.TeamID != "a" {
		t.Error("mutating a snapshot leaked into the arbiter's slot")
	}
}
