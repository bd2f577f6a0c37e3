package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/buzzboard/buzzboard/internal/models"
)

// PublishBuzzerSlot writes the host's desired slot state (arm, disarm,
// clear). The host is the single authoritative writer for these, so the
// write is unconditional; only player presses go through ConditionalBuzz.
func (c *Client) PublishBuzzerSlot(ctx context.Context, roomCode string, slot models.BuzzerSlot) error {
	data, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("marshal buzzer slot: %w", err)
	}
	if _, err := c.kv.Put(ctx, roomKey(roomCode, keyBuzzer), data); err != nil {
		return fmt.Errorf("put buzzer slot: %w", err)
	}
	return nil
}

// SnapshotBuzzerSlot reads the current slot for a room.
func (c *Client) SnapshotBuzzerSlot(ctx context.Context, roomCode string) (models.BuzzerSlot, error) {
	var slot models.BuzzerSlot
	entry, err := c.kv.Get(ctx, roomKey(roomCode, keyBuzzer))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return slot, ErrRoomNotFound
		}
		return slot, fmt.Errorf("get buzzer slot: %w", err)
	}
	if err := json.Unmarshal(entry.Value(), &slot); err != nil {
		return slot, fmt.Errorf("unmarshal buzzer slot: %w", err)
	}
	return slot, nil
}

// ConditionalBuzz attempts to commit a press into the room's slot. The
// read-check-write runs against the entry's revision, so of any number
// of racing presses exactly one update lands; everyone else observes a
// revision conflict or a slot that is already taken and reports a loss.
//
// Returns the slot the caller should act on: the committed press for
// the winner, the winning press (or a disarmed slot) for losers.
func (c *Client) ConditionalBuzz(ctx context.Context, roomCode string, press models.BuzzerPress) (bool, models.BuzzerSlot, error) {
	key := roomKey(roomCode, keyBuzzer)

	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return false, models.BuzzerSlot{}, ErrRoomNotFound
		}
		return false, models.BuzzerSlot{}, fmt.Errorf("get buzzer slot: %w", err)
	}

	var slot models.BuzzerSlot
	if err := json.Unmarshal(entry.Value(), &slot); err != nil {
		return false, models.BuzzerSlot{}, fmt.Errorf("unmarshal buzzer slot: %w", err)
	}

	if !slot.Enabled || slot.Press != nil {
		return false, slot, nil
	}

	p := press
	committed := models.BuzzerSlot{Enabled: false, Press: &p, Epoch: slot.Epoch}
	data, err := json.Marshal(committed)
	if err != nil {
		return false, slot, fmt.Errorf("marshal press: %w", err)
	}

	if _, err := c.kv.Update(ctx, key, data, entry.Revision()); err != nil {
		// Revision moved under us: another press (or a host write)
		// landed first. Report the slot that actually won.
		log.Debug().
			Str("room", roomCode).
			Str("team", press.TeamID).
			Uint64("epoch", slot.Epoch).
			Msg("buzz lost the revision race")
		latest, gerr := c.SnapshotBuzzerSlot(ctx, roomCode)
		if gerr != nil {
			return false, models.BuzzerSlot{}, gerr
		}
		return false, latest, nil
	}

	log.Info().
		Str("room", roomCode).
		Str("team", press.TeamID).
		Str("player", press.PlayerID).
		Uint64("epoch", slot.Epoch).
		Msg("buzz committed")
	return true, committed, nil
}

// WatchBuzzerSlot streams slot updates for a room, current value first.
// Player devices drive their armed/locked indication from this; the
// host applies committed presses to its session from it.
func (c *Client) WatchBuzzerSlot(ctx context.Context, roomCode string) (<-chan models.BuzzerSlot, error) {
	watcher, err := c.kv.Watch(ctx, roomKey(roomCode, keyBuzzer))
	if err != nil {
		return nil, fmt.Errorf("watch buzzer slot: %w", err)
	}

	out := make(chan models.BuzzerSlot, 8)
	go func() {
		defer close(out)
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}
				var slot models.BuzzerSlot
				if err := json.Unmarshal(entry.Value(), &slot); err != nil {
					log.Warn().Err(err).Str("room", roomCode).Msg("malformed buzzer slot, skipping")
					continue
				}
				select {
				case out <- slot:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
