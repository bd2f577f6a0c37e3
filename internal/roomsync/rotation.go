package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/buzzboard/buzzboard/internal/game/events"
)

// RoomMeta marks a room as live in the bucket. Player joins check it
// before subscribing to anything.
type RoomMeta struct {
	RoomCode  string    `json:"room_code"`
	CreatedAt time.Time `json:"created_at"`
}

// AnnounceRoom publishes the room's existence marker.
func (c *Client) AnnounceRoom(ctx context.Context, roomCode string, createdAt time.Time) error {
	data, err := json.Marshal(RoomMeta{RoomCode: roomCode, CreatedAt: createdAt})
	if err != nil {
		return fmt.Errorf("marshal room meta: %w", err)
	}
	if _, err := c.kv.Put(ctx, roomKey(roomCode, keyMeta), data); err != nil {
		return fmt.Errorf("put room meta: %w", err)
	}
	return nil
}

// RoomExists reports whether a room code is live.
func (c *Client) RoomExists(ctx context.Context, roomCode string) (bool, error) {
	_, err := c.kv.Get(ctx, roomKey(roomCode, keyMeta))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get room meta: %w", err)
	}
	return true, nil
}

// PublishRotation writes the forwarding pointer under the OLD room's
// code. Devices still watching the old room pick it up and rejoin.
func (c *Client) PublishRotation(ctx context.Context, rotation events.RoomRotatedPayload) error {
	data, err := json.Marshal(rotation)
	if err != nil {
		return fmt.Errorf("marshal rotation: %w", err)
	}
	if _, err := c.kv.Put(ctx, roomKey(rotation.OldRoomCode, keyRotation), data); err != nil {
		return fmt.Errorf("put rotation: %w", err)
	}
	return nil
}

// WatchRotation streams rotation pointers for a room. A device holding
// a room open follows the pointer to the new code when one appears.
func (c *Client) WatchRotation(ctx context.Context, roomCode string) (<-chan events.RoomRotatedPayload, error) {
	watcher, err := c.kv.Watch(ctx, roomKey(roomCode, keyRotation))
	if err != nil {
		return nil, fmt.Errorf("watch rotation: %w", err)
	}

	out := make(chan events.RoomRotatedPayload, 1)
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
				var rot events.RoomRotatedPayload
				if err := json.Unmarshal(entry.Value(), &rot); err != nil {
					continue
				}
				select {
				case out <- rot:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
