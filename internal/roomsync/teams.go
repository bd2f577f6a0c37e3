package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/buzzboard/buzzboard/internal/models"
)

// ErrRoomNotFound is returned when a room code has no state in the
// bucket (never created, or expired).
var ErrRoomNotFound = errors.New("roomsync: room not found")

// PublishTeams writes the team roster for a room. The host is the only
// writer, so this is an unconditional put.
func (c *Client) PublishTeams(ctx context.Context, roomCode string, teams []models.Team) error {
	data, err := json.Marshal(teams)
	if err != nil {
		return fmt.Errorf("marshal teams: %w", err)
	}
	if _, err := c.kv.Put(ctx, roomKey(roomCode, keyTeams), data); err != nil {
		return fmt.Errorf("put teams: %w", err)
	}
	return nil
}

// SnapshotTeams reads the current roster for a room.
func (c *Client) SnapshotTeams(ctx context.Context, roomCode string) ([]models.Team, error) {
	entry, err := c.kv.Get(ctx, roomKey(roomCode, keyTeams))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("get teams: %w", err)
	}
	return ParseTeams(entry.Value()), nil
}

// WatchTeams streams roster updates for a room. The current roster (if
// any) is delivered first, so late joiners converge immediately. The
// channel closes when ctx is cancelled.
func (c *Client) WatchTeams(ctx context.Context, roomCode string) (<-chan []models.Team, error) {
	watcher, err := c.kv.Watch(ctx, roomKey(roomCode, keyTeams))
	if err != nil {
		return nil, fmt.Errorf("watch teams: %w", err)
	}

	out := make(chan []models.Team, 8)
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
				// nil marks the end of the initial replay.
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}
				select {
				case out <- ParseTeams(entry.Value()):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ParseTeams decodes a roster document, tolerating the malformed shapes
// a shared bucket can accumulate: a JSON array, an object with index
// keys, or entries missing fields. Only complete teams survive.
func ParseTeams(data []byte) []models.Team {
	var loose []json.RawMessage
	if err := json.Unmarshal(data, &loose); err != nil {
		// Object with index keys instead of an array.
		var indexed map[string]json.RawMessage
		if err := json.Unmarshal(data, &indexed); err != nil {
			log.Warn().Msg("unparseable teams document, dropping")
			return nil
		}
		keys := make([]string, 0, len(indexed))
		for k := range indexed {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, aerr := strconv.Atoi(keys[i])
			b, berr := strconv.Atoi(keys[j])
			if aerr == nil && berr == nil {
				return a < b
			}
			return keys[i] < keys[j]
		})
		loose = loose[:0]
		for _, k := range keys {
			loose = append(loose, indexed[k])
		}
	}

	teams := make([]models.Team, 0, len(loose))
	for _, raw := range loose {
		var probe struct {
			ID    *string `json:"id"`
			Name  *string `json:"name"`
			Score *int    `json:"score"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		if probe.ID == nil || probe.Name == nil || probe.Score == nil {
			continue
		}
		teams = append(teams, models.Team{ID: *probe.ID, Name: *probe.Name, Score: *probe.Score})
	}
	return teams
}
