// Package gateway terminates player device connections: WebSocket in,
// room state and events out, buzzes committed against the room's
// arbitration slot.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/buzzboard/buzzboard/internal/game/events"
	"github.com/buzzboard/buzzboard/internal/models"
	"github.com/buzzboard/buzzboard/internal/roomcode"
	"github.com/buzzboard/buzzboard/internal/roomsync"
)

const (
	// joinGracePeriod covers the window where a player typed a code the
	// host only just created; the room marker may not be visible yet.
	joinGracePeriod = 2 * time.Second
	joinPollEvery   = 250 * time.Millisecond

	dedupCacheSize = 1024
)

// RoomSync is the slice of the sync client the gateway uses.
type RoomSync interface {
	RoomExists(ctx context.Context, roomCode string) (bool, error)
	ConditionalBuzz(ctx context.Context, roomCode string, press models.BuzzerPress) (bool, models.BuzzerSlot, error)
	PublishCommand(ctx context.Context, cmd roomsync.Command) error
	WatchTeams(ctx context.Context, roomCode string) (<-chan []models.Team, error)
	WatchBuzzerSlot(ctx context.Context, roomCode string) (<-chan models.BuzzerSlot, error)
	WatchRotation(ctx context.Context, roomCode string) (<-chan events.RoomRotatedPayload, error)
	ConsumeEvents(ctx context.Context, roomCode string, handler func(roomsync.Envelope)) error
}

// Service is the gateway: one per process, any number of rooms.
type Service struct {
	cm    *ConnectionManager
	sync  RoomSync
	clock clockwork.Clock

	// seenEvents dedupes the at-least-once event stream by eventId.
	seenEvents *lru.Cache

	mu       sync.Mutex
	baseCtx  context.Context
	watchers map[string]context.CancelFunc
}

// NewService builds the gateway service.
func NewService(cm *ConnectionManager, sync RoomSync, clock clockwork.Clock) (*Service, error) {
	cache, err := lru.New(dedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}
	s := &Service{
		cm:         cm,
		sync:       sync,
		clock:      clock,
		seenEvents: cache,
		watchers:   make(map[string]context.CancelFunc),
	}
	cm.onMessage = s.handleClientFrame
	cm.onRoomEmpty = s.stopRoomWatchers
	return s, nil
}

// Start runs the broadcast pump and the event consumer until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	go s.cm.Start(ctx)

	// One wildcard consumer covers every room.
	return s.sync.ConsumeEvents(ctx, ">", func(env roomsync.Envelope) {
		if found, _ := s.seenEvents.ContainsOrAdd(env.EventID, struct{}{}); found {
			log.Debug().Str("event_id", env.EventID).Msg("duplicate event dropped")
			return
		}
		data, err := marshalFrame(FrameTypeEvent, env)
		if err != nil {
			log.Error().Err(err).Msg("marshal event frame")
			return
		}
		s.cm.BroadcastToRoom(env.RoomCode, data)
	})
}

// HandleRoomConnection validates the room code and upgrades the device
// to a WebSocket.
func (s *Service) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	code := roomcode.Normalize(r.URL.Query().Get("room"))
	if err := roomcode.Validate(code); err != nil {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}

	exists, err := s.waitForRoom(r.Context(), code)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("room lookup failed")
		http.Error(w, "room lookup failed", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	s.ensureRoomWatchers(code)

	conn, err := s.cm.UpgradeConnection(w, r, code)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("failed to upgrade WebSocket connection")
		return
	}

	if data, err := marshalFrame(FrameTypeWelcome, WelcomePayload{RoomCode: code}); err == nil {
		s.cm.SendToConnection(conn, data)
	}
}

// waitForRoom polls for the room marker through the grace period, so a
// code entered seconds after the host created the room still lands.
func (s *Service) waitForRoom(ctx context.Context, code string) (bool, error) {
	deadline := s.clock.Now().Add(joinGracePeriod)
	for {
		exists, err := s.sync.RoomExists(ctx, code)
		if err != nil || exists {
			return exists, err
		}
		if !s.clock.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-s.clock.After(joinPollEvery):
		}
	}
}

func (s *Service) handleClientFrame(c *Connection, data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.sendError(c, "malformed frame")
		return
	}

	switch frame.Type {
	case FrameTypeJoin:
		s.handleJoin(c, frame.Payload)
	case FrameTypeBuzz:
		s.handleBuzz(c)
	default:
		s.sendError(c, fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

func (s *Service) handleJoin(c *Connection, payload json.RawMessage) {
	var join JoinPayload
	if err := json.Unmarshal(payload, &join); err != nil {
		s.sendError(c, "malformed join payload")
		return
	}
	if join.PlayerID == "" || join.TeamID == "" {
		s.sendError(c, "join needs playerId and teamId")
		return
	}

	c.SetPlayer(join.PlayerID, join.PlayerName, join.TeamID, "")

	cmdPayload, err := json.Marshal(models.Player{
		ID:     join.PlayerID,
		Name:   join.PlayerName,
		TeamID: join.TeamID,
	})
	if err != nil {
		s.sendError(c, "join failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sync.PublishCommand(ctx, roomsync.Command{
		Type:     roomsync.CmdTypeJoin,
		RoomCode: c.RoomCode,
		Payload:  cmdPayload,
	}); err != nil {
		log.Error().Err(err).Str("room", c.RoomCode).Str("player", join.PlayerID).Msg("join command failed")
		s.sendError(c, "join failed")
		return
	}
	log.Info().
		Str("room", c.RoomCode).
		Str("player", join.PlayerID).
		Str("team", join.TeamID).
		Msg("player joined room")
}

// handleBuzz runs the device's press against the room slot and answers
// with the outcome. The losing device rolls back its optimistic locked
// indication based on the slot in the result.
func (s *Service) handleBuzz(c *Connection) {
	playerID, playerName, teamID, teamName := c.Player()
	if teamID == "" {
		s.sendError(c, "join a team before buzzing")
		return
	}

	press := models.BuzzerPress{
		PlayerID:   playerID,
		PlayerName: playerName,
		TeamID:     teamID,
		TeamName:   teamName,
		Timestamp:  s.clock.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	committed, slot, err := s.sync.ConditionalBuzz(ctx, c.RoomCode, press)
	if err != nil {
		if errors.Is(err, roomsync.ErrRoomNotFound) {
			s.sendError(c, "room is gone")
			return
		}
		log.Error().Err(err).Str("room", c.RoomCode).Msg("buzz attempt failed")
		s.sendError(c, "buzz failed")
		return
	}

	data, err := marshalFrame(FrameTypeBuzzResult, BuzzResultPayload{Committed: committed, Slot: slot})
	if err != nil {
		log.Error().Err(err).Msg("marshal buzz result")
		return
	}
	s.cm.SendToConnection(c, data)
}

func (s *Service) sendError(c *Connection, msg string) {
	if data, err := marshalFrame(FrameTypeError, ErrorPayload{Message: msg}); err == nil {
		s.cm.SendToConnection(c, data)
	}
}

// ensureRoomWatchers starts the KV watchers for a room the first time a
// device connects to it.
func (s *Service) ensureRoomWatchers(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.watchers[code]; running {
		return
	}
	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	s.watchers[code] = cancel

	go s.watchRoom(ctx, code)
}

func (s *Service) stopRoomWatchers(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, running := s.watchers[code]; running {
		cancel()
		delete(s.watchers, code)
		log.Debug().Str("room", code).Msg("room watchers stopped")
	}
}

// watchRoom forwards a room's KV updates to its connections: roster,
// buzzer slot and the rotation pointer. KV watches replay the current
// value first, so a device joining mid-game paints the live state
// immediately.
func (s *Service) watchRoom(ctx context.Context, code string) {
	teamsCh, err := s.sync.WatchTeams(ctx, code)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("watch teams failed")
		return
	}
	slotCh, err := s.sync.WatchBuzzerSlot(ctx, code)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("watch buzzer slot failed")
		return
	}
	rotCh, err := s.sync.WatchRotation(ctx, code)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("watch rotation failed")
		return
	}

	log.Info().Str("room", code).Msg("room watchers started")
	for {
		select {
		case <-ctx.Done():
			return
		case teams, ok := <-teamsCh:
			if !ok {
				return
			}
			s.broadcastFrame(code, FrameTypeTeams, teams)
		case slot, ok := <-slotCh:
			if !ok {
				return
			}
			s.broadcastFrame(code, FrameTypeBuzzer, slot)
		case rot, ok := <-rotCh:
			if !ok {
				return
			}
			s.broadcastFrame(code, FrameTypeRoomRotated, rot)
		}
	}
}

func (s *Service) broadcastFrame(code, frameType string, payload any) {
	data, err := marshalFrame(frameType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", frameType).Msg("marshal frame")
		return
	}
	s.cm.BroadcastToRoom(code, data)
}
