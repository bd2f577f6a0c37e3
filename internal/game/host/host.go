// Package host runs the authoritative side of a trivia room: it owns
// the game session, applies committed buzzer presses, drives the
// countdown and mirrors every outcome to the sync layer.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/buzzboard/buzzboard/internal/game"
	"github.com/buzzboard/buzzboard/internal/game/events"
	"github.com/buzzboard/buzzboard/internal/models"
	"github.com/buzzboard/buzzboard/internal/roomcode"
	"github.com/buzzboard/buzzboard/internal/roomsync"
	"github.com/buzzboard/buzzboard/internal/snapshot"
)

// Syncer is the slice of the room sync client the host writes through.
type Syncer interface {
	PublishTeams(ctx context.Context, roomCode string, teams []models.Team) error
	PublishBuzzerSlot(ctx context.Context, roomCode string, slot models.BuzzerSlot) error
	PublishEvent(ctx context.Context, roomCode string, ev events.Event) error
	PublishRotation(ctx context.Context, rotation events.RoomRotatedPayload) error
	AnnounceRoom(ctx context.Context, roomCode string, createdAt time.Time) error
	WatchBuzzerSlot(ctx context.Context, roomCode string) (<-chan models.BuzzerSlot, error)
	SubscribeCommands(ctx context.Context, roomCode string, handler func(roomsync.Command)) error
}

// Store is the slice of the snapshot store the host uses.
type Store interface {
	Save(st *models.GameState) error
	LoadLatest() (*models.GameState, error)
	Delete(roomCode string) error
}

// Host wires a session to the sync layer and the snapshot store.
type Host struct {
	session  *game.Session
	sync     Syncer
	store    Store
	clock    clockwork.Clock
	roomCode string

	cmdCh    chan roomsync.Command
	rotateCh chan string
}

// New builds a host around an existing session. A session without a
// room code (fresh game) gets one generated here, so the control API
// can hand it to the first SetupTeams call.
func New(session *game.Session, sync Syncer, store Store, clock clockwork.Clock) *Host {
	code := session.RoomCode()
	if code == "" {
		code = roomcode.Generate()
		log.Info().Str("room", code).Msg("generated room code")
	}
	return &Host{
		session:  session,
		sync:     sync,
		store:    store,
		clock:    clock,
		roomCode: code,
		cmdCh:    make(chan roomsync.Command, 16),
		rotateCh: make(chan string, 1),
	}
}

// RoomCode returns the code the host started with. After a rotation the
// session's own code is current.
func (h *Host) RoomCode() string {
	if code := h.session.RoomCode(); code != "" {
		return code
	}
	return h.roomCode
}

// NewFromSnapshot restores the latest saved game if one exists,
// otherwise starts a fresh session with a generated room code. The
// returned bool reports whether a game was resumed.
func NewFromSnapshot(board []models.Category, cfg game.Config, sync Syncer, store Store, clock clockwork.Clock) (*Host, bool, error) {
	st, err := store.LoadLatest()
	if err != nil {
		if !errors.Is(err, snapshot.ErrNotFound) {
			return nil, false, fmt.Errorf("load snapshot: %w", err)
		}
		session := game.NewSession(board, cfg, clock)
		return New(session, sync, store, clock), false, nil
	}

	session := game.Restore(st, board, cfg, clock)
	log.Info().
		Str("room", session.RoomCode()).
		Str("phase", string(session.Phase())).
		Msg("resumed game from snapshot")
	return New(session, sync, store, clock), true, nil
}

// Session exposes the underlying session to the control API.
func (h *Host) Session() *game.Session {
	return h.session
}

// Run drives the host loop until ctx is cancelled: the one-second
// countdown tick, committed presses arriving through the slot watch and
// player commands. A fresh session publishes its initial state first; a
// resumed one re-announces the room and re-arms a pending steal.
func (h *Host) Run(ctx context.Context) error {
	code := h.roomCode
	if err := h.sync.AnnounceRoom(ctx, code, h.clock.Now()); err != nil {
		return fmt.Errorf("announce room: %w", err)
	}

	// Mirror whatever state we start with, restored or fresh.
	st := h.session.State()
	if err := h.sync.PublishTeams(ctx, code, st.Teams); err != nil {
		return fmt.Errorf("publish initial teams: %w", err)
	}
	if err := h.sync.PublishBuzzerSlot(ctx, code, st.Buzzer); err != nil {
		return fmt.Errorf("publish initial slot: %w", err)
	}

	h.applyEffects(ctx, h.session.Resume())

	roomCtx, cancelRoom := context.WithCancel(ctx)
	defer func() { cancelRoom() }()
	slotCh, err := h.bindRoom(roomCtx, code)
	if err != nil {
		return err
	}

	ticker := h.clock.NewTicker(time.Second)
	defer ticker.Stop()

	log.Info().Str("room", code).Msg("host loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("room", code).Msg("host loop shutting down")
			return nil
		case <-ticker.Chan():
			if fx, ticked := h.session.TickTimer(); ticked {
				h.applyEffects(ctx, fx)
			}
		case slot, ok := <-slotCh:
			if !ok {
				slotCh = nil
				continue
			}
			fx, applied := h.session.ApplyCommittedSlot(slot)
			if applied {
				log.Info().
					Str("room", code).
					Str("team", slot.Press.TeamID).
					Uint64("epoch", slot.Epoch).
					Msg("press applied")
			}
			h.applyEffects(ctx, fx)
		case cmd := <-h.cmdCh:
			h.handleCommand(ctx, cmd)
		case newCode := <-h.rotateCh:
			cancelRoom()
			roomCtx, cancelRoom = context.WithCancel(ctx)
			code = newCode
			slotCh, err = h.bindRoom(roomCtx, code)
			if err != nil {
				return err
			}
			log.Info().Str("room", code).Msg("host loop rebound to rotated room")
		}
	}
}

// bindRoom subscribes the loop's inputs for one room code.
func (h *Host) bindRoom(ctx context.Context, code string) (<-chan models.BuzzerSlot, error) {
	slotCh, err := h.sync.WatchBuzzerSlot(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("watch buzzer slot: %w", err)
	}
	if err := h.sync.SubscribeCommands(ctx, code, func(cmd roomsync.Command) {
		select {
		case h.cmdCh <- cmd:
		default:
			log.Warn().Str("type", cmd.Type).Msg("command channel full, dropping")
		}
	}); err != nil {
		return nil, fmt.Errorf("subscribe commands: %w", err)
	}
	return slotCh, nil
}

func (h *Host) handleCommand(ctx context.Context, cmd roomsync.Command) {
	switch cmd.Type {
	case roomsync.CmdTypeJoin:
		var p models.Player
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			log.Warn().Err(err).Msg("malformed join payload")
			return
		}
		fx, err := h.session.RegisterPlayer(p)
		if err != nil {
			log.Warn().Err(err).Str("player", p.ID).Str("team", p.TeamID).Msg("player join rejected")
			return
		}
		log.Info().Str("player", p.ID).Str("team", p.TeamID).Msg("player joined")
		h.applyEffects(ctx, fx)
	default:
		log.Warn().Str("type", cmd.Type).Msg("unknown command")
	}
}

// Do runs a session operation and mirrors its effects. The control API
// funnels every host action through here.
func (h *Host) Do(ctx context.Context, op func(*game.Session) (game.Effects, error)) error {
	fx, err := op(h.session)
	if err != nil {
		return err
	}
	h.applyEffects(ctx, fx)
	return nil
}

// applyEffects mirrors session outcomes to the sync layer and the
// snapshot store. Event publishes are best effort; KV writes and the
// snapshot are logged loudly on failure since devices would drift.
func (h *Host) applyEffects(ctx context.Context, fx game.Effects) {
	st := h.session.State()
	code := st.RoomCode

	if fx.TeamsChanged && code != "" {
		if err := h.sync.PublishTeams(ctx, code, st.Teams); err != nil {
			log.Error().Err(err).Str("room", code).Msg("publish teams failed")
		}
	}
	if fx.PublishSlot && code != "" {
		if err := h.sync.PublishBuzzerSlot(ctx, code, st.Buzzer); err != nil {
			log.Error().Err(err).Str("room", code).Msg("publish buzzer slot failed")
		}
	}
	// Only a live game is worth restoring; setup states with no roster
	// are never persisted.
	if fx.SnapshotDirty && code != "" && st.GamePhase != models.PhaseSetup && len(st.Teams) > 0 {
		if err := h.store.Save(st); err != nil {
			log.Error().Err(err).Str("room", code).Msg("snapshot save failed")
		}
	}

	for _, ev := range fx.Events {
		if rot, ok := ev.Payload.(events.RoomRotatedPayload); ok {
			// Rotation is addressed to the OLD room's devices.
			h.handleRotation(ctx, rot)
			continue
		}
		if code == "" {
			continue
		}
		if err := h.sync.PublishEvent(ctx, code, ev); err != nil {
			log.Warn().Err(err).Str("room", code).Str("type", string(ev.Type)).Msg("event publish failed")
		}
	}
}

// handleRotation runs the extra plumbing of a room change: announce the
// new room, leave the forwarding pointer under the old code and drop
// the old snapshot.
func (h *Host) handleRotation(ctx context.Context, rot events.RoomRotatedPayload) {
	if err := h.sync.AnnounceRoom(ctx, rot.NewRoomCode, h.clock.Now()); err != nil {
		log.Error().Err(err).Str("room", rot.NewRoomCode).Msg("announce rotated room failed")
	}
	if rot.OldRoomCode == "" {
		return
	}
	if err := h.sync.PublishRotation(ctx, rot); err != nil {
		log.Error().Err(err).Str("room", rot.OldRoomCode).Msg("publish rotation pointer failed")
	}
	ev := events.Event{Type: events.EventTypeRoomRotated, Payload: rot}
	if err := h.sync.PublishEvent(ctx, rot.OldRoomCode, ev); err != nil {
		log.Warn().Err(err).Str("room", rot.OldRoomCode).Msg("rotation event publish failed")
	}
	if err := h.store.Delete(rot.OldRoomCode); err != nil {
		log.Warn().Err(err).Str("room", rot.OldRoomCode).Msg("drop old snapshot failed")
	}
	select {
	case h.rotateCh <- rot.NewRoomCode:
	default:
	}
	log.Info().
		Str("old_room", rot.OldRoomCode).
		Str("new_room", rot.NewRoomCode).
		Msg("room rotated")
}
