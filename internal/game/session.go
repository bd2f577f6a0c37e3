// Package game implements the session state machine: the phase
// transitions of a round, the scoring rules tied to each transition, and
// idempotent application of committed buzzer presses.
//
// Exactly one Session exists per room and it is owned by the host
// process. Player devices never call into it; their only write capability
// is the buzzer slot's conditional commit, whose committed result the
// host feeds back in via ApplyCommittedSlot.
package game

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/buzzboard/buzzboard/internal/game/events"
	"github.com/buzzboard/buzzboard/internal/models"
)

const (
	// DefaultAnswerSeconds is the first answer window after a question
	// is shown.
	DefaultAnswerSeconds = 30
	// DefaultStealSeconds is the answer window granted to a stealing
	// team.
	DefaultStealSeconds = 15

	minTeams = 2
	maxTeams = 5
)

var (
	ErrWrongPhase      = errors.New("operation not valid in current phase")
	ErrTeamCount       = errors.New("a game needs 2 to 5 named teams")
	ErrUnknownTeam     = errors.New("team is not part of the current roster")
	ErrUnknownQuestion = errors.New("question is not on the board")
	ErrAlreadyAnswered = errors.New("question has already been answered")
	ErrNoAnsweringTeam = errors.New("no team buzzed and no team is selected")
	ErrIneligibleTeam  = errors.New("team is barred from this steal")
)

// Config tunes the session's soft deadlines.
type Config struct {
	AnswerSeconds int
	StealSeconds  int
}

// DefaultConfig returns the standard 30s/15s windows.
func DefaultConfig() Config {
	return Config{AnswerSeconds: DefaultAnswerSeconds, StealSeconds: DefaultStealSeconds}
}

// Effects tells the host process what to synchronize after a transition.
// The session never talks to the network itself; it is deterministic and
// transport-free.
type Effects struct {
	// TeamsChanged: republish the roster to the shared bucket.
	TeamsChanged bool
	// PublishSlot: the host changed the desired buzzer slot (arm,
	// disarm or clear); push s.state.Buzzer to the shared bucket.
	PublishSlot bool
	// SnapshotDirty: persist a fresh snapshot.
	SnapshotDirty bool
	// Events to fan out, in order.
	Events []events.Event
}

func (e *Effects) emit(t events.EventType, payload any) {
	e.Events = append(e.Events, events.Event{Type: t, Payload: payload})
}

func (e *Effects) merge(other Effects) {
	e.TeamsChanged = e.TeamsChanged || other.TeamsChanged
	e.PublishSlot = e.PublishSlot || other.PublishSlot
	e.SnapshotDirty = e.SnapshotDirty || other.SnapshotDirty
	e.Events = append(e.Events, other.Events...)
}

// Session is the single authoritative game state machine. Methods are
// safe for concurrent use, though the host process drives them from one
// event loop.
type Session struct {
	mu       sync.Mutex
	cfg      Config
	clock    clockwork.Clock
	state    *models.GameState
	template []models.Category // pristine board for new-room resets

	// lastAppliedEpoch guards against duplicate or stale press
	// deliveries: a press is applied at most once per epoch.
	lastAppliedEpoch uint64
}

// NewSession creates a session in the setup phase over the given board.
func NewSession(categories []models.Category, cfg Config, clock clockwork.Clock) *Session {
	if cfg.AnswerSeconds <= 0 {
		cfg.AnswerSeconds = DefaultAnswerSeconds
	}
	if cfg.StealSeconds <= 0 {
		cfg.StealSeconds = DefaultStealSeconds
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Session{
		cfg:      cfg,
		clock:    clock,
		template: cloneCategories(categories),
	}
	s.state = &models.GameState{
		Categories: freshBoard(s.template),
		GamePhase:  models.PhaseSetup,
	}
	return s
}

// Restore builds a session from a persisted snapshot, sanitizing the
// transient parts first (see Sanitize). The caller is expected to have
// checked that the snapshot has teams and a board.
func Restore(snapshot *models.GameState, template []models.Category, cfg Config, clock clockwork.Clock) *Session {
	s := NewSession(template, cfg, clock)
	st := snapshot.Clone()
	Sanitize(st)
	s.state = st
	s.lastAppliedEpoch = st.Buzzer.Epoch
	return s
}

// Sanitize resets the parts of a loaded snapshot that must not survive a
// host restart: timers, the reveal flag, the buzzer slot, and an
// in-flight answer phase (coerced back to playing, since the question was
// never resolved). It also revalidates the selected team and its index
// against the roster.
func Sanitize(st *models.GameState) {
	st.GamePhase = st.GamePhase.Normalize()
	st.Timer = 0
	st.TimerActive = false
	st.AnswerRevealed = false
	st.Buzzer.Enabled = false
	st.Buzzer.Press = nil

	if st.GamePhase == models.PhaseAnswer {
		st.GamePhase = models.PhasePlaying
		st.CurrentQuestion = nil
		st.SelectedQuestion = nil
		st.CurrentTeam = nil
		st.StealTeam = nil
		st.NoBuzzTeamID = ""
	}

	if st.SelectedTeam != nil && st.TeamByID(st.SelectedTeam.ID) == nil {
		st.SelectedTeam = nil
	}
	if st.SelectedTeam == nil && len(st.Teams) > 0 {
		t := st.Teams[0]
		st.SelectedTeam = &t
	}
	idx := -1
	if st.SelectedTeam != nil {
		idx = st.TeamIndex(st.SelectedTeam.ID)
	}
	if st.CurrentTeamIndex < 0 || st.CurrentTeamIndex >= len(st.Teams) {
		if idx >= 0 {
			st.CurrentTeamIndex = idx
		} else {
			st.CurrentTeamIndex = 0
		}
	}
}

// State returns a deep copy of the current game state.
func (s *Session) State() *models.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Phase returns the current phase.
func (s *Session) Phase() models.GamePhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GamePhase
}

// RoomCode returns the current room code ("" during setup before teams
// are ready).
func (s *Session) RoomCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RoomCode
}

// SetupTeams completes the setup phase: creates 2-5 teams from host
// input, hands control to the first team and binds the session to a room
// code. If the session already carries a code (host clicked "new room"
// and players were told the new code) it is kept and the argument
// ignored.
func (s *Session) SetupTeams(names []string, roomCode string) (Effects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	if s.state.GamePhase != models.PhaseSetup {
		return fx, fmt.Errorf("setup teams: %w", ErrWrongPhase)
	}

	teams := make([]models.Team, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		teams = append(teams, models.Team{ID: uuid.New().String(), Name: name})
	}
	if len(teams) < minTeams || len(teams) > maxTeams {
		return fx, ErrTeamCount
	}

	if s.state.RoomCode == "" {
		s.state.RoomCode = roomCode
	}
	s.state.Teams = teams
	s.state.GamePhase = models.PhasePlaying
	s.state.CurrentTeamIndex = 0
	first := teams[0]
	s.state.SelectedTeam = &first

	fx.TeamsChanged = true
	fx.PublishSlot = true // publish the cleared slot so the room document is complete
	fx.SnapshotDirty = true
	fx.emit(events.EventTypeGameStarted, events.GameStartedPayload{
		RoomCode:  s.state.RoomCode,
		Teams:     append([]models.Team(nil), teams...),
		StartedAt: s.clock.Now(),
	})
	return fx, nil
}

// SelectQuestion opens an unanswered question: the session enters the
// answer phase, the countdown starts and the buzzer is armed for all
// teams (a fresh epoch).
func (s *Session) SelectQuestion(categoryID, questionID string) (Effects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	if s.state.GamePhase.Normalize() != models.PhasePlaying {
		return fx, fmt.Errorf("select question: %w", ErrWrongPhase)
	}
	sel := models.SelectedQuestion{CategoryID: categoryID, QuestionID: questionID}
	q := s.state.QuestionAt(sel)
	if q == nil {
		return fx, ErrUnknownQuestion
	}
	if q.Answered {
		return fx, ErrAlreadyAnswered
	}

	qc := *q
	s.state.SelectedQuestion = &sel
	s.state.CurrentQuestion = &qc
	s.state.CurrentTeam = nil
	s.state.StealTeam = nil
	s.state.NoBuzzTeamID = ""
	s.state.GamePhase = models.PhaseAnswer
	s.state.Timer = s.cfg.AnswerSeconds
	s.state.TimerActive = true
	s.state.AnswerRevealed = false
	s.armBuzzer()

	fx.PublishSlot = true
	fx.SnapshotDirty = true
	fx.emit(events.EventTypeQuestionSelected, events.QuestionSelectedPayload{
		CategoryID: categoryID,
		QuestionID: questionID,
		Value:      qc.Value,
		TimerSec:   s.state.Timer,
		Epoch:      s.state.Buzzer.Epoch,
	})
	return fx, nil
}

// ApplyCommittedSlot feeds a committed buzzer slot observation back into
// the state machine. It is idempotent: re-observing the same committed
// press is a no-op, as is any press from a stale epoch. Invalid presses
// (foreign team, ineligible team) are logged, ignored and the slot is
// re-armed so the round can continue.
func (s *Session) ApplyCommittedSlot(slot models.BuzzerSlot) (Effects, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	if slot.Press == nil {
		// Echo of an arm/clear write; nothing to do.
		return fx, false
	}
	if slot.Epoch != s.state.Buzzer.Epoch || slot.Epoch <= s.lastAppliedEpoch {
		log.Debug().
			Uint64("press_epoch", slot.Epoch).
			Uint64("current_epoch", s.state.Buzzer.Epoch).
			Str("team_id", slot.Press.TeamID).
			Msg("ignoring stale or duplicate buzzer press")
		return fx, false
	}

	press := *slot.Press
	team := s.state.TeamByID(press.TeamID)
	if team == nil {
		// Stale or foreign data; burn the epoch and re-arm so the
		// remaining teams can still buzz.
		log.Warn().
			Str("team_id", press.TeamID).
			Str("room_code", s.state.RoomCode).
			Msg("buzzer press from unknown team, re-arming")
		s.lastAppliedEpoch = slot.Epoch
		s.armBuzzer()
		fx.PublishSlot = true
		return fx, false
	}

	switch s.state.GamePhase {
	case models.PhaseAnswer:
		if s.state.StealTeam != nil || s.state.Buzzer.Press != nil {
			// A team already holds the floor for this question.
			return fx, false
		}
		s.lastAppliedEpoch = slot.Epoch
		tc := *team
		s.state.CurrentTeam = &tc
		s.state.Buzzer = slot
		fx.SnapshotDirty = true
		fx.emit(events.EventTypeTeamBuzzed, events.TeamBuzzedPayload{
			Press: press,
			Epoch: slot.Epoch,
			Steal: false,
		})
		return fx, true

	case models.PhaseSteal:
		if team.ID == s.state.NoBuzzTeamID {
			log.Warn().
				Str("team_id", team.ID).
				Str("room_code", s.state.RoomCode).
				Msg("ineligible team won the steal buzz, re-arming")
			s.lastAppliedEpoch = slot.Epoch
			s.armBuzzer()
			fx.PublishSlot = true
			return fx, false
		}
		s.lastAppliedEpoch = slot.Epoch
		tc := *team
		s.state.StealTeam = &tc
		tc2 := *team
		s.state.CurrentTeam = &tc2
		s.state.GamePhase = models.PhaseAnswer
		s.state.Timer = s.cfg.StealSeconds
		s.state.TimerActive = true
		s.state.AnswerRevealed = false
		s.state.Buzzer = slot
		fx.SnapshotDirty = true
		fx.emit(events.EventTypeTeamBuzzed, events.TeamBuzzedPayload{
			Press: press,
			Epoch: slot.Epoch,
			Steal: true,
		})
		return fx, true

	default:
		log.Warn().
			Str("phase", string(s.state.GamePhase)).
			Str("team_id", press.TeamID).
			Msg("committed press outside an open round, clearing slot")
		s.lastAppliedEpoch = slot.Epoch
		s.state.Buzzer.Enabled = false
		s.state.Buzzer.Press = nil
		fx.PublishSlot = true
		return fx, false
	}
}

// MarkAnswer resolves the open question for the team currently holding
// the floor. During a first answer, correct awards the question's value
// and returns control to the board; incorrect deducts it and opens a
// steal. During a steal answer, correct awards the value to the stealing
// team; incorrect costs nothing and re-opens the steal.
func (s *Session) MarkAnswer(correct bool) (Effects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	if s.state.GamePhase != models.PhaseAnswer || s.state.CurrentQuestion == nil {
		return fx, fmt.Errorf("mark answer: %w", ErrWrongPhase)
	}
	value := s.state.CurrentQuestion.Value
	questionID := s.state.CurrentQuestion.ID

	if s.state.StealTeam != nil {
		stealer := s.state.TeamByID(s.state.StealTeam.ID)
		if stealer == nil {
			log.Warn().Str("team_id", s.state.StealTeam.ID).Msg("steal team missing from roster")
			return fx, ErrUnknownTeam
		}
		s.markAnswered()
		if correct {
			stealer.Score += value
			fx.TeamsChanged = true
			s.giveControl(stealer.ID)
			fx.emit(events.EventTypeAnswerJudged, events.AnswerJudgedPayload{
				TeamID: stealer.ID, QuestionID: questionID, Correct: true, Delta: value, Steal: true,
			})
			fx.merge(s.backToBoard())
		} else {
			// No penalty on a failed steal. The original offender
			// stays the no-buzz team; everyone else may try again.
			stealerID := stealer.ID
			s.state.StealTeam = nil
			s.state.CurrentTeam = nil
			s.state.Timer = 0
			s.state.TimerActive = false
			s.state.AnswerRevealed = false
			s.state.GamePhase = models.PhaseSteal
			s.armBuzzer()
			fx.PublishSlot = true
			fx.emit(events.EventTypeAnswerJudged, events.AnswerJudgedPayload{
				TeamID: stealerID, QuestionID: questionID, Correct: false, Delta: 0, Steal: true,
			})
			fx.emit(events.EventTypeStealStarted, events.StealStartedPayload{
				NoBuzzTeamID: s.state.NoBuzzTeamID,
				Epoch:        s.state.Buzzer.Epoch,
			})
		}
		fx.SnapshotDirty = true
		return fx, nil
	}

	// First answer. If nobody buzzed the host may still judge the
	// selected team (manual fallback).
	answering := s.state.CurrentTeam
	if answering == nil {
		answering = s.state.SelectedTeam
	}
	if answering == nil {
		return fx, ErrNoAnsweringTeam
	}
	team := s.state.TeamByID(answering.ID)
	if team == nil {
		log.Warn().Str("team_id", answering.ID).Msg("answering team missing from roster")
		return fx, ErrUnknownTeam
	}

	s.markAnswered()
	if correct {
		team.Score += value
		fx.TeamsChanged = true
		s.giveControl(team.ID)
		fx.emit(events.EventTypeAnswerJudged, events.AnswerJudgedPayload{
			TeamID: team.ID, QuestionID: questionID, Correct: true, Delta: value, Steal: false,
		})
		fx.merge(s.backToBoard())
	} else {
		team.Score -= value
		fx.TeamsChanged = true
		s.state.NoBuzzTeamID = team.ID
		tc := *team
		s.state.CurrentTeam = &tc
		s.state.StealTeam = nil
		s.state.Timer = 0
		s.state.TimerActive = false
		s.state.GamePhase = models.PhaseSteal
		s.armBuzzer()
		fx.PublishSlot = true
		fx.emit(events.EventTypeAnswerJudged, events.AnswerJudgedPayload{
			TeamID: team.ID, QuestionID: questionID, Correct: false, Delta: -value, Steal: false,
		})
		fx.emit(events.EventTypeStealStarted, events.StealStartedPayload{
			NoBuzzTeamID: team.ID,
			Epoch:        s.state.Buzzer.Epoch,
		})
	}
	fx.SnapshotDirty = true
	return fx, nil
}

// SelectSteal lets the host hand the steal to a team manually. If a
// press already committed for this steal round it wins over the manual
// pick. The no-buzz team cannot be chosen.
func (s *Session) SelectSteal(teamID string) (Effects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	if s.state.GamePhase != models.PhaseSteal {
		return fx, fmt.Errorf("select steal: %w", ErrWrongPhase)
	}

	chosen := teamID
	if p := s.state.Buzzer.Press; p != nil && s.state.TeamByID(p.TeamID) != nil && p.TeamID != s.state.NoBuzzTeamID {
		chosen = p.TeamID
	}
	team := s.state.TeamByID(chosen)
	if team == nil {
		return fx, ErrUnknownTeam
	}
	if team.ID == s.state.NoBuzzTeamID {
		return fx, ErrIneligibleTeam
	}

	tc := *team
	s.state.StealTeam = &tc
	tc2 := *team
	s.state.CurrentTeam = &tc2
	s.state.GamePhase = models.PhaseAnswer
	s.state.Timer = s.cfg.StealSeconds
	s.state.TimerActive = true
	s.state.AnswerRevealed = false
	s.state.Buzzer.Enabled = false
	if s.state.Buzzer.Press != nil && s.state.Buzzer.Press.TeamID != chosen {
		s.state.Buzzer.Press = nil
	}

	fx.PublishSlot = true
	fx.SnapshotDirty = true
	fx.emit(events.EventTypeTeamBuzzed, events.TeamBuzzedPayload{
		Press: models.BuzzerPress{
			TeamID:    team.ID,
			TeamName:  team.Name,
			Timestamp: s.clock.Now(),
		},
		Epoch: s.state.Buzzer.Epoch,
		Steal: true,
	})
	return fx, nil
}

// SkipSteal closes the question with no winner. Nobody scores, the
// question is marked answered and control advances to the next team in
// rotation.
func (s *Session) SkipSteal() (Effects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	if s.state.GamePhase != models.PhaseSteal {
		return fx, fmt.Errorf("skip steal: %w", ErrWrongPhase)
	}

	questionID := ""
	if s.state.CurrentQuestion != nil {
		questionID = s.state.CurrentQuestion.ID
	}
	s.markAnswered()
	next := s.nextTeamIndex()
	s.state.CurrentTeamIndex = next
	if next < len(s.state.Teams) {
		t := s.state.Teams[next]
		s.state.SelectedTeam = &t
	}
	nextID := ""
	if s.state.SelectedTeam != nil {
		nextID = s.state.SelectedTeam.ID
	}
	fx.emit(events.EventTypeQuestionSkipped, events.QuestionSkippedPayload{
		QuestionID: questionID,
		NextTeamID: nextID,
	})
	fx.merge(s.backToBoard())
	fx.SnapshotDirty = true
	return fx, nil
}

// Resume re-arms the buzzer after a restart landed the restored session
// in the steal phase; the slot itself never survives a restore, so the
// steal round needs a fresh epoch for the remaining teams.
func (s *Session) Resume() Effects {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	if s.state.GamePhase != models.PhaseSteal {
		return fx
	}
	s.armBuzzer()
	s.lastAppliedEpoch = s.state.Buzzer.Epoch - 1
	fx.PublishSlot = true
	fx.SnapshotDirty = true
	fx.emit(events.EventTypeStealStarted, events.StealStartedPayload{
		NoBuzzTeamID: s.state.NoBuzzTeamID,
		Epoch:        s.state.Buzzer.Epoch,
	})
	return fx
}

// RevealAnswer shows the answer text on the host board. It also stops
// the countdown so the expiry path cannot fire after reveal.
func (s *Session) RevealAnswer() (Effects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	if s.state.CurrentQuestion == nil {
		return fx, fmt.Errorf("reveal answer: %w", ErrWrongPhase)
	}
	if s.state.AnswerRevealed {
		return fx, nil
	}
	s.state.AnswerRevealed = true
	s.state.TimerActive = false
	fx.SnapshotDirty = true
	fx.emit(events.EventTypeAnswerRevealed, events.AnswerRevealedPayload{
		QuestionID: s.state.CurrentQuestion.ID,
	})
	return fx, nil
}

// SetScore applies a manual host score override outside question
// resolution.
func (s *Session) SetScore(teamID string, score int) (Effects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	team := s.state.TeamByID(teamID)
	if team == nil {
		return fx, ErrUnknownTeam
	}
	team.Score = score
	s.refreshTeamRefs()
	fx.TeamsChanged = true
	fx.SnapshotDirty = true
	fx.emit(events.EventTypeScoreAdjusted, events.ScoreAdjustedPayload{
		TeamID:   teamID,
		NewScore: score,
	})
	return fx, nil
}

// RegisterPlayer records a spectator device joining a team. The team
// must exist in the current roster.
func (s *Session) RegisterPlayer(p models.Player) (Effects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	team := s.state.TeamByID(p.TeamID)
	if team == nil {
		return fx, ErrUnknownTeam
	}
	p.TeamName = team.Name
	for i := range s.state.Players {
		if s.state.Players[i].ID == p.ID {
			s.state.Players[i] = p
			fx.SnapshotDirty = true
			return fx, nil
		}
	}
	s.state.Players = append(s.state.Players, p)
	fx.SnapshotDirty = true
	return fx, nil
}

// TickTimer advances the countdown by one second. When the window
// lapses the session forces the steal transition: a team that buzzed and
// never answered is penalized like an incorrect answer, a lapsed steal
// answer costs nothing, and with no buzz at all there is no penalty. The
// question stays unanswered so the steal can still resolve it.
func (s *Session) TickTimer() (Effects, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	if !s.state.TimerActive || s.state.Timer <= 0 {
		return fx, false
	}
	s.state.Timer--
	fx.emit(events.EventTypeTimerTick, events.TimerTickPayload{
		RemainingSec: s.state.Timer,
		TickedAt:     s.clock.Now(),
	})
	if s.state.Timer > 0 {
		return fx, true
	}
	s.state.TimerActive = false

	if s.state.GamePhase != models.PhaseAnswer || s.state.AnswerRevealed || s.state.CurrentQuestion == nil {
		return fx, true
	}

	if s.state.StealTeam != nil {
		// Steal window lapsed: same outcome as an incorrect steal.
		s.state.StealTeam = nil
		s.state.CurrentTeam = nil
		s.state.AnswerRevealed = false
		s.state.GamePhase = models.PhaseSteal
		s.armBuzzer()
		fx.PublishSlot = true
		fx.SnapshotDirty = true
		fx.emit(events.EventTypeTimerExpired, events.TimerExpiredPayload{Steal: true})
		fx.emit(events.EventTypeStealStarted, events.StealStartedPayload{
			NoBuzzTeamID: s.state.NoBuzzTeamID,
			Epoch:        s.state.Buzzer.Epoch,
		})
		return fx, true
	}

	penalized := ""
	if s.state.CurrentTeam != nil {
		if team := s.state.TeamByID(s.state.CurrentTeam.ID); team != nil {
			team.Score -= s.state.CurrentQuestion.Value
			s.state.NoBuzzTeamID = team.ID
			penalized = team.ID
			fx.TeamsChanged = true
		}
	}
	// The question is deliberately left unanswered here; whoever
	// resolves the steal marks it.
	s.state.StealTeam = nil
	s.state.GamePhase = models.PhaseSteal
	s.armBuzzer()
	fx.PublishSlot = true
	fx.SnapshotDirty = true
	fx.emit(events.EventTypeTimerExpired, events.TimerExpiredPayload{PenalizedTeamID: penalized})
	fx.emit(events.EventTypeStealStarted, events.StealStartedPayload{
		NoBuzzTeamID: s.state.NoBuzzTeamID,
		Epoch:        s.state.Buzzer.Epoch,
	})
	return fx, true
}

// StartNewRoom resets everything for a fresh session: new room code,
// empty roster, all questions unanswered. Returns the rotation event so
// player devices in the old room can follow.
func (s *Session) StartNewRoom(newCode string) (Effects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fx Effects

	oldCode := s.state.RoomCode
	s.state = &models.GameState{
		Categories: freshBoard(s.template),
		GamePhase:  models.PhaseSetup,
		RoomCode:   newCode,
	}
	s.lastAppliedEpoch = 0

	fx.TeamsChanged = true
	fx.PublishSlot = true
	fx.SnapshotDirty = true
	if oldCode != "" {
		fx.emit(events.EventTypeRoomRotated, events.RoomRotatedPayload{
			OldRoomCode: oldCode,
			NewRoomCode: newCode,
			RotatedAt:   s.clock.Now(),
		})
	}
	return fx, nil
}

// armBuzzer starts a new epoch with the slot open for all teams.
func (s *Session) armBuzzer() {
	s.state.Buzzer = models.BuzzerSlot{
		Enabled: true,
		Press:   nil,
		Epoch:   s.state.Buzzer.Epoch + 1,
	}
}

// markAnswered flips the open question's answered flag (one-way).
func (s *Session) markAnswered() {
	if s.state.SelectedQuestion == nil {
		return
	}
	if q := s.state.QuestionAt(*s.state.SelectedQuestion); q != nil {
		q.Answered = true
	}
}

// giveControl makes the given team the selector of the next question
// (the Jeopardy rule: answer correctly, pick next).
func (s *Session) giveControl(teamID string) {
	idx := s.state.TeamIndex(teamID)
	if idx < 0 {
		return
	}
	s.state.CurrentTeamIndex = idx
	t := s.state.Teams[idx]
	s.state.SelectedTeam = &t
}

// backToBoard closes the open question and returns to the board,
// transitioning to finished if nothing is left to play.
func (s *Session) backToBoard() Effects {
	var fx Effects
	s.state.CurrentQuestion = nil
	s.state.SelectedQuestion = nil
	s.state.CurrentTeam = nil
	s.state.StealTeam = nil
	s.state.NoBuzzTeamID = ""
	s.state.Timer = 0
	s.state.TimerActive = false
	s.state.AnswerRevealed = false
	s.state.GamePhase = models.PhasePlaying
	s.state.Buzzer.Enabled = false
	s.state.Buzzer.Press = nil
	fx.PublishSlot = true

	if s.state.AllAnswered() {
		s.state.GamePhase = models.PhaseFinished
		fx.emit(events.EventTypeGameFinished, events.GameFinishedPayload{
			Teams:      append([]models.Team(nil), s.state.Teams...),
			FinishedAt: s.clock.Now(),
		})
	}
	return fx
}

// nextTeamIndex is the cyclic successor of the current index.
func (s *Session) nextTeamIndex() int {
	if len(s.state.Teams) == 0 {
		return 0
	}
	return (s.state.CurrentTeamIndex + 1) % len(s.state.Teams)
}

// refreshTeamRefs re-copies the denormalized team references after a
// roster score change so projections stay consistent.
func (s *Session) refreshTeamRefs() {
	refresh := func(ref **models.Team) {
		if *ref == nil {
			return
		}
		if t := s.state.TeamByID((*ref).ID); t != nil {
			tc := *t
			*ref = &tc
		}
	}
	refresh(&s.state.CurrentTeam)
	refresh(&s.state.SelectedTeam)
	refresh(&s.state.StealTeam)
}

func cloneCategories(in []models.Category) []models.Category {
	out := make([]models.Category, len(in))
	for i, cat := range in {
		out[i] = cat
		out[i].Questions = append([]models.Question(nil), cat.Questions...)
	}
	return out
}

// freshBoard returns a copy of the template with every answered flag
// cleared.
func freshBoard(template []models.Category) []models.Category {
	out := cloneCategories(template)
	for i := range out {
		for j := range out[i].Questions {
			out[i].Questions[j].Answered = false
		}
	}
	return out
}
