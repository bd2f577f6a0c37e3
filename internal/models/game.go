package models

import (
	"time"
)

// GamePhase defines the phase of a game session.
type GamePhase string

const (
	PhaseSetup    GamePhase = "setup"
	PhasePlaying  GamePhase = "playing"
	PhaseAnswer   GamePhase = "answer"
	PhaseSteal    GamePhase = "steal"
	PhaseFinished GamePhase = "finished"

	// PhaseTeamSelect is a vestigial alias of PhasePlaying kept so older
	// persisted snapshots still load. Treat it as PhasePlaying everywhere.
	PhaseTeamSelect GamePhase = "team-select"
)

// Normalize maps vestigial phase aliases onto their canonical value.
func (p GamePhase) Normalize() GamePhase {
	if p == PhaseTeamSelect {
		return PhasePlaying
	}
	return p
}

// Team is a scoring unit. Identity is ID, unique within a session. Teams
// are created at setup and never deleted mid-game; only the session state
// machine mutates Score.
type Team struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Question is immutable except Answered, which transitions false -> true
// exactly once. The one exception is the timer-expiry path, which enters
// the steal phase with Answered still false so the question can be marked
// once the steal resolves.
type Question struct {
	ID       string `json:"id"`
	Text     string `json:"question"`
	Answer   string `json:"answer"`
	Value    int    `json:"value"`
	Answered bool   `json:"answered"`
}

// Category is an ordered container of exactly QuestionsPerCategory
// questions, one per value tier.
type Category struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

// QuestionsPerCategory is the number of value tiers on the board.
const QuestionsPerCategory = 5

// Player is a spectator device registered against a team.
type Player struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TeamID   string `json:"teamId"`
	TeamName string `json:"teamName"`
}

// BuzzerPress is a committed arbitration win. Immutable once created; at
// most one exists per buzzer epoch.
type BuzzerPress struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	TeamID     string    `json:"teamId"`
	TeamName   string    `json:"teamName"`
	Timestamp  time.Time `json:"timestamp"`
}

// BuzzerSlot is the single shared resource contended by all player
// devices. Invariants: Press != nil implies Enabled == false, and a press
// may only be committed while Enabled is true and Press is nil. Epoch is
// bumped every time the slot is armed; presses carry the epoch they were
// committed in so stale or duplicate deliveries can be rejected without
// relying on transport ordering.
type BuzzerSlot struct {
	Enabled bool         `json:"enabled"`
	Press   *BuzzerPress `json:"press"`
	Epoch   uint64       `json:"epoch"`
}

// SelectedQuestion addresses a question on the board.
type SelectedQuestion struct {
	CategoryID string `json:"categoryId"`
	QuestionID string `json:"questionId"`
}

// GameState is the aggregate root. Exactly one authoritative copy exists,
// owned and mutated only by the host; every other participant holds a
// read-only projection refreshed via the synchronization layer.
type GameState struct {
	Teams            []Team            `json:"teams"`
	Categories       []Category        `json:"categories"`
	CurrentQuestion  *Question         `json:"currentQuestion"`
	CurrentTeam      *Team             `json:"currentTeam"`
	Timer            int               `json:"timer"`
	TimerActive      bool              `json:"timerActive"`
	GamePhase        GamePhase         `json:"gamePhase"`
	SelectedQuestion *SelectedQuestion `json:"selectedQuestion"`
	StealTeam        *Team             `json:"stealTeam"`
	SelectedTeam     *Team             `json:"selectedTeam"`
	CurrentTeamIndex int               `json:"currentTeamIndex"`
	AnswerRevealed   bool              `json:"answerRevealed"`
	RoomCode         string            `json:"roomCode"`
	Buzzer           BuzzerSlot        `json:"buzzer"`

	// NoBuzzTeamID is the team barred from buzzing during a steal: the
	// team that first answered this question incorrectly. It stays fixed
	// for the lifetime of the question, even across failed steals.
	NoBuzzTeamID string `json:"buzzerNoBuzzTeamId,omitempty"`

	Players []Player `json:"players,omitempty"`
}

// TeamByID returns the team with the given id, or nil if it is not part
// of the current roster.
func (s *GameState) TeamByID(id string) *Team {
	for i := range s.Teams {
		if s.Teams[i].ID == id {
			return &s.Teams[i]
		}
	}
	return nil
}

// TeamIndex returns the roster index of the given team id, or -1.
func (s *GameState) TeamIndex(id string) int {
	for i := range s.Teams {
		if s.Teams[i].ID == id {
			return i
		}
	}
	return -1
}

// QuestionAt returns the question addressed by sel, or nil.
func (s *GameState) QuestionAt(sel SelectedQuestion) *Question {
	for i := range s.Categories {
		if s.Categories[i].ID != sel.CategoryID {
			continue
		}
		for j := range s.Categories[i].Questions {
			if s.Categories[i].Questions[j].ID == sel.QuestionID {
				return &s.Categories[i].Questions[j]
			}
		}
	}
	return nil
}

// AllAnswered reports whether every question in every category has been
// answered. The finished phase is reached iff this holds.
func (s *GameState) AllAnswered() bool {
	for i := range s.Categories {
		for j := range s.Categories[i].Questions {
			if !s.Categories[i].Questions[j].Answered {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy safe to hand to other goroutines (fan-out,
// snapshot persistence) while the host keeps mutating the original.
func (s *GameState) Clone() *GameState {
	out := *s
	out.Teams = append([]Team(nil), s.Teams...)
	out.Categories = make([]Category, len(s.Categories))
	for i, cat := range s.Categories {
		out.Categories[i] = cat
		out.Categories[i].Questions = append([]Question(nil), cat.Questions...)
	}
	out.Players = append([]Player(nil), s.Players...)
	if s.CurrentQuestion != nil {
		q := *s.CurrentQuestion
		out.CurrentQuestion = &q
	}
	if s.CurrentTeam != nil {
		t := *s.CurrentTeam
		out.CurrentTeam = &t
	}
	if s.StealTeam != nil {
		t := *s.StealTeam
		out.StealTeam = &t
	}
	if s.SelectedTeam != nil {
		t := *s.SelectedTeam
		out.SelectedTeam = &t
	}
	if s.SelectedQuestion != nil {
		sel := *s.SelectedQuestion
		out.SelectedQuestion = &sel
	}
	if s.Buzzer.Press != nil {
		p := *s.Buzzer.Press
		out.Buzzer.Press = &p
	}
	return &out
}
