package events

import (
	"time"

	"github.com/buzzboard/buzzboard/internal/models"
)

// Event payload types shared between the host process and the gateway.
// These ride the best-effort event stream; nothing authoritative depends
// on their delivery (teams and the buzzer slot are synced separately).

// EventType identifies a game event on the wire.
type EventType string

const (
	EventTypeGameStarted      EventType = "GameStarted"
	EventTypeQuestionSelected EventType = "QuestionSelected"
	EventTypeTeamBuzzed       EventType = "TeamBuzzed"
	EventTypeAnswerJudged     EventType = "AnswerJudged"
	EventTypeStealStarted     EventType = "StealStarted"
	EventTypeQuestionSkipped  EventType = "QuestionSkipped"
	EventTypeAnswerRevealed   EventType = "AnswerRevealed"
	EventTypeTimerTick        EventType = "TimerTick"
	EventTypeTimerExpired     EventType = "TimerExpired"
	EventTypeScoreAdjusted    EventType = "ScoreAdjusted"
	EventTypeGameFinished     EventType = "GameFinished"
	EventTypeRoomRotated      EventType = "RoomRotated"
)

// Event pairs a type with its payload before envelope assembly.
type Event struct {
	Type    EventType
	Payload any
}

// GameStartedPayload is emitted on the setup -> playing transition.
type GameStartedPayload struct {
	RoomCode  string        `json:"room_code"`
	Teams     []models.Team `json:"teams"`
	StartedAt time.Time     `json:"started_at"`
}

// QuestionSelectedPayload is emitted when the host opens a question and
// the buzzer is armed for all teams.
type QuestionSelectedPayload struct {
	CategoryID string `json:"category_id"`
	QuestionID string `json:"question_id"`
	Value      int    `json:"value"`
	TimerSec   int    `json:"timer_sec"`
	Epoch      uint64 `json:"epoch"`
}

// TeamBuzzedPayload is emitted when a committed press is accepted by the
// state machine. Losing devices lock on this.
type TeamBuzzedPayload struct {
	Press models.BuzzerPress `json:"press"`
	Epoch uint64             `json:"epoch"`
	Steal bool               `json:"steal"`
}

// AnswerJudgedPayload is emitted when the host marks an answer.
type AnswerJudgedPayload struct {
	TeamID     string `json:"team_id"`
	QuestionID string `json:"question_id"`
	Correct    bool   `json:"correct"`
	Delta      int    `json:"delta"`
	Steal      bool   `json:"steal"`
}

// StealStartedPayload is emitted when the buzzer is re-armed for a steal
// round. NoBuzzTeamID is the team barred from buzzing.
type StealStartedPayload struct {
	NoBuzzTeamID string `json:"no_buzz_team_id,omitempty"`
	Epoch        uint64 `json:"epoch"`
}

// QuestionSkippedPayload is emitted when the host skips an unstolen
// question. Control passes to the next team in rotation.
type QuestionSkippedPayload struct {
	QuestionID string `json:"question_id"`
	NextTeamID string `json:"next_team_id"`
}

// AnswerRevealedPayload is emitted when the host reveals the answer text.
type AnswerRevealedPayload struct {
	QuestionID string `json:"question_id"`
}

// TimerTickPayload carries the countdown; client display only, the host
// deadline is authoritative.
type TimerTickPayload struct {
	RemainingSec int       `json:"remaining_sec"`
	TickedAt     time.Time `json:"ticked_at"`
}

// TimerExpiredPayload is emitted when the answer window lapses and the
// session is forced into the steal phase.
type TimerExpiredPayload struct {
	PenalizedTeamID string `json:"penalized_team_id,omitempty"`
	Steal           bool   `json:"steal"`
}

// ScoreAdjustedPayload is emitted on a manual host score override.
type ScoreAdjustedPayload struct {
	TeamID   string `json:"team_id"`
	NewScore int    `json:"new_score"`
}

// GameFinishedPayload is emitted once every question has been answered.
type GameFinishedPayload struct {
	Teams      []models.Team `json:"teams"`
	FinishedAt time.Time     `json:"finished_at"`
}

// RoomRotatedPayload tells player devices in the old room where to go.
type RoomRotatedPayload struct {
	OldRoomCode string    `json:"old_room_code"`
	NewRoomCode string    `json:"new_room_code"`
	RotatedAt   time.Time `json:"rotated_at"`
}
