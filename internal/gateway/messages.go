package gateway

import (
	"encoding/json"

	"github.com/buzzboard/buzzboard/internal/models"
)

// Frame types exchanged with player devices. Client frames arrive on
// the read pump; server frames go out through the broadcast channel.

const (
	// client -> server
	FrameTypeJoin = "join"
	FrameTypeBuzz = "buzz"

	// server -> client
	FrameTypeWelcome     = "welcome"
	FrameTypeTeams       = "teams"
	FrameTypeBuzzer      = "buzzer"
	FrameTypeBuzzResult  = "buzz_result"
	FrameTypeEvent       = "event"
	FrameTypeRoomRotated = "room_rotated"
	FrameTypeError       = "error"
)

// ClientFrame is the envelope for device messages.
type ClientFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload claims a player identity on a team.
type JoinPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	TeamID     string `json:"teamId"`
}

// ServerFrame is the envelope for everything the gateway pushes.
type ServerFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// WelcomePayload confirms the connection and reports the room.
type WelcomePayload struct {
	RoomCode string `json:"roomCode"`
}

// BuzzResultPayload answers a buzz frame. Committed is true only for
// the device that won the slot; everyone else locks on the slot it
// carries.
type BuzzResultPayload struct {
	Committed bool              `json:"committed"`
	Slot      models.BuzzerSlot `json:"slot"`
}

// ErrorPayload reports a rejected frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

func marshalFrame(frameType string, payload any) ([]byte, error) {
	return json.Marshal(ServerFrame{Type: frameType, Payload: payload})
}
