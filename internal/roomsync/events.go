package roomsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/buzzboard/buzzboard/internal/game/events"
)

// Envelope wraps every event on the display stream. EventID lets
// consumers dedupe across redeliveries.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	RoomCode  string          `json:"roomCode"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// PublishEvent publishes a display event for a room. Best effort by
// contract: callers log failures and move on.
func (c *Client) PublishEvent(ctx context.Context, roomCode string, ev events.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	eventID := uuid.NewString()
	env := Envelope{
		EventID:   eventID,
		EventType: string(ev.Type),
		RoomCode:  roomCode,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", c.config.SubjectPrefix, roomCode)
	ack, err := c.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(ev.Type)},
			"Room-Code":  []string{roomCode},
			"Event-ID":   []string{eventID},
		},
	}, jetstream.WithMsgID(eventID))
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_type", string(ev.Type)).
		Uint64("sequence", ack.Sequence).
		Msg("published room event")
	return nil
}

// ConsumeEvents delivers room events to handler, starting from new
// messages. One ephemeral consumer per call; the gateway runs one for
// all rooms with a ">" wildcard. Blocks until ctx is cancelled.
func (c *Client) ConsumeEvents(ctx context.Context, roomCode string, handler func(Envelope)) error {
	filter := fmt.Sprintf("%s.%s", c.config.SubjectPrefix, roomCode)

	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}
	consumer, err := stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: filter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed event envelope")
			msg.Term()
			return
		}
		handler(env)
		if err := msg.Ack(); err != nil {
			log.Error().Err(err).Msg("failed to ACK event")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}

// Command is a host-bound instruction from a player gateway. Only
// player joins travel this way; buzzes commit directly against the KV
// slot and the host observes them through its watch.
type Command struct {
	Type     string          `json:"type"`
	RoomCode string          `json:"roomCode"`
	Payload  json.RawMessage `json:"payload"`
}

// CmdTypeJoin registers a player with the host.
const CmdTypeJoin = "join"

// PublishCommand sends a command to the room's host over core NATS.
func (c *Client) PublishCommand(ctx context.Context, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", c.config.CmdPrefix, cmd.RoomCode)
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}
	return nil
}

// SubscribeCommands delivers commands for a room to handler until ctx
// is cancelled. Core NATS: commands from before the host subscribed are
// gone, which is fine because a joining player retries.
func (c *Client) SubscribeCommands(ctx context.Context, roomCode string, handler func(Command)) error {
	subject := fmt.Sprintf("%s.%s", c.config.CmdPrefix, roomCode)
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		var cmd Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed command")
			return
		}
		handler(cmd)
	})
	if err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("unsubscribe commands")
		}
	}()
	return nil
}
