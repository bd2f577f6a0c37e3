// Package roomsync synchronizes room state between the host process and
// player gateways over NATS JetStream.
//
// Three channels with different delivery contracts:
//
//   - A key-value bucket holds the authoritative room documents (teams,
//     buzzer slot, rotation pointer, room metadata). KV watches replay
//     the current value to late subscribers, so a device joining
//     mid-game converges without any replay choreography.
//   - The buzzer key doubles as the arbitration cell: players commit a
//     press with a revision-checked update, so concurrent presses
//     resolve to exactly one winner per armed epoch.
//   - A best-effort event stream (room.events.<code>) carries display
//     events. Nothing authoritative rides it.
//
// Host commands travel on core NATS subjects (room.cmd.<code>).
package roomsync

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	keyTeams    = "teams"
	keyBuzzer   = "buzzer"
	keyRotation = "rotation"
	keyMeta     = "meta"
)

// Config holds the NATS wiring for a room sync client.
type Config struct {
	URL           string
	BucketName    string
	StreamName    string
	SubjectPrefix string // event subjects are <prefix>.<roomCode>
	CmdPrefix     string // command subjects are <prefix>.<roomCode>
	MaxReconnects int
	ReconnectWait time.Duration
	RoomTTL       time.Duration // KV entry lifetime; rooms expire when idle
	EventMaxAge   time.Duration
}

// DefaultConfig returns the config used by both shipped binaries.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		BucketName:    "TRIVIA_ROOMS",
		StreamName:    "ROOM_EVENTS",
		SubjectPrefix: "room.events",
		CmdPrefix:     "room.cmd",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		RoomTTL:       12 * time.Hour,
		EventMaxAge:   1 * time.Hour,
	}
}

// Client is a connected room sync endpoint. Safe for concurrent use.
type Client struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	config Config
}

// Connect dials NATS, ensures the KV bucket and event stream exist and
// returns a ready client.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	c := &Client{nc: nc, js: js, config: cfg}

	if err := c.ensureBucket(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure KV bucket: %w", err)
	}
	if err := c.ensureEventStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure event stream: %w", err)
	}

	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      c.config.BucketName,
		Description: "Authoritative trivia room state",
		TTL:         c.config.RoomTTL,
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return err
	}
	c.kv = kv
	log.Info().Str("bucket", c.config.BucketName).Msg("KV bucket ready")
	return nil
}

func (c *Client) ensureEventStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        c.config.StreamName,
		Description: "Best-effort room display events",
		Subjects:    []string{fmt.Sprintf("%s.>", c.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      c.config.EventMaxAge,
		Storage:     jetstream.FileStorage,
	}

	if _, err := c.js.Stream(ctx, c.config.StreamName); err != nil {
		if _, err := c.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", c.config.StreamName).Msg("created event stream")
	}
	return nil
}

// Close drains the underlying connection.
func (c *Client) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}

func roomKey(code, field string) string {
	return fmt.Sprintf("%s.%s", code, field)
}
