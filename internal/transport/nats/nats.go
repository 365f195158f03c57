package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"mathquest-engine/internal/domain"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default NATS configuration
func DefaultConfig(url, prefix string) Config {
	if prefix == "" {
		prefix = "mathquest.events"
	}
	return Config{
		URL:           url,
		SubjectPrefix: prefix,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

func Connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("mathquest-engine"),
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
	return nc, nil
}

// envelope carries the exact room next to the event, since subjects are lossy.
type envelope struct {
	Room  string          `json:"room"`
	Event json.RawMessage `json:"event"`
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", ":", ".")

// Subject maps a room onto a subject below prefix: game:ABC -> {prefix}.game.ABC.
func Subject(prefix, room string) string {
	return prefix + "." + subjectReplacer.Replace(room)
}

// Publisher sends room events to every gateway instance through NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: prefix}
}

func (p *Publisher) Publish(_ context.Context, room string, ev domain.Event) error {
	data, err := encode(room, ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(p.prefix, room), data)
}

func encode(room string, ev domain.Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Room: room, Event: raw})
}

// Deliverer is the local fan-out the relay feeds, typically the websocket hub.
type Deliverer interface {
	Deliver(room string, payload []byte)
}

// Relay forwards every event published under the prefix into the local hub.
type Relay struct {
	sub *nats.Subscription
}

func StartRelay(nc *nats.Conn, prefix string, local Deliverer) (*Relay, error) {
	sub, err := nc.Subscribe(prefix+".>", func(msg *nats.Msg) {
		relay(local, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s.>: %w", prefix, err)
	}
	log.Info().Str("subject", prefix+".>").Msg("NATS relay started")
	return &Relay{sub: sub}, nil
}

func (r *Relay) Close() error {
	return r.sub.Unsubscribe()
}

func relay(local Deliverer, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Room == "" {
		log.Warn().Err(err).Msg("dropping malformed relayed event")
		return
	}
	local.Deliver(env.Room, env.Event)
}
