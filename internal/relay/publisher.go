// Package relay mirrors every overlay event onto a JetStream stream so
// recorders, chat bots, and other tools can consume exactly what the overlay
// saw without holding a WebSocket open.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/overlayworks/arcade/internal/events"
)

// PublisherConfig holds the JetStream mirror settings.
type PublisherConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
	MaxMsgs       int64
	Replicas      int
}

// DefaultPublisherConfig returns the production mirror settings.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		URL:           nats.DefaultURL,
		StreamName:    "OVERLAY_EVENTS",
		SubjectPrefix: "overlay.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
		MaxMsgs:       -1,
		Replicas:      1,
	}
}

// Publisher mirrors events onto JetStream. It satisfies events.Broadcaster
// so it can sit in the same fan-out as the WebSocket gateway.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config PublisherConfig
}

// NewPublisher connects to NATS and ensures the stream exists.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
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

	p := &Publisher{nc: nc, js: js, config: cfg}
	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Mirror of overlay game events",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
	}

	if _, err := p.js.Stream(ctx, p.config.StreamName); err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", p.config.StreamName).Msg("created JetStream stream")
	}
	return nil
}

// Broadcast publishes the event. Errors are logged, never propagated: the
// mirror is best-effort and must not disturb the overlay path.
func (p *Publisher) Broadcast(event events.Event) {
	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, subjectToken(event.Name))

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Name).Msg("marshal event for mirror")
		return
	}

	// Async publish keeps the broadcast path non-blocking; acks are only
	// checked for logging.
	fut, err := p.js.PublishMsgAsync(&nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Name": []string{event.Name},
			"Event-ID":   []string{event.ID},
		},
	}, jetstream.WithMsgID(event.ID))
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("mirror publish failed")
		return
	}
	go func() {
		select {
		case <-fut.Ok():
			log.Debug().Str("subject", subject).Str("event_id", event.ID).Msg("event mirrored")
		case err := <-fut.Err():
			log.Error().Err(err).Str("subject", subject).Msg("mirror publish not acked")
		}
	}()
}

// Close shuts the NATS connection down.
func (p *Publisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// subjectToken flattens an event name like "queue:wheel-queued" into NATS
// subject tokens.
func subjectToken(name string) string {
	return strings.ReplaceAll(name, ":", ".")
}
