package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/overlayworks/arcade/internal/events"
)

// ListenerConfig holds the LISTEN/NOTIFY settings for config changes.
type ListenerConfig struct {
	DatabaseURL      string
	NotifyChannel    string
	FallbackInterval time.Duration // periodic full reload in case a NOTIFY was missed
	PingInterval     time.Duration
}

// DefaultListenerConfig returns the production listener settings.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "game_config_events",
		FallbackInterval: 5 * time.Minute,
		PingInterval:     90 * time.Second,
	}
}

// ChangeHandler is invoked with the game kind whose configuration changed.
// An empty kind means "reload everything" (fallback tick).
type ChangeHandler func(ctx context.Context, kind events.GameKind) error

// Listener watches Postgres for game configuration changes. The dashboard
// that edits configs raises a NOTIFY with the game kind as payload; the
// service reloads the affected adapter's live config, which bumps its
// fingerprint so queued requests captured against the old config fail
// staleness validation instead of running.
type Listener struct {
	listener *pq.Listener
	handler  ChangeHandler
	cfg      ListenerConfig
}

// NewListener starts LISTENing on the configured channel.
func NewListener(cfg ListenerConfig, handler ChangeHandler) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("config listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.NotifyChannel, err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for config changes")
	return &Listener{listener: l, handler: handler, cfg: cfg}, nil
}

// Start processes notifications until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("config listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// Connection was lost and re-established; reload all.
				if err := l.handler(ctx, ""); err != nil {
					log.Error().Err(err).Msg("config reload after reconnect failed")
				}
				continue
			}
			kind := events.GameKind(note.Extra)
			if !kind.Valid() {
				log.Warn().Str("payload", note.Extra).Msg("config notification for unknown kind")
				continue
			}
			if err := l.handler(ctx, kind); err != nil {
				log.Error().Err(err).Str("kind", string(kind)).Msg("config reload failed")
			}
		case <-fallbackTicker.C:
			if err := l.handler(ctx, ""); err != nil {
				log.Error().Err(err).Msg("periodic config reload failed")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("config listener ping failed")
			}
		}
	}
}

// Stop closes the underlying connection.
func (l *Listener) Stop() error {
	return l.listener.Close()
}
