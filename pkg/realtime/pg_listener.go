package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// PGListener forwards Postgres NOTIFY payloads from one channel to a Hub.
type PGListener struct {
	dsn     string
	channel string
	hub     *Hub
	logger  *slog.Logger
}

func NewPGListener(dsn, channel string, hub *Hub, logger *slog.Logger) (*PGListener, error) {
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	if channel == "" {
		return nil, errors.New("notification channel required")
	}
	if hub == nil {
		return nil, errors.New("hub required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PGListener{dsn: dsn, channel: channel, hub: hub, logger: logger}, nil
}

// Run listens until ctx is cancelled.
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, minReconnectInterval, maxReconnectInterval, l.onEvent)
	defer listener.Close()
	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.logger.Info("realtime listener started", "channel", l.channel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; notifications sent meanwhile are lost.
			if n == nil {
				l.logger.Warn("realtime listener reconnected", "channel", l.channel)
				continue
			}
			l.hub.PublishRaw(n.Extra)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				l.logger.Warn("realtime listener ping failed", "err", err)
			}
		}
	}
}

func (l *PGListener) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn("realtime listener connect failed", "err", err)
	case pq.ListenerEventDisconnected:
		l.logger.Warn("realtime listener disconnected", "err", err)
	case pq.ListenerEventReconnected:
		l.logger.Info("realtime listener reconnected")
	}
}
