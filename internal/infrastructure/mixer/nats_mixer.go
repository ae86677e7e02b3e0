package mixer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"audiod/internal/core/domain"
	"audiod/internal/core/ports"
	"audiod/pkg/retry"
	"audiod/pkg/tracing"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Conn is the subset of *nats.Conn used by NATSMixer.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
	Close()
}

// Connect dials NATS, backing off between up to attempts tries.
func Connect(url string, attempts int, wait time.Duration, logger *zap.SugaredLogger) (*nats.Conn, error) {
	cfg := retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: wait,
		MaxDelay:     8 * wait,
		Multiplier:   2,
		Jitter:       true,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warnw("Failed to connect to NATS",
				"attempt", attempt,
				"attempts", attempts,
				"retry_in", delay,
				"error", err,
			)
		},
	}

	var nc *nats.Conn
	err := retry.Do(context.Background(), cfg, func(context.Context) error {
		var err error
		nc, err = nats.Connect(url,
			nats.Name("audiod"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warnw("Disconnected from mixer bus", "error", err)
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Infow("Reconnected to mixer bus", "url", c.ConnectedUrl())
			}),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infow("Connected to NATS", "url", url)
	return nc, nil
}

type volumeMessage struct {
	Stream string `json:"stream"`
	Kind   string `json:"kind"`
	Volume int    `json:"volume"`
	Ramp   bool   `json:"ramp"`
}

type muteMessage struct {
	Stream string `json:"stream"`
	Kind   string `json:"kind"`
	Mute   bool   `json:"mute"`
}

type appVolumeMessage struct {
	Stream  string `json:"stream"`
	MediaID string `json:"mediaId"`
	Volume  int    `json:"volume"`
}

// eventMessage is the envelope published by the mixer on
// <prefix>.<backend>.events.
type eventMessage struct {
	Event  string `json:"event"`
	Stream string `json:"stream,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Status string `json:"status,omitempty"`
	Source string `json:"source,omitempty"`
	Sink   string `json:"sink,omitempty"`
	Volume *int   `json:"volume,omitempty"`
	Ready  bool   `json:"ready,omitempty"`
}

// NATSMixer talks to the external mixer over NATS subjects.
type NATSMixer struct {
	conn   Conn
	prefix string
	logger *zap.SugaredLogger
}

func NewNATSMixer(conn Conn, prefix string, logger *zap.SugaredLogger) *NATSMixer {
	return &NATSMixer{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
	}
}

func (m *NATSMixer) subject(backend domain.MixerBackend, op string) string {
	return fmt.Sprintf("%s.%s.%s", m.prefix, backend, op)
}

func (m *NATSMixer) publish(ctx context.Context, backend domain.MixerBackend, op, stream string, msg interface{}) error {
	_, span := tracing.TraceMixerCommand(ctx, op, string(backend), stream)
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s command: %w", op, err)
	}
	subject := m.subject(backend, op)
	if err := m.conn.Publish(subject, data); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

func (m *NATSMixer) SetVolume(ctx context.Context, cmd domain.VolumeCommand) error {
	return m.publish(ctx, cmd.Backend, "volume", string(cmd.Stream), volumeMessage{
		Stream: string(cmd.Stream),
		Kind:   cmd.Kind.String(),
		Volume: cmd.Volume,
		Ramp:   cmd.Ramp,
	})
}

func (m *NATSMixer) SetMute(ctx context.Context, cmd domain.MuteCommand) error {
	return m.publish(ctx, cmd.Backend, "mute", string(cmd.Stream), muteMessage{
		Stream: string(cmd.Stream),
		Kind:   cmd.Kind.String(),
		Mute:   cmd.Mute,
	})
}

func (m *NATSMixer) SetAppVolume(ctx context.Context, cmd domain.AppVolumeCommand) error {
	return m.publish(ctx, cmd.Backend, "appvolume", string(cmd.Stream), appVolumeMessage{
		Stream:  string(cmd.Stream),
		MediaID: cmd.MediaID,
		Volume:  cmd.Volume,
	})
}

// Listen subscribes to the events of every backend and blocks until ctx
// is done.
func (m *NATSMixer) Listen(ctx context.Context, handler ports.MixerEventHandler) error {
	subject := m.prefix + ".*.events"
	sub, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		ev, err := m.decodeEvent(msg.Subject, msg.Data)
		if err != nil {
			m.logger.Warnw("Dropping malformed mixer event",
				"subject", msg.Subject,
				"error", err,
			)
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	m.logger.Infow("Listening for mixer events", "subject", subject)

	<-ctx.Done()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Warnw("Failed to unsubscribe from mixer events", "error", err)
		}
	}
	return nil
}

func (m *NATSMixer) decodeEvent(subject string, data []byte) (domain.MixerEvent, error) {
	rest := strings.TrimPrefix(subject, m.prefix+".")
	parts := strings.Split(rest, ".")
	if rest == subject || len(parts) != 2 || parts[1] != "events" {
		return nil, fmt.Errorf("unexpected subject %q", subject)
	}
	backend := domain.MixerBackend(parts[0])
	if !backend.Valid() {
		return nil, fmt.Errorf("unknown backend %q", parts[0])
	}

	var msg eventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid event payload: %w", err)
	}

	if msg.Event == "mixerStatus" {
		return domain.MixerReady{Backend: backend, Ready: msg.Ready}, nil
	}

	if msg.Stream == "" {
		return nil, fmt.Errorf("%s event without stream", msg.Event)
	}
	kind, err := domain.ParseStreamKind(msg.Kind)
	if err != nil {
		return nil, err
	}
	stream := domain.StreamID(msg.Stream)

	switch msg.Event {
	case "sinkStatus":
		switch msg.Status {
		case "opened":
			return domain.SinkOpened{
				Stream:         stream,
				Kind:           kind,
				Backend:        backend,
				PhysicalSource: msg.Source,
				PhysicalSink:   msg.Sink,
			}, nil
		case "closed":
			return domain.SinkClosed{Stream: stream, Kind: kind, Backend: backend}, nil
		default:
			return nil, fmt.Errorf("unknown sink status %q", msg.Status)
		}
	case "volume":
		if msg.Volume == nil {
			return nil, fmt.Errorf("volume event for %s without volume", stream)
		}
		return domain.VolumeChanged{Stream: stream, Kind: kind, Volume: *msg.Volume}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", msg.Event)
	}
}

func (m *NATSMixer) Connected() bool {
	return m.conn.IsConnected()
}

func (m *NATSMixer) Close() error {
	m.conn.Close()
	return nil
}
