package mixer

import (
	"fmt"

	"audiod/internal/core/ports"
	"audiod/pkg/circuitbreaker"
	"audiod/pkg/config"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Client bundles the mixer with the NATS connection behind it, if any.
type Client struct {
	ports.Mixer
	NATS *nats.Conn
}

// New builds the mixer selected by cfg.Mixer.Transport.
func New(cfg *config.Config, logger *zap.SugaredLogger) (*Client, error) {
	switch cfg.Mixer.Transport {
	case "nats":
		nc, err := Connect(cfg.Mixer.NATSURL, cfg.Mixer.ConnectAttempts, cfg.Mixer.ConnectRetryWait, logger)
		if err != nil {
			return nil, err
		}
		logger.Infow("Using NATS mixer transport", "subject_prefix", cfg.Mixer.SubjectPrefix)
		var m ports.Mixer = NewNATSMixer(nc, cfg.Mixer.SubjectPrefix, logger)
		if cfg.Mixer.BreakerFailures > 0 {
			m = NewGuardedMixer(m, circuitbreaker.Config{
				FailureThreshold: cfg.Mixer.BreakerFailures,
				Cooldown:         cfg.Mixer.BreakerCooldown,
				SuccessThreshold: 1,
			}, logger)
		}
		return &Client{Mixer: m, NATS: nc}, nil
	case "memory":
		logger.Info("Using in-memory mixer")
		return &Client{Mixer: NewMemoryMixer(logger)}, nil
	default:
		return nil, fmt.Errorf("unknown mixer transport %q", cfg.Mixer.Transport)
	}
}
