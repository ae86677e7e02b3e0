package mixer

import (
	"context"
	"errors"
	"fmt"

	"audiod/internal/core/domain"
	"audiod/internal/core/ports"
	"audiod/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// GuardedMixer stops sending commands to a backend after repeated
// failures and lets one trial command through once the cooldown passes.
type GuardedMixer struct {
	ports.Mixer
	breakers map[domain.MixerBackend]*circuitbreaker.CircuitBreaker
}

func NewGuardedMixer(m ports.Mixer, cfg circuitbreaker.Config, logger *zap.SugaredLogger) *GuardedMixer {
	g := &GuardedMixer{
		Mixer:    m,
		breakers: make(map[domain.MixerBackend]*circuitbreaker.CircuitBreaker, 2),
	}
	for _, backend := range []domain.MixerBackend{domain.BackendPrimary, domain.BackendLegacy} {
		backend := backend
		cb := circuitbreaker.New(cfg)
		cb.OnStateChange(func(from, to circuitbreaker.State) {
			logger.Warnw("Mixer circuit breaker changed state",
				"backend", backend,
				"from", from.String(),
				"to", to.String(),
			)
		})
		g.breakers[backend] = cb
	}
	return g
}

func (g *GuardedMixer) guard(backend domain.MixerBackend, fn func() error) error {
	cb, ok := g.breakers[backend]
	if !ok {
		return fn()
	}
	if err := cb.Execute(fn); err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return fmt.Errorf("%s mixer: %w", backend, err)
		}
		return err
	}
	return nil
}

func (g *GuardedMixer) SetVolume(ctx context.Context, cmd domain.VolumeCommand) error {
	return g.guard(cmd.Backend, func() error { return g.Mixer.SetVolume(ctx, cmd) })
}

func (g *GuardedMixer) SetMute(ctx context.Context, cmd domain.MuteCommand) error {
	return g.guard(cmd.Backend, func() error { return g.Mixer.SetMute(ctx, cmd) })
}

func (g *GuardedMixer) SetAppVolume(ctx context.Context, cmd domain.AppVolumeCommand) error {
	return g.guard(cmd.Backend, func() error { return g.Mixer.SetAppVolume(ctx, cmd) })
}

// BreakerState reports the breaker for backend, or closed if unknown.
func (g *GuardedMixer) BreakerState(backend domain.MixerBackend) circuitbreaker.State {
	if cb, ok := g.breakers[backend]; ok {
		return cb.State()
	}
	return circuitbreaker.StateClosed
}
