package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"audiod/internal/core/domain"
	"audiod/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// Connector is anything reporting a live connection, such as *nats.Conn.
type Connector interface {
	IsConnected() bool
}

// AddNATSCheck fails while the mixer bus connection is down.
func (h *HealthChecker) AddNATSCheck(conn Connector, interval, timeout time.Duration) {
	h.AddCheck("nats", func(ctx context.Context) (bool, error) {
		if !conn.IsConnected() {
			return false, errors.New("not connected to mixer bus")
		}
		return true, nil
	}, interval, timeout)
}

// AddMixerReadinessCheck asks the policy loop whether each backend has
// reported ready.
func (h *HealthChecker) AddMixerReadinessCheck(svc ports.VolumePolicyService, backends []domain.MixerBackend, interval, timeout time.Duration) {
	for _, backend := range backends {
		backend := backend
		h.AddCheck("mixer_"+string(backend), func(ctx context.Context) (bool, error) {
			ready, err := svc.BackendReady(ctx, backend)
			if err != nil {
				return false, err
			}
			if !ready {
				return false, fmt.Errorf("%s mixer backend not ready", backend)
			}
			return true, nil
		}, interval, timeout)
	}
}
