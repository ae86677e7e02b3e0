package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"audiod/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockPolicyService struct {
	mock.Mock
}

func (m *MockPolicyService) SetVolume(ctx context.Context, kind domain.StreamKind, stream domain.StreamID, volume int, ramp bool) (domain.StreamStatus, error) {
	args := m.Called(ctx, kind, stream, volume, ramp)
	return args.Get(0).(domain.StreamStatus), args.Error(1)
}

func (m *MockPolicyService) SetMute(ctx context.Context, kind domain.StreamKind, stream domain.StreamID, mute bool) (domain.StreamStatus, error) {
	args := m.Called(ctx, kind, stream, mute)
	return args.Get(0).(domain.StreamStatus), args.Error(1)
}

func (m *MockPolicyService) SetAppVolume(ctx context.Context, stream domain.StreamID, mediaID string, volume int) error {
	return m.Called(ctx, stream, mediaID, volume).Error(0)
}

func (m *MockPolicyService) Status(ctx context.Context, kind domain.StreamKind, stream domain.StreamID) (domain.StreamStatus, error) {
	args := m.Called(ctx, kind, stream)
	return args.Get(0).(domain.StreamStatus), args.Error(1)
}

func (m *MockPolicyService) ActiveStatuses(ctx context.Context, kind domain.StreamKind) ([]domain.StreamStatus, error) {
	args := m.Called(ctx, kind)
	return args.Get(0).([]domain.StreamStatus), args.Error(1)
}

func (m *MockPolicyService) BackendReady(ctx context.Context, backend domain.MixerBackend) (bool, error) {
	args := m.Called(ctx, backend)
	return args.Bool(0), args.Error(1)
}

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(context.Context) (bool, error) { return true, nil }, 0, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("broken", func(context.Context) (bool, error) { return false, errors.New("down") }, 0, time.Second)
	h.AddCheck("false", func(context.Context) (bool, error) { return false, nil }, 0, 0)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, map[string]string{"ok": "healthy", "broken": "down", "false": "check failed"}, status.Checks)
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 0, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

func TestHealthChecker_MixerAndNATS(t *testing.T) {
	svc := &MockPolicyService{}
	svc.On("BackendReady", mock.Anything, domain.BackendPrimary).Return(true, nil)
	svc.On("BackendReady", mock.Anything, domain.BackendLegacy).Return(false, nil)

	h := NewHealthChecker()
	h.AddMixerReadinessCheck(svc, []domain.MixerBackend{domain.BackendPrimary, domain.BackendLegacy}, 0, time.Second)
	h.AddNATSCheck(fakeConn(false), 0, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Checks["mixer_primary"])
	assert.Equal(t, "legacy mixer backend not ready", status.Checks["mixer_legacy"])
	assert.Equal(t, "not connected to mixer bus", status.Checks["nats"])
	svc.AssertExpectations(t)
}
