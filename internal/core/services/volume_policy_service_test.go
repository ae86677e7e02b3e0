package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"audiod/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type serviceFixture struct {
	service  *VolumePolicyService
	mixer    *recordingMixer
	notifier *recordingNotifier
	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
}

func newServiceFixture(t *testing.T, ready ...domain.MixerBackend) *serviceFixture {
	t.Helper()

	sinks := []domain.StreamPolicy{
		testPolicy("alert", "media", 1, 60, 20),
		testPolicy("media", "media", 5, 80, 30),
		testPolicy("notification", "alerts", 1, 50, 20),
	}
	sources := []domain.StreamPolicy{
		testPolicy("voicerecognition", "capture", 1, 90, 20),
		testPolicy("record", "capture", 4, 70, 25),
	}

	f := &serviceFixture{
		mixer:    &recordingMixer{},
		notifier: &recordingNotifier{},
		done:     make(chan error, 1),
	}
	f.service = NewVolumePolicyService(sinks, sources, f.mixer, f.notifier, zap.NewNop().Sugar(), PolicyServiceOptions{
		QueueSize:     8,
		ReadyBackends: ready,
	})

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.service.Run(ctx) }()
	t.Cleanup(f.stop)
	return f
}

func (f *serviceFixture) stop() {
	f.stopOnce.Do(func() {
		f.cancel()
		select {
		case <-f.done:
		case <-time.After(time.Second):
		}
	})
}

func TestVolumePolicyService_UnknownStreamRejected(t *testing.T) {
	f := newServiceFixture(t, domain.BackendPrimary)
	ctx := context.Background()

	_, err := f.service.SetVolume(ctx, domain.KindSink, "doesNotExist", 10, false)
	assert.ErrorIs(t, err, domain.ErrUnknownStream)

	_, err = f.service.SetMute(ctx, domain.KindSource, "doesNotExist", true)
	assert.ErrorIs(t, err, domain.ErrUnknownStream)

	media, err := f.service.Status(ctx, domain.KindSink, "media")
	require.NoError(t, err)
	assert.Equal(t, 80, media.Volume)
	assert.Empty(t, f.notifier.all())
	assert.Empty(t, f.mixer.volumeCommands())
}

func TestVolumePolicyService_NeverOpenedStreamsReportSeed(t *testing.T) {
	f := newServiceFixture(t, domain.BackendPrimary)

	status, err := f.service.Status(context.Background(), domain.KindSink, "media")
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.False(t, status.PolicyActive)
	assert.Equal(t, 80, status.Volume)

	active, err := f.service.ActiveStatuses(context.Background(), domain.KindSink)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestVolumePolicyService_MixerEventsDriveDucking(t *testing.T) {
	f := newServiceFixture(t, domain.BackendPrimary)
	ctx := context.Background()

	f.service.HandleMixerEvent(domain.SinkOpened{Stream: "media", Kind: domain.KindSink, PhysicalSink: "speaker"})
	f.service.HandleMixerEvent(domain.SinkOpened{Stream: "alert", Kind: domain.KindSink})
	f.service.HandleMixerEvent(domain.SinkOpened{Stream: "record", Kind: domain.KindSource})

	media, err := f.service.Status(ctx, domain.KindSink, "media")
	require.NoError(t, err)
	assert.True(t, media.Active)
	assert.True(t, media.PolicyActive)
	assert.Equal(t, 30, media.Volume)
	assert.Equal(t, "speaker", media.Sink)

	active, err := f.service.ActiveStatuses(ctx, domain.KindSink)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	sources, err := f.service.ActiveStatuses(ctx, domain.KindSource)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, domain.StreamID("record"), sources[0].Stream)

	f.service.HandleMixerEvent(domain.SinkClosed{Stream: "alert", Kind: domain.KindSink})

	media, err = f.service.Status(ctx, domain.KindSink, "media")
	require.NoError(t, err)
	assert.False(t, media.PolicyActive)
	assert.Equal(t, 80, media.Volume)
}

func TestVolumePolicyService_BackendReadiness(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ready, err := f.service.BackendReady(ctx, domain.BackendPrimary)
	require.NoError(t, err)
	assert.False(t, ready)

	t.Run("commands fail while the backend is down but state is kept", func(t *testing.T) {
		status, err := f.service.SetMute(ctx, domain.KindSink, "media", true)
		assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
		assert.True(t, status.Muted)
	})

	t.Run("ready backend resets streams to baseline", func(t *testing.T) {
		f.service.HandleMixerEvent(domain.MixerReady{Backend: domain.BackendPrimary, Ready: true})

		ready, err := f.service.BackendReady(ctx, domain.BackendPrimary)
		require.NoError(t, err)
		assert.True(t, ready)

		status, err := f.service.Status(ctx, domain.KindSink, "media")
		require.NoError(t, err)
		assert.False(t, status.Muted)

		cmd, ok := f.mixer.lastVolume("record")
		require.True(t, ok)
		assert.Equal(t, 70, cmd.Volume)
		assert.Equal(t, domain.KindSource, cmd.Kind)
	})

	t.Run("backend going away is recorded", func(t *testing.T) {
		f.service.HandleMixerEvent(domain.MixerReady{Backend: domain.BackendPrimary, Ready: false})

		ready, err := f.service.BackendReady(ctx, domain.BackendPrimary)
		require.NoError(t, err)
		assert.False(t, ready)
	})
}

func TestVolumePolicyService_SetAppVolume(t *testing.T) {
	f := newServiceFixture(t, domain.BackendPrimary)

	require.NoError(t, f.service.SetAppVolume(context.Background(), "media", "7", 45))
	assert.ErrorIs(t, f.service.SetAppVolume(context.Background(), "record", "7", 45), domain.ErrUnknownStream)
}

func TestVolumePolicyService_InvalidKind(t *testing.T) {
	f := newServiceFixture(t, domain.BackendPrimary)

	_, err := f.service.Status(context.Background(), domain.StreamKind(9), "media")
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestVolumePolicyService_StoppedLoop(t *testing.T) {
	f := newServiceFixture(t, domain.BackendPrimary)
	f.stop()

	_, err := f.service.Status(context.Background(), domain.KindSink, "media")
	assert.ErrorIs(t, err, domain.ErrEngineStopped)
}
