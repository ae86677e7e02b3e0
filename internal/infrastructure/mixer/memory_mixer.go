package mixer

import (
	"context"
	"sync"

	"audiod/internal/core/domain"
	"audiod/internal/core/ports"

	"go.uber.org/zap"
)

type streamKey struct {
	kind   domain.StreamKind
	stream domain.StreamID
}

// MemoryMixer keeps the last command per stream in memory. It reports
// every backend ready as soon as Listen starts, and Inject feeds it
// callbacks as if they came from a real mixer.
type MemoryMixer struct {
	mu         sync.RWMutex
	volumes    map[streamKey]int
	mutes      map[streamKey]bool
	appVolumes map[string]int

	events chan domain.MixerEvent
	logger *zap.SugaredLogger
}

func NewMemoryMixer(logger *zap.SugaredLogger) *MemoryMixer {
	return &MemoryMixer{
		volumes:    make(map[streamKey]int),
		mutes:      make(map[streamKey]bool),
		appVolumes: make(map[string]int),
		events:     make(chan domain.MixerEvent, 32),
		logger:     logger,
	}
}

func (m *MemoryMixer) SetVolume(_ context.Context, cmd domain.VolumeCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumes[streamKey{cmd.Kind, cmd.Stream}] = cmd.Volume
	m.logger.Debugw("Volume applied", "stream", cmd.Stream, "kind", cmd.Kind.String(), "volume", cmd.Volume, "ramp", cmd.Ramp)
	return nil
}

func (m *MemoryMixer) SetMute(_ context.Context, cmd domain.MuteCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutes[streamKey{cmd.Kind, cmd.Stream}] = cmd.Mute
	m.logger.Debugw("Mute applied", "stream", cmd.Stream, "kind", cmd.Kind.String(), "mute", cmd.Mute)
	return nil
}

func (m *MemoryMixer) SetAppVolume(_ context.Context, cmd domain.AppVolumeCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appVolumes[string(cmd.Stream)+"/"+cmd.MediaID] = cmd.Volume
	return nil
}

func (m *MemoryMixer) Listen(ctx context.Context, handler ports.MixerEventHandler) error {
	handler(domain.MixerReady{Backend: domain.BackendPrimary, Ready: true})
	handler(domain.MixerReady{Backend: domain.BackendLegacy, Ready: true})

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			handler(ev)
		}
	}
}

// Inject queues a callback for delivery by Listen.
func (m *MemoryMixer) Inject(ctx context.Context, ev domain.MixerEvent) error {
	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryMixer) Volume(kind domain.StreamKind, stream domain.StreamID) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.volumes[streamKey{kind, stream}]
	return v, ok
}

func (m *MemoryMixer) Muted(kind domain.StreamKind, stream domain.StreamID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mutes[streamKey{kind, stream}]
}

func (m *MemoryMixer) AppVolume(stream domain.StreamID, mediaID string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.appVolumes[string(stream)+"/"+mediaID]
	return v, ok
}

func (m *MemoryMixer) Close() error {
	return nil
}
