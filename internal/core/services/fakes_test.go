package services

import (
	"context"
	"sync"

	"audiod/internal/core/domain"

	"go.uber.org/zap"
)

type recordingMixer struct {
	mu      sync.Mutex
	volumes []domain.VolumeCommand
	mutes   []domain.MuteCommand
	apps    []domain.AppVolumeCommand
	err     error
}

func (m *recordingMixer) SetVolume(_ context.Context, cmd domain.VolumeCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.volumes = append(m.volumes, cmd)
	return nil
}

func (m *recordingMixer) SetMute(_ context.Context, cmd domain.MuteCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.mutes = append(m.mutes, cmd)
	return nil
}

func (m *recordingMixer) SetAppVolume(_ context.Context, cmd domain.AppVolumeCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.apps = append(m.apps, cmd)
	return nil
}

func (m *recordingMixer) volumeCommands() []domain.VolumeCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.VolumeCommand(nil), m.volumes...)
}

func (m *recordingMixer) lastVolume(stream domain.StreamID) (domain.VolumeCommand, bool) {
	cmds := m.volumeCommands()
	for i := len(cmds) - 1; i >= 0; i-- {
		if cmds[i].Stream == stream {
			return cmds[i], true
		}
	}
	return domain.VolumeCommand{}, false
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []domain.StatusNotification
}

func (n *recordingNotifier) Notify(_ context.Context, note domain.StatusNotification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) all() []domain.StatusNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.StatusNotification(nil), n.notes...)
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = nil
}

func testPolicy(id, category string, priority, volume, policyVolume int) domain.StreamPolicy {
	return domain.StreamPolicy{
		ID:               domain.StreamID(id),
		Category:         category,
		Priority:         priority,
		DefaultVolume:    volume,
		SeedVolume:       volume,
		MinVolume:        0,
		MaxVolume:        100,
		VolumeAdjustable: true,
		PolicyVolume:     policyVolume,
		Backend:          domain.BackendPrimary,
	}
}

type engineFixture struct {
	engine   *duckingEngine
	mixer    *recordingMixer
	notifier *recordingNotifier
}

func newEngineFixture(kind domain.StreamKind, policies ...domain.StreamPolicy) *engineFixture {
	mixer := &recordingMixer{}
	notifier := &recordingNotifier{}
	backends := backendReadiness{domain.BackendPrimary: true, domain.BackendLegacy: true}
	engine := newDuckingEngine(kind, policies, backends, mixer, notifier, noopMetrics{}, zap.NewNop().Sugar())
	return &engineFixture{engine: engine, mixer: mixer, notifier: notifier}
}

func (f *engineFixture) open(id string) {
	f.engine.streamOpened(context.Background(), domain.SinkOpened{Stream: domain.StreamID(id), Kind: f.engine.kind})
}

func (f *engineFixture) close(id string) {
	f.engine.streamClosed(context.Background(), domain.SinkClosed{Stream: domain.StreamID(id), Kind: f.engine.kind})
}

func (f *engineFixture) state(id string) domain.StreamState {
	return *f.engine.states[domain.StreamID(id)]
}
