package services

import (
	"context"
	"fmt"

	"audiod/internal/core/domain"
	"audiod/internal/core/ports"

	"go.uber.org/zap"
)

const defaultQueueSize = 64

// VolumePolicyService owns the sink and source ducking engines. Every
// request and mixer event runs to completion on the goroutine started by
// Run, so engine state needs no locking.
type VolumePolicyService struct {
	sinks    *duckingEngine
	sources  *duckingEngine
	backends backendReadiness

	requests chan func()
	stopped  chan struct{}
	logger   *zap.SugaredLogger
}

type PolicyServiceOptions struct {
	QueueSize int
	Metrics   ports.PolicyMetrics
	// ReadyBackends start out accepting commands without waiting for a
	// MixerReady event.
	ReadyBackends []domain.MixerBackend
}

func NewVolumePolicyService(
	sinkPolicies []domain.StreamPolicy,
	sourcePolicies []domain.StreamPolicy,
	mixer ports.MixerClient,
	notifier ports.NotificationSink,
	logger *zap.SugaredLogger,
	opts PolicyServiceOptions,
) *VolumePolicyService {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	backends := make(backendReadiness)
	for _, b := range opts.ReadyBackends {
		backends[b] = true
	}

	return &VolumePolicyService{
		sinks:    newDuckingEngine(domain.KindSink, sinkPolicies, backends, mixer, notifier, metrics, logger),
		sources:  newDuckingEngine(domain.KindSource, sourcePolicies, backends, mixer, notifier, metrics, logger),
		backends: backends,
		requests: make(chan func(), opts.QueueSize),
		stopped:  make(chan struct{}),
		logger:   logger,
	}
}

// Run processes requests until ctx is cancelled. It must be called once.
func (s *VolumePolicyService) Run(ctx context.Context) error {
	s.logger.Infow("Volume policy loop started",
		"sink_streams", len(s.sinks.policies),
		"source_streams", len(s.sources.policies),
	)
	defer close(s.stopped)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Volume policy loop stopped")
			return ctx.Err()
		case fn := <-s.requests:
			fn()
		}
	}
}

// do runs fn on the policy loop and waits for it to finish.
func (s *VolumePolicyService) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}

	select {
	case s.requests <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return domain.ErrEngineStopped
	}

	select {
	case <-done:
		return nil
	case <-s.stopped:
		return domain.ErrEngineStopped
	}
}

// HandleMixerEvent queues a mixer callback. It blocks while the queue is
// full and drops the event once the loop has stopped.
func (s *VolumePolicyService) HandleMixerEvent(ev domain.MixerEvent) {
	ctx := context.Background()
	task := func() { s.dispatch(ctx, ev) }

	select {
	case s.requests <- task:
	case <-s.stopped:
		s.logger.Warnw("Mixer event dropped after shutdown", "event", fmt.Sprintf("%T", ev))
	}
}

func (s *VolumePolicyService) dispatch(ctx context.Context, ev domain.MixerEvent) {
	switch ev := ev.(type) {
	case domain.SinkOpened:
		if engine, ok := s.engine(ev.Kind); ok {
			engine.streamOpened(ctx, ev)
		}
	case domain.SinkClosed:
		if engine, ok := s.engine(ev.Kind); ok {
			engine.streamClosed(ctx, ev)
		}
	case domain.VolumeChanged:
		if engine, ok := s.engine(ev.Kind); ok {
			engine.volumeChanged(ctx, ev)
		}
	case domain.MixerReady:
		s.backendReady(ctx, ev)
	default:
		s.logger.Warnw("Unhandled mixer event", "event", fmt.Sprintf("%T", ev))
	}
}

func (s *VolumePolicyService) backendReady(ctx context.Context, ev domain.MixerReady) {
	if !ev.Backend.Valid() {
		s.logger.Warnw("Readiness for unknown mixer backend", "backend", ev.Backend)
		return
	}
	s.logger.Infow("Mixer backend status changed", "backend", ev.Backend, "ready", ev.Ready)
	s.backends[ev.Backend] = ev.Ready
	if !ev.Ready {
		return
	}
	s.sinks.reset(ctx, ev.Backend)
	s.sources.reset(ctx, ev.Backend)
}

func (s *VolumePolicyService) engine(kind domain.StreamKind) (*duckingEngine, bool) {
	switch kind {
	case domain.KindSink:
		return s.sinks, true
	case domain.KindSource:
		return s.sources, true
	default:
		s.logger.Warnw("Event for unknown stream kind", "kind", kind)
		return nil, false
	}
}

func (s *VolumePolicyService) engineFor(kind domain.StreamKind) (*duckingEngine, error) {
	switch kind {
	case domain.KindSink:
		return s.sinks, nil
	case domain.KindSource:
		return s.sources, nil
	default:
		return nil, fmt.Errorf("stream kind %d: %w", kind, domain.ErrInvalidParameter)
	}
}

func (s *VolumePolicyService) SetVolume(ctx context.Context, kind domain.StreamKind, stream domain.StreamID, volume int, ramp bool) (domain.StreamStatus, error) {
	engine, err := s.engineFor(kind)
	if err != nil {
		return domain.StreamStatus{}, err
	}

	var status domain.StreamStatus
	var opErr error
	if err := s.do(ctx, func() {
		status, opErr = engine.setVolume(ctx, stream, volume, ramp)
	}); err != nil {
		return domain.StreamStatus{}, err
	}
	return status, opErr
}

func (s *VolumePolicyService) SetMute(ctx context.Context, kind domain.StreamKind, stream domain.StreamID, mute bool) (domain.StreamStatus, error) {
	engine, err := s.engineFor(kind)
	if err != nil {
		return domain.StreamStatus{}, err
	}

	var status domain.StreamStatus
	var opErr error
	if err := s.do(ctx, func() {
		status, opErr = engine.setMute(ctx, stream, mute)
	}); err != nil {
		return domain.StreamStatus{}, err
	}
	return status, opErr
}

func (s *VolumePolicyService) SetAppVolume(ctx context.Context, stream domain.StreamID, mediaID string, volume int) error {
	var opErr error
	if err := s.do(ctx, func() {
		opErr = s.sinks.setAppVolume(ctx, stream, mediaID, volume)
	}); err != nil {
		return err
	}
	return opErr
}

func (s *VolumePolicyService) Status(ctx context.Context, kind domain.StreamKind, stream domain.StreamID) (domain.StreamStatus, error) {
	engine, err := s.engineFor(kind)
	if err != nil {
		return domain.StreamStatus{}, err
	}

	var status domain.StreamStatus
	var opErr error
	if err := s.do(ctx, func() {
		status, opErr = engine.status(stream)
	}); err != nil {
		return domain.StreamStatus{}, err
	}
	return status, opErr
}

func (s *VolumePolicyService) ActiveStatuses(ctx context.Context, kind domain.StreamKind) ([]domain.StreamStatus, error) {
	engine, err := s.engineFor(kind)
	if err != nil {
		return nil, err
	}

	var statuses []domain.StreamStatus
	if err := s.do(ctx, func() {
		statuses = engine.activeStatuses()
	}); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (s *VolumePolicyService) BackendReady(ctx context.Context, backend domain.MixerBackend) (bool, error) {
	var ready bool
	if err := s.do(ctx, func() {
		ready = s.backends[backend]
	}); err != nil {
		return false, err
	}
	return ready, nil
}

type noopMetrics struct{}

func (noopMetrics) StreamOpened(domain.StreamKind, domain.StreamID) {}
func (noopMetrics) StreamClosed(domain.StreamKind, domain.StreamID) {}
func (noopMetrics) StreamDucked(domain.StreamKind, domain.StreamID) {}
func (noopMetrics) StreamRestored(domain.StreamKind, domain.StreamID) {}
func (noopMetrics) VolumeApplied(domain.StreamKind, domain.StreamID, int) {}
func (noopMetrics) MixerCallFailed(string) {}
func (noopMetrics) ActiveStreams(domain.StreamKind, int) {}
