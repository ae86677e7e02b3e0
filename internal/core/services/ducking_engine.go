package services

import (
	"context"
	"fmt"

	"audiod/internal/core/domain"
	"audiod/internal/core/ports"

	"go.uber.org/zap"
)

// backendReadiness records which mixer backends accept commands. It is
// shared by the sink and source engines and only touched from the policy
// loop.
type backendReadiness map[domain.MixerBackend]bool

// duckingEngine runs the priority/category ducking state machine for one
// stream kind. All methods must be called from the policy loop.
type duckingEngine struct {
	kind       domain.StreamKind
	policies   map[domain.StreamID]domain.StreamPolicy
	order      []domain.StreamID
	states     map[domain.StreamID]*domain.StreamState
	appVolumes map[domain.StreamID]map[string]int
	active     *ActiveStreamSet
	backends   backendReadiness

	mixer    ports.MixerClient
	notifier ports.NotificationSink
	metrics  ports.PolicyMetrics
	logger   *zap.SugaredLogger
}

func newDuckingEngine(
	kind domain.StreamKind,
	policies []domain.StreamPolicy,
	backends backendReadiness,
	mixer ports.MixerClient,
	notifier ports.NotificationSink,
	metrics ports.PolicyMetrics,
	logger *zap.SugaredLogger,
) *duckingEngine {
	e := &duckingEngine{
		kind:       kind,
		policies:   make(map[domain.StreamID]domain.StreamPolicy, len(policies)),
		states:     make(map[domain.StreamID]*domain.StreamState, len(policies)),
		appVolumes: make(map[domain.StreamID]map[string]int),
		active:     NewActiveStreamSet(),
		backends:   backends,
		mixer:      mixer,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger.With("kind", kind.String()),
	}
	for _, p := range policies {
		p.Kind = kind
		e.policies[p.ID] = p
		e.states[p.ID] = domain.NewStreamState(p)
		e.order = append(e.order, p.ID)
	}
	return e
}

func (e *duckingEngine) lookup(id domain.StreamID) (domain.StreamPolicy, *domain.StreamState, error) {
	p, ok := e.policies[id]
	if !ok {
		return domain.StreamPolicy{}, nil, fmt.Errorf("%s %q: %w", e.kind, id, domain.ErrUnknownStream)
	}
	return p, e.states[id], nil
}

func (e *duckingEngine) streamOpened(ctx context.Context, ev domain.SinkOpened) {
	p, st, err := e.lookup(ev.Stream)
	if err != nil {
		e.logger.Warnw("Open callback for unknown stream", "stream", ev.Stream)
		return
	}

	if ev.PhysicalSource != "" {
		st.PhysicalSource = ev.PhysicalSource
	}
	if ev.PhysicalSink != "" {
		st.PhysicalSink = ev.PhysicalSink
	}

	if st.Open {
		e.logger.Warnw("Duplicate open callback ignored", "stream", p.ID)
		return
	}

	st.Open = true
	e.active.Add(p.ID)
	e.metrics.StreamOpened(e.kind, p.ID)
	e.metrics.ActiveStreams(e.kind, e.active.Len())

	e.pushMute(ctx, p, st.Muted)
	e.pushVolume(ctx, p, st.CurrentVolume, p.RampOnPolicyChange)
	e.notify(ctx, domain.ReasonOpened, p, st)

	e.applyVolumePolicy(ctx, p, st)
}

// applyVolumePolicy compares a newly opened stream against every other
// open stream of its category. Only pairs involving the new stream are
// evaluated.
func (e *duckingEngine) applyVolumePolicy(ctx context.Context, p domain.StreamPolicy, st *domain.StreamState) {
	for _, peerID := range e.active.Snapshot() {
		if peerID == p.ID {
			continue
		}
		peer := e.policies[peerID]
		if peer.Category != p.Category {
			continue
		}
		peerState := e.states[peerID]

		switch {
		case p.Outranks(peer):
			if !peerState.PolicyInProgress && peerState.CurrentVolume > peer.PolicyVolume {
				e.duck(ctx, peer, peerState)
			}
		case peer.Outranks(p):
			if !peerState.PolicyInProgress && !st.PolicyInProgress && st.CurrentVolume > p.PolicyVolume {
				e.duck(ctx, p, st)
			}
		}
	}
}

func (e *duckingEngine) streamClosed(ctx context.Context, ev domain.SinkClosed) {
	p, st, err := e.lookup(ev.Stream)
	if err != nil {
		e.logger.Warnw("Close callback for unknown stream", "stream", ev.Stream)
		return
	}
	if !st.Open {
		e.logger.Warnw("Close callback for stream that is not open", "stream", p.ID)
		return
	}

	st.CurrentVolume = st.RequestedVolume
	st.Open = false
	st.PolicyInProgress = false
	e.active.Remove(p.ID)
	e.metrics.StreamClosed(e.kind, p.ID)
	e.metrics.ActiveStreams(e.kind, e.active.Len())
	e.notify(ctx, domain.ReasonClosed, p, st)

	e.removeVolumePolicy(ctx, p)
}

// removeVolumePolicy restores peers the closed stream was ducking, unless
// another open stream of the category still outranks them.
func (e *duckingEngine) removeVolumePolicy(ctx context.Context, p domain.StreamPolicy) {
	for _, peerID := range e.active.Snapshot() {
		peer := e.policies[peerID]
		if peer.Category != p.Category || !p.Outranks(peer) {
			continue
		}
		peerState := e.states[peerID]
		if !peerState.PolicyInProgress {
			continue
		}
		if e.isHighPriorityStreamActive(peer) {
			e.logger.Debugw("Stream stays ducked", "stream", peer.ID)
			continue
		}
		e.restore(ctx, peer, peerState)
	}
}

func (e *duckingEngine) isHighPriorityStreamActive(peer domain.StreamPolicy) bool {
	for _, id := range e.active.Snapshot() {
		other := e.policies[id]
		if other.ID != peer.ID && other.Category == peer.Category && other.Outranks(peer) {
			return true
		}
	}
	return false
}

func (e *duckingEngine) duck(ctx context.Context, p domain.StreamPolicy, st *domain.StreamState) {
	e.logger.Debugw("Ducking stream", "stream", p.ID, "from", st.CurrentVolume, "to", p.PolicyVolume)
	st.CurrentVolume = p.PolicyVolume
	st.PolicyInProgress = true
	e.metrics.StreamDucked(e.kind, p.ID)
	e.pushVolume(ctx, p, st.CurrentVolume, p.RampOnPolicyChange)
	e.notify(ctx, domain.ReasonPolicy, p, st)
}

func (e *duckingEngine) restore(ctx context.Context, p domain.StreamPolicy, st *domain.StreamState) {
	e.logger.Debugw("Restoring stream", "stream", p.ID, "to", st.RequestedVolume)
	st.CurrentVolume = st.RequestedVolume
	st.PolicyInProgress = false
	e.metrics.StreamRestored(e.kind, p.ID)
	e.pushVolume(ctx, p, st.CurrentVolume, p.RampOnPolicyChange)
	e.notify(ctx, domain.ReasonPolicy, p, st)
}

// volumeChanged records a volume the mixer applied by itself. It does not
// re-run arbitration.
func (e *duckingEngine) volumeChanged(ctx context.Context, ev domain.VolumeChanged) {
	p, st, err := e.lookup(ev.Stream)
	if err != nil {
		e.logger.Warnw("Volume callback for unknown stream", "stream", ev.Stream)
		return
	}
	if ev.Volume < domain.VolumeFloor || ev.Volume > domain.VolumeCeiling {
		e.logger.Warnw("Volume callback out of range", "stream", p.ID, "volume", ev.Volume)
		return
	}

	st.RequestedVolume = ev.Volume
	if !st.PolicyInProgress {
		st.CurrentVolume = ev.Volume
	}
	e.notify(ctx, domain.ReasonVolume, p, st)
}

// setVolume stores the requested volume and applies it unless the stream
// is ducked. Mixer failures are returned after the state is updated.
func (e *duckingEngine) setVolume(ctx context.Context, id domain.StreamID, volume int, ramp bool) (domain.StreamStatus, error) {
	p, st, err := e.lookup(id)
	if err != nil {
		return domain.StreamStatus{}, err
	}
	if volume < domain.VolumeFloor || volume > domain.VolumeCeiling {
		return domain.StreamStatus{}, fmt.Errorf("volume %d: %w", volume, domain.ErrVolumeOutOfRange)
	}
	if !p.VolumeAdjustable {
		return domain.StreamStatus{}, fmt.Errorf("%s %q: %w", e.kind, id, domain.ErrVolumeNotAdjustable)
	}
	if !p.InRange(volume) {
		return domain.StreamStatus{}, fmt.Errorf("volume %d outside [%d,%d]: %w", volume, p.MinVolume, p.MaxVolume, domain.ErrVolumeOutOfRange)
	}

	st.RequestedVolume = volume
	var mixErr error
	if !st.PolicyInProgress {
		st.CurrentVolume = volume
		if st.Open {
			mixErr = e.pushVolume(ctx, p, volume, ramp)
		}
	}
	e.notify(ctx, domain.ReasonVolume, p, st)
	return domain.NewStreamStatus(p, st), mixErr
}

func (e *duckingEngine) setMute(ctx context.Context, id domain.StreamID, mute bool) (domain.StreamStatus, error) {
	p, st, err := e.lookup(id)
	if err != nil {
		return domain.StreamStatus{}, err
	}

	st.Muted = mute
	mixErr := e.pushMute(ctx, p, mute)
	e.notify(ctx, domain.ReasonMute, p, st)
	return domain.NewStreamStatus(p, st), mixErr
}

func (e *duckingEngine) setAppVolume(ctx context.Context, id domain.StreamID, mediaID string, volume int) error {
	p, _, err := e.lookup(id)
	if err != nil {
		return err
	}
	if volume < domain.VolumeFloor || volume > domain.VolumeCeiling {
		return fmt.Errorf("volume %d: %w", volume, domain.ErrVolumeOutOfRange)
	}

	apps, ok := e.appVolumes[id]
	if !ok {
		apps = make(map[string]int)
		e.appVolumes[id] = apps
	}
	apps[mediaID] = volume

	if !e.backends[p.Backend] {
		return e.backendDown(p, "set_app_volume")
	}
	cmd := domain.AppVolumeCommand{Stream: p.ID, Backend: p.Backend, MediaID: mediaID, Volume: volume}
	if err := e.mixer.SetAppVolume(ctx, cmd); err != nil {
		return e.mixerFailed(p, "set_app_volume", err)
	}
	return nil
}

// reset returns every stream owned by backend to its seed state and pushes
// that baseline to the mixer. Streams of other backends that were ducked
// only by the reset streams are restored afterwards.
func (e *duckingEngine) reset(ctx context.Context, backend domain.MixerBackend) {
	closed := 0
	for _, id := range e.order {
		p := e.policies[id]
		if p.Backend != backend {
			continue
		}
		st := e.states[id]
		if st.Open {
			closed++
		}
		physicalSource, physicalSink := st.PhysicalSource, st.PhysicalSink
		*st = *domain.NewStreamState(p)
		st.PhysicalSource, st.PhysicalSink = physicalSource, physicalSink
		e.active.Remove(id)
		delete(e.appVolumes, id)

		e.pushMute(ctx, p, false)
		e.pushVolume(ctx, p, st.CurrentVolume, false)
		e.notify(ctx, domain.ReasonReset, p, st)
	}
	e.metrics.ActiveStreams(e.kind, e.active.Len())

	if closed > 0 {
		e.releaseUndominated(ctx)
	}
}

// releaseUndominated restores every ducked open stream that no open peer
// of its category outranks any more.
func (e *duckingEngine) releaseUndominated(ctx context.Context) {
	for _, id := range e.active.Snapshot() {
		st := e.states[id]
		if !st.PolicyInProgress {
			continue
		}
		p := e.policies[id]
		if e.isHighPriorityStreamActive(p) {
			continue
		}
		e.restore(ctx, p, st)
	}
}

func (e *duckingEngine) status(id domain.StreamID) (domain.StreamStatus, error) {
	p, st, err := e.lookup(id)
	if err != nil {
		return domain.StreamStatus{}, err
	}
	return domain.NewStreamStatus(p, st), nil
}

func (e *duckingEngine) activeStatuses() []domain.StreamStatus {
	ids := e.active.Snapshot()
	out := make([]domain.StreamStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.NewStreamStatus(e.policies[id], e.states[id]))
	}
	return out
}

func (e *duckingEngine) pushVolume(ctx context.Context, p domain.StreamPolicy, volume int, ramp bool) error {
	if !e.backends[p.Backend] {
		return e.backendDown(p, "set_volume")
	}
	cmd := domain.VolumeCommand{Stream: p.ID, Kind: e.kind, Backend: p.Backend, Volume: volume, Ramp: ramp}
	if err := e.mixer.SetVolume(ctx, cmd); err != nil {
		return e.mixerFailed(p, "set_volume", err)
	}
	e.metrics.VolumeApplied(e.kind, p.ID, volume)
	return nil
}

func (e *duckingEngine) pushMute(ctx context.Context, p domain.StreamPolicy, mute bool) error {
	if !e.backends[p.Backend] {
		return e.backendDown(p, "set_mute")
	}
	cmd := domain.MuteCommand{Stream: p.ID, Kind: e.kind, Backend: p.Backend, Mute: mute}
	if err := e.mixer.SetMute(ctx, cmd); err != nil {
		return e.mixerFailed(p, "set_mute", err)
	}
	return nil
}

func (e *duckingEngine) backendDown(p domain.StreamPolicy, op string) error {
	e.metrics.MixerCallFailed(op)
	e.logger.Warnw("Mixer backend not ready", "stream", p.ID, "backend", p.Backend, "operation", op)
	return fmt.Errorf("%s backend not ready: %w", p.Backend, domain.ErrBackendUnavailable)
}

func (e *duckingEngine) mixerFailed(p domain.StreamPolicy, op string, err error) error {
	e.metrics.MixerCallFailed(op)
	e.logger.Errorw("Mixer call failed", "stream", p.ID, "backend", p.Backend, "operation", op, "error", err)
	return fmt.Errorf("%s on %s: %v: %w", op, p.Backend, err, domain.ErrBackendUnavailable)
}

func (e *duckingEngine) notify(ctx context.Context, reason domain.NotificationReason, p domain.StreamPolicy, st *domain.StreamState) {
	e.notifier.Notify(ctx, domain.StatusNotification{
		Kind:   e.kind,
		Reason: reason,
		Stream: domain.NewStreamStatus(p, st),
		Active: e.activeStatuses(),
	})
}
