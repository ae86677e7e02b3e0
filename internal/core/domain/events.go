package domain

// MixerEvent is a callback raised by the external mixer. The set of
// implementations is closed: SinkOpened, SinkClosed, VolumeChanged and
// MixerReady.
type MixerEvent interface {
	mixerEvent()
}

type SinkOpened struct {
	Stream         StreamID
	Kind           StreamKind
	Backend        MixerBackend
	PhysicalSource string
	PhysicalSink   string
}

type SinkClosed struct {
	Stream  StreamID
	Kind    StreamKind
	Backend MixerBackend
}

// VolumeChanged reports a volume the mixer applied on its own.
type VolumeChanged struct {
	Stream StreamID
	Kind   StreamKind
	Volume int
}

type MixerReady struct {
	Backend MixerBackend
	Ready   bool
}

func (SinkOpened) mixerEvent()    {}
func (SinkClosed) mixerEvent()    {}
func (VolumeChanged) mixerEvent() {}
func (MixerReady) mixerEvent()    {}

type VolumeCommand struct {
	Stream  StreamID
	Kind    StreamKind
	Backend MixerBackend
	Volume  int
	Ramp    bool
}

type MuteCommand struct {
	Stream  StreamID
	Kind    StreamKind
	Backend MixerBackend
	Mute    bool
}

// AppVolumeCommand targets one sink input (an application's connection to
// a logical sink), identified by the mixer's media id.
type AppVolumeCommand struct {
	Stream  StreamID
	Backend MixerBackend
	MediaID string
	Volume  int
}
