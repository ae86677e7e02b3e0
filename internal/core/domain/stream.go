package domain

import "fmt"

type StreamID string

// StreamKind separates playback streams from capture streams. Each kind has
// its own policy table and its own ducking engine.
type StreamKind int

const (
	KindSink StreamKind = iota
	KindSource
)

func (k StreamKind) String() string {
	switch k {
	case KindSink:
		return "sink"
	case KindSource:
		return "source"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func ParseStreamKind(s string) (StreamKind, error) {
	switch s {
	case "sink", "":
		return KindSink, nil
	case "source":
		return KindSource, nil
	default:
		return 0, fmt.Errorf("unknown stream kind %q", s)
	}
}

type MixerBackend string

const (
	BackendPrimary MixerBackend = "primary"
	BackendLegacy  MixerBackend = "legacy"
)

func (b MixerBackend) Valid() bool {
	return b == BackendPrimary || b == BackendLegacy
}

// Volume range accepted by every logical stream type.
const (
	VolumeFloor   = 0
	VolumeCeiling = 100
)

// StreamPolicy is the static description of one logical stream. Lower
// Priority values are more important.
type StreamPolicy struct {
	ID                 StreamID
	Kind               StreamKind
	Category           string
	Priority           int
	DefaultVolume      int
	MinVolume          int
	MaxVolume          int
	VolumeAdjustable   bool
	PolicyVolume       int
	RampOnPolicyChange bool
	Backend            MixerBackend
	// SeedVolume is the volume a stream starts with after load or a mixer
	// restart. Equal to DefaultVolume unless the document overrides it.
	SeedVolume int
}

func (p StreamPolicy) Outranks(other StreamPolicy) bool {
	return p.Priority < other.Priority
}

func (p StreamPolicy) InRange(volume int) bool {
	return volume >= p.MinVolume && volume <= p.MaxVolume
}

// StreamState is the mutable runtime state of a logical stream.
//
// CurrentVolume is what the mixer is told to apply. RequestedVolume is the
// last volume asked for by a caller and is what a ducked stream returns to.
type StreamState struct {
	Open             bool
	CurrentVolume    int
	RequestedVolume  int
	Muted            bool
	PolicyInProgress bool
	PhysicalSource   string
	PhysicalSink     string
}

func NewStreamState(p StreamPolicy) *StreamState {
	return &StreamState{
		CurrentVolume:   p.SeedVolume,
		RequestedVolume: p.SeedVolume,
	}
}
