package domain

type StreamStatus struct {
	Stream       StreamID   `json:"stream"`
	Kind         StreamKind `json:"-"`
	Muted        bool       `json:"muted"`
	Volume       int        `json:"volume"`
	Sink         string     `json:"sink"`
	Source       string     `json:"source"`
	PolicyActive bool       `json:"policyActive"`
	Active       bool       `json:"active"`
}

func NewStreamStatus(p StreamPolicy, s *StreamState) StreamStatus {
	return StreamStatus{
		Stream:       p.ID,
		Kind:         p.Kind,
		Muted:        s.Muted,
		Volume:       s.CurrentVolume,
		Sink:         s.PhysicalSink,
		Source:       s.PhysicalSource,
		PolicyActive: s.PolicyInProgress,
		Active:       s.Open,
	}
}

type NotificationReason string

const (
	ReasonOpened NotificationReason = "opened"
	ReasonClosed NotificationReason = "closed"
	ReasonVolume NotificationReason = "volume"
	ReasonMute   NotificationReason = "mute"
	ReasonPolicy NotificationReason = "policy"
	ReasonReset  NotificationReason = "reset"
)

// StatusNotification is emitted once per state change of a stream. Active
// lists every open stream of the same kind after the change.
type StatusNotification struct {
	Kind   StreamKind
	Reason NotificationReason
	Stream StreamStatus
	Active []StreamStatus
}
