package ports

import "audiod/internal/core/domain"

type PolicyMetrics interface {
	StreamOpened(kind domain.StreamKind, stream domain.StreamID)
	StreamClosed(kind domain.StreamKind, stream domain.StreamID)
	StreamDucked(kind domain.StreamKind, stream domain.StreamID)
	StreamRestored(kind domain.StreamKind, stream domain.StreamID)
	VolumeApplied(kind domain.StreamKind, stream domain.StreamID, volume int)
	MixerCallFailed(operation string)
	ActiveStreams(kind domain.StreamKind, count int)
}
