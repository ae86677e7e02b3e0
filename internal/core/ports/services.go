package ports

import (
	"context"

	"audiod/internal/core/domain"
)

type VolumePolicyService interface {
	SetVolume(ctx context.Context, kind domain.StreamKind, stream domain.StreamID, volume int, ramp bool) (domain.StreamStatus, error)
	SetMute(ctx context.Context, kind domain.StreamKind, stream domain.StreamID, mute bool) (domain.StreamStatus, error)
	SetAppVolume(ctx context.Context, stream domain.StreamID, mediaID string, volume int) error
	Status(ctx context.Context, kind domain.StreamKind, stream domain.StreamID) (domain.StreamStatus, error)
	ActiveStatuses(ctx context.Context, kind domain.StreamKind) ([]domain.StreamStatus, error)
	BackendReady(ctx context.Context, backend domain.MixerBackend) (bool, error)
}
