package ports

import (
	"context"

	"audiod/internal/core/domain"
)

// MixerClient issues commands to the external mixer. Calls are accepted
// synchronously and take effect asynchronously; an error means the command
// was not accepted.
type MixerClient interface {
	SetVolume(ctx context.Context, cmd domain.VolumeCommand) error
	SetMute(ctx context.Context, cmd domain.MuteCommand) error
	SetAppVolume(ctx context.Context, cmd domain.AppVolumeCommand) error
}

type MixerEventHandler func(domain.MixerEvent)

// MixerEventSource delivers mixer callbacks until ctx is cancelled.
type MixerEventSource interface {
	Listen(ctx context.Context, handler MixerEventHandler) error
}

type Mixer interface {
	MixerClient
	MixerEventSource
	Close() error
}
