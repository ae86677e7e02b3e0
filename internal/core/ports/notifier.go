package ports

import (
	"context"

	"audiod/internal/core/domain"
)

// NotificationSink receives every stream status change. Implementations
// must not block the caller.
type NotificationSink interface {
	Notify(ctx context.Context, n domain.StatusNotification)
}
