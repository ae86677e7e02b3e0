package services

import (
	"context"

	"audiod/internal/core/domain"
	"audiod/internal/core/ports"
)

// NotifierFanout forwards each notification to every sink in order.
type NotifierFanout []ports.NotificationSink

func (f NotifierFanout) Notify(ctx context.Context, n domain.StatusNotification) {
	for _, sink := range f {
		if sink != nil {
			sink.Notify(ctx, n)
		}
	}
}
