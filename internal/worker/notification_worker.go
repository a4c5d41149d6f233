package worker

import (
	"context"

	"github.com/routedesk/routing-engine/internal/service"
)

// StartNotificationWorker registers notification handlers and delivers queued
// notifications in the background until ctx is cancelled.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService) <-chan struct{} {
	done := make(chan struct{})
	if notificationService == nil {
		close(done)
		return done
	}
	notificationService.RegisterHandlers()
	go func() {
		defer close(done)
		notificationService.Run(ctx)
	}()
	return done
}
