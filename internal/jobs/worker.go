package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"library-backend/internal/metrics"
	"library-backend/internal/notify"
)

// Worker delivers queued notification intents
type Worker struct {
	queue  Queue
	sender notify.Sender
	logger *zap.Logger
}

// NewWorker creates a worker reading from queue and sending through sender
func NewWorker(queue Queue, sender notify.Sender, logger *zap.Logger) *Worker {
	return &Worker{queue: queue, sender: sender, logger: logger}
}

// Run consumes the queue until ctx is done
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Notification worker started")
	defer w.logger.Info("Notification worker stopped")
	return w.queue.Consume(ctx, w.Handle)
}

// Handle renders and sends one intent. Failures are logged and returned, never retried.
func (w *Worker) Handle(ctx context.Context, intent notify.Intent) error {
	err := deliver(ctx, w.sender, intent)
	metrics.RecordNotification(string(intent.Kind), err)
	if err != nil {
		w.logger.Error("Failed to send notification",
			zap.Error(err),
			zap.String("kind", string(intent.Kind)),
			zap.String("to", intent.To),
		)
		return err
	}
	w.logger.Info("Notification sent",
		zap.String("kind", string(intent.Kind)),
		zap.String("to", intent.To),
	)
	return nil
}

func deliver(ctx context.Context, sender notify.Sender, intent notify.Intent) error {
	msg, err := notify.Render(intent)
	if err != nil {
		return err
	}
	if err := sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to deliver %s: %w", intent.Kind, err)
	}
	return nil
}
