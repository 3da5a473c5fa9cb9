// Package jobs runs notification delivery and the scheduled circulation sweeps
package jobs

import (
	"context"
	"errors"
	"sync"

	"library-backend/internal/notify"
)

var (
	ErrQueueFull   = errors.New("notification queue is full")
	ErrQueueClosed = errors.New("notification queue is closed")
)

// Handler processes one notification intent
type Handler func(ctx context.Context, intent notify.Intent) error

// Queue carries notification intents from request handlers to the worker
type Queue interface {
	Publish(ctx context.Context, intent notify.Intent) error
	// Consume delivers intents to handler until ctx is done or the queue closes
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// ChannelQueue is an in-process queue backed by a buffered channel
type ChannelQueue struct {
	mu     sync.RWMutex
	ch     chan notify.Intent
	closed bool
}

// NewChannelQueue creates an in-process queue holding up to size intents
func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 100
	}
	return &ChannelQueue{ch: make(chan notify.Intent, size)}
}

// Publish enqueues without blocking
func (q *ChannelQueue) Publish(ctx context.Context, intent notify.Intent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- intent:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Consume runs handler for each intent; handler errors do not stop consumption
func (q *ChannelQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case intent, ok := <-q.ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, intent)
		}
	}
}

// Close stops accepting intents; queued ones are still consumed
func (q *ChannelQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
