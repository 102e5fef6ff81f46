// Package notify delivers batch completion callbacks asynchronously with
// buffering, retry, and a per-host circuit breaker.
package notify

import (
	"context"
	"deploybuild/pkg/cloudevent"
	"errors"
)

// ErrBufferFull is returned when the queue is full and the event is dropped.
var ErrBufferFull = errors.New("notifier buffer full, event dropped")

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("notifier is closed")

// Notifier handles async delivery of callback events.
type Notifier interface {
	// Notify queues an event for delivery. Non-blocking.
	Notify(event *Event) error

	// Stats returns current delivery statistics.
	Stats() Stats

	// Close stops accepting events and attempts to deliver queued ones.
	// The context deadline controls how long to wait for drain.
	Close(ctx context.Context) error
}

// Event is a callback to deliver.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string // callback URL
	SigningKey  string // HMAC key, empty = unsigned
}

// Stats holds notifier statistics.
type Stats struct {
	QueueDepth    int   // current queue size
	Queued        int64 // total events queued
	Delivered     int64 // successful deliveries
	Failed        int64 // failed after retries
	Dropped       int64 // dropped due to full buffer or open circuit
	RetriesTotal  int64 // total retry attempts
	BreakersTotal int   // total circuit breakers
	BreakersOpen  int   // currently open breakers
}
