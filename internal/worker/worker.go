// Package worker defines the message boundary between the scan
// coordinator and its receiver workers. The coordinator never shares
// memory with a worker: assignments go out and status reports come
// back as messages, whatever the transport.
package worker

import (
	"context"
	"errors"
)

var (
	// ErrWorkerClosed is returned when sending to a worker that has
	// shut down.
	ErrWorkerClosed = errors.New("worker closed")
)

// Worker is one receiver as seen by the coordinator. Implementations
// must make Assign non-blocking and idempotent; a lost assignment is
// retried by the coordinator on a later tick.
type Worker interface {
	// ID returns the stable worker identifier.
	ID() string

	// Capability blocks until the worker has reported its capability
	// descriptor, or the context expires.
	Capability(ctx context.Context) (Capability, error)

	// Assign sends the worker a new window to monitor. Fire and
	// forget: delivery failures surface as missed status reports.
	Assign(a Assignment) error

	// Status returns the channel of periodic status reports. The
	// channel is closed when the worker stops.
	Status() <-chan Status

	// Close stops the worker and releases its resources.
	Close() error
}
