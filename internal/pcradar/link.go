package pcradar

import (
	"context"
	"errors"
)

// Link is the transport to a pulsed coherent radar sensor. The model is
// synchronous and pull-based: Setup configures a session, Start begins
// streaming, and each ReadFrame blocks until exactly one frame (one
// Result per configured group) is available.
//
// Lifecycle errors (start before setup, read before start, double stop)
// are the link's own; device I/O errors are returned unwrapped to the
// caller, which performs no retries.
type Link interface {
	// Setup configures the session and returns per-group metadata in
	// group order, keyed by sensor id.
	Setup(cfg SessionConfig) ([]map[int]Metadata, error)

	// Start begins streaming frames for the configured session.
	Start() error

	// ReadFrame blocks until one frame is available, returning one
	// GroupResult per configured group in group order.
	ReadFrame(ctx context.Context) ([]GroupResult, error)

	// Stop ends the streaming session. Stopping a link that is not
	// started is an error.
	Stop() error

	// Close releases the underlying transport.
	Close() error
}

var (
	// ErrNotSetup is returned when Start or ReadFrame is called before a
	// successful Setup.
	ErrNotSetup = errors.New("pcradar: session not set up")
	// ErrNotStarted is returned when ReadFrame or Stop is called before
	// Start.
	ErrNotStarted = errors.New("pcradar: session not started")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("pcradar: session already started")
)
