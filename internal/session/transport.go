// ABOUTME: Transport contract owned by a session and the push-stream handle.
// ABOUTME: Implemented by the MCP protocol layer; faked in tests.

package session

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned by transports after Close.
var ErrTransportClosed = errors.New("transport closed")

// ErrStreamActive is returned when a push stream is already open.
var ErrStreamActive = errors.New("push stream already open")

// Transport is one bidirectional protocol channel.
type Transport interface {
	// HandleMessage processes a command body and returns the response body.
	// A nil body with a nil error means the message was accepted with nothing
	// to return.
	HandleMessage(ctx context.Context, body []byte) ([]byte, error)

	// Initialized reports whether the protocol handshake completed.
	Initialized() bool

	// OpenStream opens the server-push channel.
	OpenStream() (*Stream, error)

	// Notify queues a server-initiated notification for the push channel.
	Notify(method string, params any) error

	// Close releases the transport. Calling it more than once is allowed.
	Close() error
}

// NewTransportFunc builds the transport for a freshly created session id.
type NewTransportFunc func(id string) Transport

// Stream is an open server-push channel.
type Stream struct {
	// Messages delivers encoded server messages.
	Messages <-chan []byte
	// Closed is closed when the owning transport shuts down.
	Closed <-chan struct{}

	once    sync.Once
	release func()
}

// NewStream builds a Stream. release runs once when the reader is done.
func NewStream(messages <-chan []byte, closed <-chan struct{}, release func()) *Stream {
	return &Stream{Messages: messages, Closed: closed, release: release}
}

// Release marks the stream as no longer read.
func (s *Stream) Release() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}
