// Package transport moves frames and descriptors between two processes.
//
// A Transport carries one protocol frame per Send and hands back one per
// Receive. Descriptors travel beside the bytes: the sender lists them in the
// frame header in body order, and the receiver gets them back as
// object.Descriptor values in the same order.
//
//	Send(frame, handles) ──sendmsg(SCM_RIGHTS)──→ socket ──recvmsg──→ Receive → (frame, descriptors)
//
// Peer death is reported as ErrPeerDied, distinct from other I/O errors.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"mini-xpc/object"
	"mini-xpc/protocol"
)

var (
	ErrPeerDied           = errors.New("transport: peer died")
	ErrInvalidDestination = errors.New("transport: invalid destination")
	ErrClosed             = errors.New("transport: closed")
	ErrHandleMismatch     = errors.New("transport: descriptors do not match header")
)

// Message is one frame in flight.
type Message struct {
	Header protocol.Header
	Body   []byte

	// Handles are the handle values to send, in body order. Send fills
	// Header.Dispositions from them.
	Handles []*object.Handle

	// Descriptors are the descriptors received with the frame, in body
	// order. They belong to the receiver until a decoder claims them.
	Descriptors []object.Descriptor
}

// Close closes every received descriptor. Use it to drop a message that
// will not be decoded.
func (m *Message) Close() error {
	var err error
	for _, d := range m.Descriptors {
		err = multierr.Append(err, d.Close())
	}
	m.Descriptors = nil
	return err
}

// Transport is a point-to-point channel for frames and descriptors.
// Send and Receive may be called concurrently with each other, and each is
// safe for concurrent use.
type Transport interface {
	// Send delivers m. Handles sent with DispositionMove are relinquished
	// once the frame is written.
	Send(ctx context.Context, m *Message) error
	// Receive blocks until the next frame arrives, ctx is done, or the
	// channel fails.
	Receive(ctx context.Context) (*Message, error)
	// Close shuts the channel. Blocked calls return ErrClosed.
	Close() error
}

// classify maps socket errors onto the package's error kinds.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE):
		return fmt.Errorf("%w: %v", ErrPeerDied, err)
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ECONNREFUSED),
		errors.Is(err, unix.ENOTSOCK):
		return fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	return err
}
