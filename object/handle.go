package object

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Disposition says how a handle crosses a pipe.
type Disposition uint8

const (
	// DispositionCopy leaves the sender's descriptor open; the receiver gets
	// its own.
	DispositionCopy Disposition = iota
	// DispositionMove closes the sender's descriptor once the message is
	// sent.
	DispositionMove
)

func (d Disposition) String() string {
	switch d {
	case DispositionCopy:
		return "copy"
	case DispositionMove:
		return "move"
	}
	return fmt.Sprintf("disposition(%d)", uint8(d))
}

// Descriptor is a received descriptor and the disposition it was sent
// with, as delivered beside a message body.
type Descriptor struct {
	FD          int
	Disposition Disposition
}

// Close closes the descriptor. It is used for descriptors no value
// adopted.
func (d Descriptor) Close() error {
	return unix.Close(d.FD)
}

// Handle is a value wrapping an operating-system descriptor: a file, a
// shared memory region, or a send or receive endpoint. The value owns the
// descriptor and closes it on teardown.
type Handle struct {
	header
	kind        Kind
	fd          atomic.Int64
	disposition Disposition
}

// NewFileHandle returns a file handle for fd. With DispositionCopy the
// descriptor is duplicated and the caller keeps fd; with DispositionMove
// the handle takes fd over.
func NewFileHandle(fd int, disposition Disposition) (*Handle, error) {
	return newHandle(KindFileHandle, fd, disposition)
}

// NewSharedMemory wraps a descriptor for a shared memory region, with the
// same ownership rules as NewFileHandle.
func NewSharedMemory(fd int, disposition Disposition) (*Handle, error) {
	return newHandle(KindSharedMemory, fd, disposition)
}

// NewSendHandle wraps the sending end of a channel.
func NewSendHandle(fd int, disposition Disposition) (*Handle, error) {
	return newHandle(KindSendHandle, fd, disposition)
}

// NewReceiveHandle wraps the receiving end of a channel.
func NewReceiveHandle(fd int, disposition Disposition) (*Handle, error) {
	return newHandle(KindReceiveHandle, fd, disposition)
}

// Adopt wraps a received descriptor in a handle of the given kind without
// duplicating it.
func Adopt(kind Kind, d Descriptor) (*Handle, error) {
	if !kind.IsHandle() {
		return nil, fmt.Errorf("%w: %s is not a handle kind", ErrTypeMismatch, kind)
	}
	return adopt(kind, d.FD, d.Disposition), nil
}

func newHandle(kind Kind, fd int, disposition Disposition) (*Handle, error) {
	if fd < 0 {
		return nil, fmt.Errorf("object: invalid descriptor %d", fd)
	}
	if disposition == DispositionCopy {
		dup, err := dupCloexec(fd)
		if err != nil {
			return nil, err
		}
		fd = dup
	}
	return adopt(kind, fd, disposition), nil
}

func adopt(kind Kind, fd int, disposition Disposition) *Handle {
	h := &Handle{kind: kind, disposition: disposition}
	h.fd.Store(int64(fd))
	h.init()
	return h
}

func dupCloexec(fd int) (int, error) {
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("object: dup %d: %w", fd, err)
	}
	return dup, nil
}

func (h *Handle) Kind() Kind { return h.kind }

// FD returns the descriptor, or -1 once the handle has been relinquished
// or torn down. The handle still owns it.
func (h *Handle) FD() int { return int(h.fd.Load()) }

func (h *Handle) Disposition() Disposition { return h.disposition }

// Dup returns a new close-on-exec duplicate of the descriptor. The caller
// owns the result.
func (h *Handle) Dup() (int, error) {
	fd := h.FD()
	if fd < 0 {
		return -1, fmt.Errorf("object: %s handle has no descriptor", h.kind)
	}
	return dupCloexec(fd)
}

// Relinquish closes the handle's descriptor after it has been moved to a
// peer. Later calls and the eventual teardown do nothing.
func (h *Handle) Relinquish() error {
	fd := h.fd.Swap(-1)
	if fd < 0 {
		return nil
	}
	return unix.Close(int(fd))
}

func (h *Handle) String() string {
	return fmt.Sprintf("<%s %d %s>", h.kind, h.FD(), h.disposition)
}

func (h *Handle) teardown() {
	_ = h.Relinquish()
}
