package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"mini-xpc/object"
	"mini-xpc/protocol"
)

// UnixConn is a Transport over a Unix-domain stream socket. Descriptors
// ride on the first write of each frame as SCM_RIGHTS.
type UnixConn struct {
	conn    *net.UnixConn
	limits  protocol.Options
	sending sync.Mutex // whole frames only; interleaved writes corrupt the stream
	reading sync.Mutex // frame boundaries need a single reader
	oob     []byte     // control buffer, guarded by reading
}

// NewUnixConn wraps conn. limits bounds the frames Receive accepts.
func NewUnixConn(conn *net.UnixConn, limits protocol.Options) *UnixConn {
	max := limits.MaxHandles
	if max <= 0 {
		max = protocol.DefaultMaxHandles
	}
	return &UnixConn{
		conn:   conn,
		limits: limits,
		oob:    make([]byte, unix.CmsgSpace(4*max)),
	}
}

// Dial connects to the socket at path.
func Dial(ctx context.Context, path string, limits protocol.Options) (*UnixConn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", path, classify(err))
	}
	return NewUnixConn(c.(*net.UnixConn), limits), nil
}

// Pair returns two connected transports backed by a socketpair.
func Pair(limits protocol.Options) (*UnixConn, *UnixConn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: socketpair: %w", err)
	}
	a, errA := fileConn(fds[0], "pair-a")
	b, errB := fileConn(fds[1], "pair-b")
	if err := multierr.Combine(errA, errB); err != nil {
		if a != nil {
			a.Close()
		}
		if b != nil {
			b.Close()
		}
		return nil, nil, err
	}
	return NewUnixConn(a, limits), NewUnixConn(b, limits), nil
}

func fileConn(fd int, name string) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("transport: %s: %w", name, err)
	}
	return c.(*net.UnixConn), nil
}

// Send writes m as one frame.
func (c *UnixConn) Send(ctx context.Context, m *Message) error {
	fds := make([]int, len(m.Handles))
	m.Header.Dispositions = make([]object.Disposition, len(m.Handles))
	for i, h := range m.Handles {
		if h.FD() < 0 {
			return fmt.Errorf("transport: %s was already moved", h.Kind())
		}
		fds[i] = h.FD()
		m.Header.Dispositions[i] = h.Disposition()
	}
	frame := protocol.AppendFrame(make([]byte, 0, m.Header.Size()+len(m.Body)), &m.Header, m.Body)

	c.sending.Lock()
	defer c.sending.Unlock()

	stop := c.deadline(ctx, c.conn.SetWriteDeadline)
	defer stop()

	// Step 1: The first write carries the descriptors
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	n, _, err := c.conn.WriteMsgUnix(frame, oob, nil)
	// Step 2: A stream socket may take the frame in pieces
	for err == nil && n < len(frame) {
		var more int
		more, err = c.conn.Write(frame[n:])
		n += more
	}
	if err != nil {
		return c.fail(ctx, err)
	}

	// Step 3: Moved descriptors now live in the peer
	for _, h := range m.Handles {
		if h.Disposition() == object.DispositionMove {
			_ = h.Relinquish()
		}
	}
	return nil
}

// Receive reads the next frame and the descriptors sent with it.
func (c *UnixConn) Receive(ctx context.Context) (*Message, error) {
	c.reading.Lock()
	defer c.reading.Unlock()

	stop := c.deadline(ctx, c.conn.SetReadDeadline)
	defer stop()

	r := &rightsReader{conn: c.conn, oob: c.oob}
	h, body, err := c.limits.Decode(r)
	descs := r.descriptors(h)
	if err == nil {
		err = r.err
	}
	if err == nil && len(descs) != len(h.Dispositions) {
		err = fmt.Errorf("%w: %d descriptors for %d handles", ErrHandleMismatch, len(descs), len(h.Dispositions))
	}
	if err != nil {
		m := &Message{Descriptors: descs}
		return nil, multierr.Append(c.fail(ctx, err), m.Close())
	}
	return &Message{Header: *h, Body: body, Descriptors: descs}, nil
}

// Close closes the socket.
func (c *UnixConn) Close() error {
	return c.conn.Close()
}

// Name identifies the peer for logs.
func (c *UnixConn) Name() string {
	if addr := c.conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return fmt.Sprintf("unix:%p", c)
}

// PeerCredentials returns the process credentials of the peer as recorded
// by the kernel when the connection was made.
func (c *UnixConn) PeerCredentials() (*unix.Ucred, error) {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	return cred, multierr.Combine(err, credErr)
}

// deadline applies ctx's deadline through set and arranges for
// cancellation to interrupt a blocked call.
func (c *UnixConn) deadline(ctx context.Context, set func(time.Time) error) func() {
	d, _ := ctx.Deadline()
	_ = set(d)
	stop := context.AfterFunc(ctx, func() { _ = set(time.Unix(1, 0)) })
	return func() {
		stop()
		_ = set(time.Time{})
	}
}

// fail reports ctx's error in place of the timeout it caused.
func (c *UnixConn) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// the socket deadline can fire just before ctx's own timer
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return classify(err)
}

// rightsReader reads a stream and collects SCM_RIGHTS descriptors from
// every segment it reads.
type rightsReader struct {
	conn *net.UnixConn
	oob  []byte
	fds  []int
	err  error
}

func (r *rightsReader) Read(p []byte) (int, error) {
	n, oobn, flags, _, err := r.conn.ReadMsgUnix(p, r.oob)
	if oobn > 0 {
		r.collect(r.oob[:oobn])
	}
	if flags&unix.MSG_CTRUNC != 0 && r.err == nil {
		r.err = fmt.Errorf("%w: control data truncated", ErrHandleMismatch)
	}
	return n, err
}

func (r *rightsReader) collect(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		r.err = multierr.Append(r.err, err)
		return
	}
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil {
			r.err = multierr.Append(r.err, err)
			continue
		}
		r.fds = append(r.fds, fds...)
	}
}

// descriptors pairs received descriptors with the header's dispositions.
// Descriptors past the table default to DispositionCopy so they can still
// be closed.
func (r *rightsReader) descriptors(h *protocol.Header) []object.Descriptor {
	if len(r.fds) == 0 {
		return nil
	}
	out := make([]object.Descriptor, len(r.fds))
	for i, fd := range r.fds {
		out[i] = object.Descriptor{FD: fd}
		if h != nil && i < len(h.Dispositions) {
			out[i].Disposition = h.Dispositions[i]
		}
	}
	return out
}
