// Package pipe implements the pipe-routine layer on top of a transport.
//
// A routine is one send followed, for Call, by exactly one blocking
// receive. There is no retry and no reconnection at this layer:
//
//	Call ──SyncMessage(seq=n, wants reply)──→ server
//	     ←──────AsyncReply(seq=n)────────────
//
// SendOnly starts an exchange whose reply arrives later through Receive,
// and SendNoReply sends a message nobody answers. Every operation returns
// nil or a Code; causes are logged.
package pipe

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"mini-xpc/loadbalance"
	"mini-xpc/object"
	"mini-xpc/protocol"
	"mini-xpc/registry"
	"mini-xpc/transport"
)

// Pipe is one end of a point-to-point channel carrying dictionaries.
//
// Calls are serialized: one routine at a time holds the pipe. Do not mix
// Call with a concurrent Receive on the same pipe, since Receive could take
// the reply Call waits for.
type Pipe struct {
	t       transport.Transport
	name    string
	limits  protocol.Options
	logger  *zap.Logger
	conn    *object.Connection // stamped onto received messages
	seq     atomic.Uint64
	routine sync.Mutex // held for a whole Call
	invalid atomic.Bool
}

// Option configures a Pipe.
type Option func(*Pipe)

// WithLogger sets the logger for failures below the pipe.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipe) { p.logger = l }
}

// WithLimits bounds the messages the pipe sends and accepts.
func WithLimits(o protocol.Options) Option {
	return func(p *Pipe) { p.limits = o }
}

// WithName names the pipe in logs and in the checkin sent by Dial.
func WithName(name string) Option {
	return func(p *Pipe) { p.name = name }
}

// New wraps an established transport.
func New(t transport.Transport, opts ...Option) *Pipe {
	p := &Pipe{t: t, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.name == "" {
		if named, ok := t.(interface{ Name() string }); ok {
			p.name = named.Name()
		}
	}
	p.logger = p.logger.With(zap.String("pipe", p.name))
	p.conn = object.NewConnection(p.name, p)
	return p
}

// Dial connects to the server listening at path and checks in.
func Dial(ctx context.Context, path string, opts ...Option) (*Pipe, error) {
	probe := &Pipe{}
	for _, opt := range opts {
		opt(probe)
	}
	t, err := transport.Dial(ctx, path, probe.limits)
	if err != nil {
		if probe.logger != nil {
			probe.logger.Debug("dial failed", zap.String("path", path), zap.Error(err))
		}
		return nil, codeOf(err)
	}
	p := New(t, opts...)
	if err := p.checkin(ctx); err != nil {
		t.Close()
		return nil, err
	}
	return p, nil
}

// DialService looks name up in reg, lets bal choose among the instances,
// and dials the chosen socket. The pipe's name is the balancing key.
func DialService(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, name string, opts ...Option) (*Pipe, error) {
	instances, err := registry.Lookup(ctx, reg, name)
	if err != nil {
		return nil, codeOf(err)
	}
	probe := &Pipe{name: name}
	for _, opt := range opts {
		opt(probe)
	}
	inst, err := bal.Pick(instances, probe.name)
	if err != nil {
		return nil, codeOf(err)
	}
	return Dial(ctx, inst.Path, append([]Option{WithName(name)}, opts...)...)
}

// Name returns the pipe's name.
func (p *Pipe) Name() string { return p.name }

// Connection returns the connection stamped onto received messages.
func (p *Pipe) Connection() *object.Connection { return p.conn }

// Call sends req and blocks for its reply. The caller owns the reply.
//
// Exactly one frame is read: anything other than the matching reply fails
// the call with CodeInvalid and is dropped.
func (p *Pipe) Call(ctx context.Context, req *object.Dictionary) (*object.Dictionary, error) {
	if req == nil {
		return nil, CodeInvalidArgument
	}
	p.routine.Lock()
	defer p.routine.Unlock()

	// Step 1: Send with a fresh sequence number
	seq := p.seq.Add(1)
	if err := p.send(ctx, protocol.MsgSyncMessage, protocol.FlagWantsReply, seq, req); err != nil {
		return nil, err
	}

	// Step 2: One receive, which must be the reply to seq
	m, err := p.receiveFrame(ctx)
	if err != nil {
		return nil, err
	}
	if m.Header.MsgID != protocol.MsgAsyncReply || m.Header.Seq != seq {
		p.logger.Warn("unexpected frame during call",
			zap.Stringer("msg", m.Header.MsgID), zap.Uint64("seq", m.Header.Seq), zap.Uint64("want", seq))
		m.Close()
		return nil, CodeInvalid
	}
	return p.decode(m)
}

// SendOnly sends req expecting a reply later and returns the sequence
// number the reply will carry as its reply id.
func (p *Pipe) SendOnly(ctx context.Context, req *object.Dictionary) (uint64, error) {
	if req == nil {
		return 0, CodeInvalidArgument
	}
	seq := p.seq.Add(1)
	if err := p.send(ctx, protocol.MsgMessage, protocol.FlagWantsReply, seq, req); err != nil {
		return 0, err
	}
	return seq, nil
}

// SendNoReply sends msg as a one-way message.
func (p *Pipe) SendNoReply(ctx context.Context, msg *object.Dictionary) error {
	if msg == nil {
		return CodeInvalidArgument
	}
	return p.send(ctx, protocol.MsgMessage, 0, p.seq.Add(1), msg)
}

// Forward passes a received request on to this pipe's peer, keeping its
// reply id. The peer's reply arrives through Receive.
func (p *Pipe) Forward(ctx context.Context, req *object.Dictionary) error {
	if req == nil {
		return CodeInvalidArgument
	}
	id, ok := req.ReplyID()
	if !ok {
		return p.send(ctx, protocol.MsgMessage, 0, p.seq.Add(1), req)
	}
	return p.send(ctx, protocol.MsgMessage, protocol.FlagWantsReply, id, req)
}

// Notify pushes msg to the peer. Notifications are never answered.
func (p *Pipe) Notify(ctx context.Context, msg *object.Dictionary) error {
	if msg == nil {
		return CodeInvalidArgument
	}
	return p.send(ctx, protocol.MsgNotification, 0, 0, msg)
}

// Receive blocks for the next message. Requests that want a reply, and
// replies to SendOnly, come back with their reply id set; every message
// carries this pipe as its remote connection. The caller owns the result.
func (p *Pipe) Receive(ctx context.Context) (*object.Dictionary, protocol.MsgID, error) {
	m, err := p.receiveFrame(ctx)
	if err != nil {
		return nil, 0, err
	}
	msg, err := p.decode(m)
	if err != nil {
		return nil, 0, err
	}
	if m.Header.WantsReply() || m.Header.MsgID == protocol.MsgAsyncReply {
		msg.SetReplyID(m.Header.Seq)
	}
	return msg, m.Header.MsgID, nil
}

// Reply sends reply, made with object.CreateReply, on this pipe.
func (p *Pipe) Reply(ctx context.Context, reply *object.Dictionary) error {
	if reply == nil {
		return CodeInvalidArgument
	}
	id, ok := reply.ReplyID()
	if !ok {
		return CodeInvalidArgument
	}
	return p.send(ctx, protocol.MsgAsyncReply, 0, id, reply)
}

// Reply routes reply back over the pipe its request arrived on. It fails
// with CodeBrokenPipe once that pipe is gone.
func Reply(ctx context.Context, reply *object.Dictionary) error {
	if reply == nil {
		return CodeInvalidArgument
	}
	conn := reply.RemoteConnection()
	if conn == nil {
		return CodeBrokenPipe
	}
	p, ok := conn.Peer().(*Pipe)
	if !ok {
		return CodeInvalidArgument
	}
	return p.Reply(ctx, reply)
}

// Invalidate closes the pipe. Later operations fail with CodeBrokenPipe
// and blocked ones return.
func (p *Pipe) Invalidate() {
	if p.invalid.Swap(true) {
		return
	}
	if err := p.t.Close(); err != nil {
		p.logger.Debug("close transport", zap.Error(err))
	}
}

// Close invalidates the pipe.
func (p *Pipe) Close() error {
	p.Invalidate()
	return nil
}

func (p *Pipe) checkin(ctx context.Context) error {
	msg := object.NewDictionary()
	defer object.Release(msg)
	msg.SetString("name", p.name)
	msg.SetInt64("pid", int64(os.Getpid()))
	return p.send(ctx, protocol.MsgCheckin, 0, 0, msg)
}

func (p *Pipe) send(ctx context.Context, id protocol.MsgID, flags protocol.Flags, seq uint64, msg *object.Dictionary) error {
	if p.invalid.Load() {
		return CodeBrokenPipe
	}
	body, handles, err := p.limits.Marshal(msg)
	if err != nil {
		p.logger.Debug("encode failed", zap.Stringer("msg", id), zap.Error(err))
		return encodeCode(err)
	}
	m := &transport.Message{
		Header:  protocol.Header{MsgID: id, Flags: flags, Seq: seq},
		Body:    body,
		Handles: handles,
	}
	if err := p.t.Send(ctx, m); err != nil {
		p.logger.Warn("send failed", zap.Stringer("msg", id), zap.Uint64("seq", seq), zap.Error(err))
		return codeOf(err)
	}
	return nil
}

func (p *Pipe) receiveFrame(ctx context.Context) (*transport.Message, error) {
	if p.invalid.Load() {
		return nil, CodeBrokenPipe
	}
	m, err := p.t.Receive(ctx)
	if err != nil {
		if p.invalid.Load() {
			return nil, CodeBrokenPipe
		}
		p.logger.Debug("receive failed", zap.Error(err))
		return nil, codeOf(err)
	}
	return m, nil
}

// decode unpacks m's envelope and stamps the remote connection.
func (p *Pipe) decode(m *transport.Message) (*object.Dictionary, error) {
	msg, err := p.limits.Unmarshal(m.Body, m.Descriptors)
	m.Descriptors = nil // claimed or closed by Unmarshal
	if err != nil {
		p.logger.Warn("malformed message", zap.Stringer("msg", m.Header.MsgID), zap.Error(err))
		return nil, CodeInvalid
	}
	msg.SetRemoteConnection(p.conn)
	return msg, nil
}
