package pipe

import (
	"context"
	"sync"

	"mini-xpc/object"
	"mini-xpc/transport"
)

// Pool runs Calls to one server concurrently, one pipe per call in flight.
type Pool struct {
	pool  *transport.Pool
	pipes sync.Map // transport.Transport -> *Pipe
}

// NewPool dials path lazily, keeping at most size pipes open.
func NewPool(path string, size int, opts ...Option) *Pool {
	p := &Pool{}
	p.pool = transport.NewPool(size, func(ctx context.Context) (transport.Transport, error) {
		pp, err := Dial(ctx, path, opts...)
		if err != nil {
			return nil, err
		}
		p.pipes.Store(pp.t, pp)
		return pp.t, nil
	})
	return p
}

// Call borrows a pipe and performs pp.Call on it. Pipes that break, or
// that saw an unexpected frame, are closed rather than reused.
func (p *Pool) Call(ctx context.Context, req *object.Dictionary) (*object.Dictionary, error) {
	t, err := p.pool.Get(ctx)
	if err != nil {
		return nil, codeOf(err)
	}
	v, _ := p.pipes.Load(t)
	pp := v.(*Pipe)

	reply, err := pp.Call(ctx, req)
	broken := err == CodeBrokenPipe || err == CodeInvalid
	if broken {
		p.pipes.Delete(t)
	}
	p.pool.Put(t, broken)
	return reply, err
}

// Close closes idle pipes now and borrowed ones when they come back.
func (p *Pool) Close() error {
	return p.pool.Close()
}
