// Package transport also provides a pool of transports to one destination.
//
// A synchronous call holds its transport for the whole send-then-receive
// exchange, so callers that want to overlap calls borrow one transport per
// call. The pool is a buffered channel used as a FIFO queue: it is safe for
// concurrent use and blocking on empty is built in.
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("transport: pool closed")

// Pool manages up to max transports created by factory.
type Pool struct {
	mu      sync.Mutex
	idle    chan Transport                               // Buffered channel as pool
	max     int                                          // Maximum number of transports
	open    int                                          // Created and not yet discarded
	closed  bool                                         // Set by Close
	factory func(ctx context.Context) (Transport, error) // Transport factory function
}

// NewPool creates a pool with the given max size. Transports are created
// lazily: the pool starts empty and grows on demand.
func NewPool(max int, factory func(ctx context.Context) (Transport, error)) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{
		idle:    make(chan Transport, max),
		max:     max,
		factory: factory,
	}
}

// Get borrows a transport.
// Strategy:
//  1. Take an idle transport if there is one
//  2. If none is idle but the pool is under its limit, create one
//  3. Otherwise wait for one to be returned or for ctx to end
func (p *Pool) Get(ctx context.Context) (Transport, error) {
	select {
	case t, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return t, nil
	default:
	}

	if t, created, err := p.create(ctx); created || err != nil {
		return t, err
	}

	select {
	case t, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns t to the pool. A broken transport is closed and discarded,
// making room for a fresh one.
func (p *Pool) Put(t Transport, broken bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if broken || p.closed {
		t.Close()
		p.open--
		return
	}
	p.idle <- t
}

// Close shuts down the pool and closes the idle transports. Borrowed
// transports are closed when they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.idle)
	for t := range p.idle {
		t.Close()
		p.open--
	}
	return nil
}

// create makes a new transport if the pool is under its limit. created is
// false when the pool is full and the caller must wait.
func (p *Pool) create(ctx context.Context) (t Transport, created bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrPoolClosed
	}
	if p.open >= p.max {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.open++ // reserve the slot while dialing
	p.mu.Unlock()

	t, err = p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		return nil, false, err
	}
	return t, true, nil
}
