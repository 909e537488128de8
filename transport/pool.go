// Transport pooling. A buffered channel works as the pool: it is a natural
// FIFO queue, concurrency-safe, and blocking-on-empty comes built in.
package transport

import (
	"fmt"
	"sync"
)

// TransportPool manages reusable multiplexed transports to a single address.
// Transports are created lazily: the pool starts empty and grows on demand
// up to maxSize.
type TransportPool struct {
	mu         sync.Mutex
	transports chan *ClientTransport
	addr       string
	maxSize    int
	cur        int // Currently created transports (may be < maxSize)
	factory    func() (*ClientTransport, error)
}

// NewTransportPool creates a pool with the given max size. The factory dials
// and wraps one connection.
func NewTransportPool(addr string, maxSize int, factory func() (*ClientTransport, error)) *TransportPool {
	return &TransportPool{
		transports: make(chan *ClientTransport, maxSize),
		addr:       addr,
		maxSize:    maxSize,
		factory:    factory,
	}
}

// Get retrieves a transport:
//  1. Take an idle one from the channel if available (non-blocking select)
//  2. If the pool is empty but under the limit, create a new one
//  3. At the limit, block until a transport is returned
func (p *TransportPool) Get() (*ClientTransport, error) {
	select {
	case t := <-p.transports:
		if t.Broken() {
			p.discard(t)
			return p.createNew()
		}
		return t, nil
	default:
		p.mu.Lock()
		under := p.cur < p.maxSize
		p.mu.Unlock()
		if under {
			return p.createNew()
		}
		t := <-p.transports
		if t.Broken() {
			p.discard(t)
			return p.createNew()
		}
		return t, nil
	}
}

// Put returns a transport to the pool. Broken transports are closed and
// dropped so the next Get dials a fresh connection.
func (p *TransportPool) Put(t *ClientTransport) {
	if t.Broken() {
		p.discard(t)
		return
	}
	p.transports <- t
}

// Close shuts down the pool and all idle transports. Transports currently
// checked out are closed by their callers via Put on a broken connection.
func (p *TransportPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.transports)
	for t := range p.transports {
		t.Close()
		p.cur--
	}
	return nil
}

func (p *TransportPool) discard(t *ClientTransport) {
	t.Close()
	p.mu.Lock()
	p.cur--
	p.mu.Unlock()
}

// createNew dials a fresh transport via the factory. The mutex keeps cur
// from exceeding maxSize under concurrent Gets.
func (p *TransportPool) createNew() (*ClientTransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cur >= p.maxSize {
		return nil, fmt.Errorf("transport pool for %s exhausted", p.addr)
	}

	t, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.cur++
	return t, nil
}
