package comm

import (
	"io"
	"sync"
	"time"
)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	mu      sync.Mutex
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out
	timeout time.Duration           // idle time after which pooled connections are closed
	conns   chan io.ReadWriteCloser // idle connections
	timer   *time.Timer             // reclaims idle connections
	maker   CreationFunc
}

// NewPool creates a pool of up to maxSize connections made by maker
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		maker:   maker,
	}
	p.timer = time.AfterFunc(timeout, p.reclaim)
	p.timer.Stop() // nothing to close initially
	return p
}

// Get retrieves a connection from the pool, blocking until one is available
// if all are in use.  When done, return it with Put, or discard it with
// Destroy if it has gone bad.  If the error from Get is not nil, the
// connection must not be returned.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.timer.Stop()
	p.mu.Lock()
	select {
	case c := <-p.conns:
		p.onLease++
		p.mu.Unlock()
		return c, nil
	default:
	}
	if p.onLease >= p.maxSize {
		p.mu.Unlock()
		c := <-p.conns
		p.mu.Lock()
		p.onLease++
		p.mu.Unlock()
		return c, nil
	}
	defer p.mu.Unlock()
	c, err := p.maker()
	if err != nil {
		return nil, err
	}
	p.onLease++
	return c, nil
}

// Put restores a connection to the pool
func (p *Pool) Put(rw io.ReadWriter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
	p.conns <- rw.(io.ReadWriteCloser)
	if p.onLease == 0 {
		p.timer.Reset(p.timeout)
	}
}

// Destroy immediately closes a connection that has gone bad
func (p *Pool) Destroy(rw io.ReadWriter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rw.(io.ReadWriteCloser).Close()
	p.onLease--
}

// ReturnWithError returns the connection with Put if err is nil, otherwise
// it is Destroyed
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections currently given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close closes all idle connections
func (p *Pool) Close() {
	p.timer.Stop()
	p.reclaim()
}

func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		select {
		case c := <-p.conns:
			c.Close()
		default:
			return
		}
	}
}
