// Package pool provides a bounded, fail-fast pool of backend session handles.
// Session establishment against an HSM is expensive, so handles are recycled;
// a caller that finds the pool at capacity gets ErrExhausted immediately
// rather than queueing.
package pool

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrExhausted is returned when every connection is checked out and the pool
// is at its configured maximum.
var ErrExhausted = errors.New("connection pool exhausted")

// Conn is a live session handle. It is exclusively owned by one caller while
// checked out and by the pool while idle; it is never lent to two callers at
// once.
type Conn struct {
	ID        string
	CreatedAt time.Time
	LastUsed  time.Time

	busy bool
}

// Pool hands out connections up to a fixed maximum. Connections are created
// lazily and live until the pool itself is discarded; there is no idle expiry.
type Pool struct {
	mu   sync.Mutex
	idle []*Conn
	live int
	max  int

	// dial builds a new session when no idle connection exists. Injected so
	// tests and backends control session establishment.
	dial func() (*Conn, error)
}

// Option configures a Pool.
type Option func(*Pool)

// WithDialer replaces the default session constructor.
func WithDialer(dial func() (*Conn, error)) Option {
	return func(p *Pool) {
		p.dial = dial
	}
}

// New creates a pool bounded at max connections.
func New(max int, opts ...Option) *Pool {
	p := &Pool{
		max:  max,
		dial: defaultDial,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func defaultDial() (*Conn, error) {
	now := time.Now()
	return &Conn{ID: uuid.NewString(), CreatedAt: now, LastUsed: now}, nil
}

// Get returns an idle connection, or creates one if the live count is below
// the maximum, or fails with ErrExhausted. Idle connections are reused in
// LIFO order: the most recently returned handle goes out first, which keeps
// a small working set warm. The lock is held only to pop or bump the count;
// dialing happens outside it.
func (p *Pool) Get() (*Conn, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		c.busy = true
		c.LastUsed = time.Now()
		p.mu.Unlock()
		return c, nil
	}
	if p.live >= p.max {
		p.mu.Unlock()
		return nil, ErrExhausted
	}
	p.live++
	p.mu.Unlock()

	c, err := p.dial()
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return nil, err
	}
	c.busy = true
	return c, nil
}

// Put returns a connection to the pool, making it immediately available to
// the next Get.
func (p *Pool) Put(c *Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c.busy = false
	c.LastUsed = time.Now()
	p.idle = append(p.idle, c)
}

// Stats reports live and configured-maximum connection counts.
func (p *Pool) Stats() (live, max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live, p.max
}
