package pool

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCreatesUpToMax(t *testing.T) {
	p := New(3)

	conns := make([]*Conn, 0, 3)
	for range 3 {
		c, err := p.Get()
		require.NoError(t, err)
		conns = append(conns, c)
	}

	_, err := p.Get()
	assert.ErrorIs(t, err, ErrExhausted)

	live, max := p.Stats()
	assert.Equal(t, 3, live)
	assert.Equal(t, 3, max)

	// Returning one frees exactly one slot.
	p.Put(conns[0])
	c, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, conns[0].ID, c.ID)

	_, err = p.Get()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestReuseIsLIFO(t *testing.T) {
	p := New(2)

	a, err := p.Get()
	require.NoError(t, err)
	b, err := p.Get()
	require.NoError(t, err)

	p.Put(a)
	p.Put(b)

	// b was returned last, so it goes out first.
	c, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, b.ID, c.ID)

	c, err = p.Get()
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.ID)
}

func TestDialErrorReleasesSlot(t *testing.T) {
	dialErr := errors.New("cluster unreachable")
	fail := true
	p := New(1, WithDialer(func() (*Conn, error) {
		if fail {
			return nil, dialErr
		}
		return defaultDial()
	}))

	_, err := p.Get()
	assert.ErrorIs(t, err, dialErr)

	// The failed dial must not leak its reserved slot.
	fail = false
	c, err := p.Get()
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestPutNilIsNoop(t *testing.T) {
	p := New(1)
	assert.NotPanics(t, func() { p.Put(nil) })
}

func TestConcurrentCheckoutNeverExceedsMax(t *testing.T) {
	const max = 8
	p := New(max)

	var (
		mu      sync.Mutex
		granted int
		wg      sync.WaitGroup
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Get()
			if err != nil {
				assert.ErrorIs(t, err, ErrExhausted)
				return
			}
			mu.Lock()
			granted++
			mu.Unlock()
			_ = c
		}()
	}
	wg.Wait()

	live, _ := p.Stats()
	assert.LessOrEqual(t, live, max)
	assert.LessOrEqual(t, granted, max)
}

func TestConcurrentChurn(t *testing.T) {
	p := New(4)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				c, err := p.Get()
				if err != nil {
					continue
				}
				p.Put(c)
			}
		}()
	}
	wg.Wait()

	live, _ := p.Stats()
	assert.LessOrEqual(t, live, 4)
}
