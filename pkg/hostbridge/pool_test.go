package hostbridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := newPool([]string{"/run/xbat/host-pipe-xbatctld-0", "/run/xbat/host-pipe-xbatctld-1"})
	assert.Equal(t, 2, p.size())
	assert.Equal(t, 0, p.inUse())

	pipe, ok := p.acquire(time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, p.inUse())

	p.release(pipe)
	assert.Equal(t, 0, p.inUse())
}

func TestPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	p := newPool([]string{"/run/xbat/host-pipe-xbatctld-0"})

	pipe, ok := p.acquire(time.Second)
	require.True(t, ok)

	_, ok = p.acquire(50 * time.Millisecond)
	assert.False(t, ok)

	p.release(pipe)
	_, ok = p.acquire(time.Second)
	assert.True(t, ok)
}
