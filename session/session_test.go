package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func Test_RegisterResolveOnce(t *testing.T) {
	tr := NewTracker(0)

	id, err := tr.Register(testAddr(), 0x1234)
	assert.NoError(t, err)
	assert.Equal(t, 1, tr.Len())

	e, ok := tr.Resolve(id)
	assert.True(t, ok)
	assert.Equal(t, uint16(0x1234), e.OrigID)
	assert.Equal(t, id, e.OutboundID)
	assert.Equal(t, testAddr().String(), e.Client.String())
	assert.Equal(t, 0, tr.Len())

	// second resolve for the same id is a miss
	_, ok = tr.Resolve(id)
	assert.False(t, ok)
}

func Test_RegisterUniqueIDs(t *testing.T) {
	tr := NewTracker(time.Minute)

	seen := make(map[uint16]bool)
	for i := 0; i < 512; i++ {
		id, err := tr.Register(testAddr(), uint16(i))
		assert.NoError(t, err)
		assert.False(t, seen[id], "outbound id issued twice while live")
		seen[id] = true
	}

	assert.Equal(t, 512, tr.Len())
}

func Test_Sweep(t *testing.T) {
	tr := NewTracker(2 * time.Second)

	id, err := tr.Register(testAddr(), 7)
	assert.NoError(t, err)

	// nothing is old enough yet
	assert.Len(t, tr.Sweep(time.Now()), 0)
	assert.Equal(t, 1, tr.Len())

	swept := tr.Sweep(time.Now().Add(3 * time.Second))
	assert.Len(t, swept, 1)
	assert.Equal(t, id, swept[0].OutboundID)
	assert.Equal(t, 0, tr.Len())

	_, ok := tr.Resolve(id)
	assert.False(t, ok)
}

func Test_Unregister(t *testing.T) {
	tr := NewTracker(0)

	id, err := tr.Register(testAddr(), 9)
	assert.NoError(t, err)

	tr.Unregister(id)

	_, ok := tr.Resolve(id)
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Len())
}
