package session

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBase_Identity(t *testing.T) {
	addr := netip.MustParseAddr("::ffff:10.0.0.7")
	b := NewBase(5000, addr, 443)

	assert.Equal(t, uint16(5000), b.SourcePort())
	assert.Equal(t, netip.MustParseAddr("10.0.0.7"), b.RemoteAddr())
	assert.Equal(t, uint16(443), b.RemotePort())
	assert.Equal(t, "5000->10.0.0.7:443", b.String())
	assert.NoError(t, b.Close())
}

func TestBase_ActiveIsMonotonic(t *testing.T) {
	t0 := time.Unix(1000, 0)
	b := NewBaseAt(1, netip.MustParseAddr("10.0.0.1"), 80, t0)

	b.ActiveAt(t0.Add(80 * time.Millisecond))
	assert.Equal(t, t0.Add(80*time.Millisecond), b.LastActive())

	b.ActiveAt(t0.Add(10 * time.Millisecond))
	assert.Equal(t, t0.Add(80*time.Millisecond), b.LastActive(), "older timestamp must not win")

	assert.Equal(t, 70*time.Millisecond, b.IdleFor(t0.Add(150*time.Millisecond)))
}

func TestBase_FinishOnce(t *testing.T) {
	b := NewBase(1, netip.MustParseAddr("10.0.0.1"), 80)
	assert.False(t, b.Finished())

	select {
	case <-b.Done():
		t.Fatal("done closed before finish")
	default:
	}

	assert.True(t, b.Finish())
	assert.False(t, b.Finish())
	assert.True(t, b.Finished())

	select {
	case <-b.Done():
	default:
		t.Fatal("done not closed after finish")
	}
}
