package nat

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ipA = netip.MustParseAddr("203.0.113.1")
	ipB = netip.MustParseAddr("203.0.113.2")
)

type released struct {
	port   uint16
	remote netip.AddrPort
	reason Reason
}

type releaseLog struct {
	mu  sync.Mutex
	got []released
}

func (l *releaseLog) hook(port uint16, e *Entry, reason Reason) {
	l.mu.Lock()
	l.got = append(l.got, released{port, e.Remote(), reason})
	l.mu.Unlock()
}

func (l *releaseLog) all() []released {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]released(nil), l.got...)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sizeObserver struct{ last int }

func (o *sizeObserver) SetNatEntries(n int) { o.last = n }

func TestTable_Defaults(t *testing.T) {
	tbl := New()
	assert.Equal(t, DefaultCapacity, tbl.Capacity())
	assert.Equal(t, DefaultTTL, tbl.TTL())
	assert.Equal(t, 0, tbl.Len())
}

func TestPickSession_ReusesMatchingTupleWithFresherTimestamp(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1000, 0)}
	tbl := New(WithClock(clock.Now))

	first := tbl.PickSession(40000, ipA, 443)
	t1 := first.LastTime()
	second := tbl.PickSession(40000, ipA, 443)

	assert.Same(t, first, second)
	assert.True(t, second.LastTime().After(t1), "timestamp must strictly increase even on a frozen clock")
	assert.Equal(t, 1, tbl.Len())
}

func TestPickSession_ReplacesOnMismatch(t *testing.T) {
	var log releaseLog
	tbl := New(WithRelease(log.hook))

	old := tbl.PickSession(40000, ipA, 443)
	byPort := tbl.PickSession(40000, ipA, 8443)
	byAddr := tbl.PickSession(40000, ipB, 8443)

	assert.NotSame(t, old, byPort)
	assert.NotSame(t, byPort, byAddr)
	got, ok := tbl.GetSession(40000)
	require.True(t, ok)
	assert.Same(t, byAddr, got)
	assert.Equal(t, []released{
		{40000, netip.AddrPortFrom(ipA, 443), ReasonReplaced},
		{40000, netip.AddrPortFrom(ipA, 8443), ReasonReplaced},
	}, log.all())
}

func TestPickSession_MatchesMappedAddress(t *testing.T) {
	tbl := New()
	mapped := netip.AddrFrom16(ipA.As16())

	first := tbl.PickSession(1, mapped, 53)
	assert.Equal(t, ipA, first.RemoteIP)
	assert.Same(t, first, tbl.PickSession(1, ipA, 53))
}

func TestCreateSession_SweepsOnlyAboveCapacity(t *testing.T) {
	var log releaseLog
	clock := &fixedClock{now: time.Unix(1000, 0)}
	tbl := New(WithCapacity(2), WithTTL(time.Minute), WithClock(clock.Now), WithRelease(log.hook))

	tbl.CreateSession(1, ipA, 1)
	tbl.CreateSession(2, ipA, 2)
	clock.Advance(2 * time.Minute)

	// len == capacity: no sweep, transiently above capacity
	tbl.CreateSession(3, ipA, 3)
	assert.Equal(t, 3, tbl.Len())
	assert.Empty(t, log.all())

	// len > capacity: expired entries go first
	tbl.CreateSession(4, ipA, 4)
	assert.Equal(t, 2, tbl.Len())
	_, ok := tbl.GetSession(1)
	assert.False(t, ok)
	_, ok = tbl.GetSession(3)
	assert.True(t, ok)

	var reasons []Reason
	for _, r := range log.all() {
		reasons = append(reasons, r.reason)
	}
	assert.Equal(t, []Reason{ReasonExpired, ReasonExpired}, reasons)
}

func TestCreateSession_ExceedsCapacityWhenNothingExpired(t *testing.T) {
	tbl := New(WithCapacity(1))
	for port := uint16(1); port <= 5; port++ {
		tbl.CreateSession(port, ipA, port)
	}
	assert.Equal(t, 5, tbl.Len())
}

func TestSweep_UsesStrictTTL(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1000, 0)}
	tbl := New(WithTTL(time.Minute), WithClock(clock.Now))
	tbl.CreateSession(1, ipA, 1)

	clock.Advance(time.Minute)
	assert.Equal(t, 0, tbl.Sweep())
	clock.Advance(time.Second)
	assert.Equal(t, 1, tbl.Sweep())
	assert.Equal(t, 0, tbl.Len())
}

func TestRemoveAndLookup(t *testing.T) {
	var log releaseLog
	obs := &sizeObserver{}
	tbl := New(WithRelease(log.hook), WithObserver(obs))

	tbl.PickSession(7, ipB, 22)
	assert.Equal(t, 1, obs.last)

	dst, ok := tbl.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, netip.AddrPortFrom(ipB, 22), dst)

	assert.True(t, tbl.Remove(7))
	assert.False(t, tbl.Remove(7))
	_, ok = tbl.Lookup(7)
	assert.False(t, ok)
	assert.Equal(t, 0, obs.last)
	assert.Equal(t, []released{{7, netip.AddrPortFrom(ipB, 22), ReasonRemoved}}, log.all())
}

func TestSnapshot_OrderedByPort(t *testing.T) {
	tbl := New()
	tbl.PickSession(30, ipA, 3)
	tbl.PickSession(10, ipA, 1)
	tbl.PickSession(20, ipB, 2)

	snap := tbl.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, uint16(10), snap[0].Port)
	assert.Equal(t, "203.0.113.2:2", snap[1].Remote)
	assert.Equal(t, uint16(30), snap[2].Port)
}

func TestReleaseHookPanicIsContained(t *testing.T) {
	tbl := New(WithRelease(func(uint16, *Entry, Reason) { panic("boom") }))
	tbl.PickSession(1, ipA, 1)
	assert.NotPanics(t, func() { tbl.PickSession(1, ipB, 1) })
	assert.Equal(t, 1, tbl.Len())
}

func TestPickSession_ConcurrentTimestampsStrictlyIncrease(t *testing.T) {
	tbl := New()
	const workers, picks = 8, 200

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(port uint16) {
			defer wg.Done()
			for i := 0; i < picks; i++ {
				ns := tbl.PickSession(port, ipA, 443).LastTime().UnixNano()
				mu.Lock()
				seen[ns] = true
				mu.Unlock()
			}
		}(uint16(w))
	}
	wg.Wait()
	assert.Len(t, seen, workers*picks)
}
