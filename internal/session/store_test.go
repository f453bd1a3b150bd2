package session

import (
	"errors"
	"math/rand"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nat/api"
)

// trackedSession counts Close calls.
type trackedSession struct {
	*Base
	closes   atomic.Int32
	closeErr error
}

func (s *trackedSession) Close() error {
	s.closes.Add(1)
	return s.closeErr
}

var testAddr = netip.MustParseAddr("192.0.2.1")

func newTracked(port uint16) *trackedSession {
	return &trackedSession{Base: NewBase(port, testAddr, 80)}
}

type releaseLog struct {
	mu      sync.Mutex
	entries []releaseRecord
}

type releaseRecord struct {
	port   uint16
	reason Removal
}

func (l *releaseLog) hook(s *trackedSession, reason Removal) {
	l.mu.Lock()
	l.entries = append(l.entries, releaseRecord{s.SourcePort(), reason})
	l.mu.Unlock()
	CloseQuietly(s, reason)
}

func (l *releaseLog) records() []releaseRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]releaseRecord(nil), l.entries...)
}

func TestStore_EvictsOldestWithoutAccess(t *testing.T) {
	var log releaseLog
	st := NewStore[*trackedSession](2, log.hook)

	s10, s20, s30 := newTracked(10), newTracked(20), newTracked(30)
	require.NoError(t, st.Put(10, s10))
	require.NoError(t, st.Put(20, s20))
	require.NoError(t, st.Put(30, s30))

	assert.Equal(t, []uint16{30, 20}, st.Keys())
	assert.Equal(t, []releaseRecord{{10, RemovalEvicted}}, log.records())
	assert.True(t, s10.Finished())
	assert.Equal(t, int32(1), s10.closes.Load())

	_, ok := st.Get(10)
	assert.False(t, ok)
}

func TestStore_GetRefreshesRecency(t *testing.T) {
	st := NewStore[*trackedSession](2, nil)
	require.NoError(t, st.Put(10, newTracked(10)))
	require.NoError(t, st.Put(20, newTracked(20)))

	_, ok := st.Get(10)
	require.True(t, ok)
	require.NoError(t, st.Put(30, newTracked(30)))

	assert.ElementsMatch(t, []uint16{10, 30}, st.Keys())
}

func TestStore_PeekDoesNotRefreshRecency(t *testing.T) {
	st := NewStore[*trackedSession](2, nil)
	require.NoError(t, st.Put(10, newTracked(10)))
	require.NoError(t, st.Put(20, newTracked(20)))

	_, ok := st.Peek(10)
	require.True(t, ok)
	require.NoError(t, st.Put(30, newTracked(30)))

	assert.Equal(t, []uint16{30, 20}, st.Keys())
}

func TestStore_GetDoesNotTouchActivity(t *testing.T) {
	st := NewStore[*trackedSession](4, nil)
	s := newTracked(1)
	before := s.LastActive()
	require.NoError(t, st.Put(1, s))

	_, _ = st.Get(1)
	assert.Equal(t, before, s.LastActive())
}

// TestStore_MatchesLRUModel drives random operations against a reference
// recency list and checks capacity and victim choice after every step.
func TestStore_MatchesLRUModel(t *testing.T) {
	const capacity = 5
	var log releaseLog
	st := NewStore[*trackedSession](capacity, log.hook)
	rng := rand.New(rand.NewSource(7))

	model := []uint16{} // most recent first
	touch := func(k uint16) {
		for i, m := range model {
			if m == k {
				model = append(model[:i], model[i+1:]...)
				break
			}
		}
		model = append([]uint16{k}, model...)
	}

	for i := 0; i < 2000; i++ {
		k := uint16(rng.Intn(12))
		before := len(log.records())
		switch rng.Intn(3) {
		case 0, 1:
			var victim uint16
			_, present := st.Peek(k)
			if !present && len(model) == capacity {
				victim = model[len(model)-1]
			}
			require.NoError(t, st.Put(k, newTracked(k)))
			touch(k)
			if len(model) > capacity {
				model = model[:capacity]
				recs := log.records()[before:]
				require.Len(t, recs, 1)
				assert.Equal(t, releaseRecord{victim, RemovalEvicted}, recs[0])
			}
		case 2:
			if _, ok := st.Get(k); ok {
				touch(k)
			}
		}
		require.LessOrEqual(t, st.Len(), capacity)
		require.Equal(t, model, st.Keys())
	}
}

func TestStore_ReleaseReasons(t *testing.T) {
	var log releaseLog
	st := NewStore[*trackedSession](2, log.hook)

	require.NoError(t, st.Put(1, newTracked(1)))
	require.NoError(t, st.Put(1, newTracked(1)))
	_, ok := st.Remove(1)
	require.True(t, ok)
	require.NoError(t, st.Put(2, newTracked(2)))
	require.NoError(t, st.Put(3, newTracked(3)))
	require.NoError(t, st.Put(4, newTracked(4)))
	assert.Equal(t, 1, st.RemoveWhere(RemovalIdle, func(s *trackedSession) bool { return s.SourcePort() == 3 }))
	assert.Equal(t, 1, st.Close())

	assert.Equal(t, []releaseRecord{
		{1, RemovalSuperseded},
		{1, RemovalExplicit},
		{2, RemovalEvicted},
		{3, RemovalIdle},
		{4, RemovalShutdown},
	}, log.records())

	assert.True(t, RemovalEvicted.Evicted())
	assert.True(t, RemovalShutdown.Evicted())
	assert.False(t, RemovalIdle.Evicted())
	assert.False(t, RemovalExplicit.Evicted())
}

func TestStore_RemoveAbsentKey(t *testing.T) {
	var log releaseLog
	st := NewStore[*trackedSession](2, log.hook)

	_, ok := st.Remove(42)
	assert.False(t, ok)
	assert.Empty(t, log.records())
}

func TestStore_RemovedSessionNotRetrievable(t *testing.T) {
	st := NewStore[*trackedSession](2, nil)
	s := newTracked(7)
	require.NoError(t, st.Put(7, s))

	got, ok := st.Remove(7)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.True(t, got.Finished())

	_, ok = st.Get(7)
	assert.False(t, ok)
}

func TestStore_RemoveIfSparesNewerSession(t *testing.T) {
	var log releaseLog
	st := NewStore[*trackedSession](4, log.hook)
	old := newTracked(7)
	require.NoError(t, st.Put(7, old))
	require.NoError(t, st.Put(8, newTracked(8)))
	newer := newTracked(7)
	require.NoError(t, st.Put(7, newer))

	assert.False(t, st.RemoveIf(7, old))
	got, ok := st.Peek(7)
	require.True(t, ok)
	assert.Same(t, newer, got)
	assert.False(t, newer.Finished())
	assert.Equal(t, []uint16{7, 8}, st.Keys())

	assert.True(t, st.RemoveIf(7, newer))
	assert.True(t, newer.Finished())
	assert.Equal(t, int32(1), newer.closes.Load())
	assert.False(t, st.RemoveIf(7, newer))
	assert.Equal(t, []releaseRecord{
		{7, RemovalSuperseded},
		{7, RemovalExplicit},
	}, log.records())
}

func TestStore_PutSameSessionIsNoop(t *testing.T) {
	var log releaseLog
	st := NewStore[*trackedSession](2, log.hook)
	s := newTracked(5)
	require.NoError(t, st.Put(5, s))
	require.NoError(t, st.Put(5, s))

	assert.Empty(t, log.records())
	assert.False(t, s.Finished())
	assert.Equal(t, 1, st.Len())
}

func TestStore_RejectsFinishedAndClosed(t *testing.T) {
	st := NewStore[*trackedSession](2, nil)

	done := newTracked(1)
	done.Finish()
	assert.ErrorIs(t, st.Put(1, done), api.ErrSessionFinished)

	st.Close()
	assert.ErrorIs(t, st.Put(2, newTracked(2)), api.ErrStoreClosed)
	assert.Equal(t, 0, st.Close())
}

func TestStore_HookFailureIsolated(t *testing.T) {
	calls := 0
	st := NewStore[*trackedSession](1, func(s *trackedSession, _ Removal) {
		calls++
		panic("boom")
	})

	require.NoError(t, st.Put(1, newTracked(1)))
	require.NoError(t, st.Put(2, newTracked(2)))
	require.NoError(t, st.Put(3, newTracked(3)))

	assert.Equal(t, 2, calls)
	assert.Equal(t, []uint16{3}, st.Keys())
}

func TestStore_CloseErrorLoggedNotPropagated(t *testing.T) {
	st := NewStore[*trackedSession](1, nil)
	s := newTracked(1)
	s.closeErr = errors.New("already closed")
	require.NoError(t, st.Put(1, s))

	_, ok := st.Remove(1)
	assert.True(t, ok)
	assert.Equal(t, int32(1), s.closes.Load())
}

func TestStore_ConcurrentSameKeyReleasesOnce(t *testing.T) {
	for round := 0; round < 50; round++ {
		var released atomic.Int32
		st := NewStore[*trackedSession](1, func(s *trackedSession, _ Removal) {
			released.Add(1)
		})
		require.NoError(t, st.Put(9, newTracked(9)))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				switch i % 3 {
				case 0:
					st.Remove(9)
				case 1:
					st.RemoveWhere(RemovalIdle, func(*trackedSession) bool { return true })
				default:
					st.EvictAll(RemovalShutdown)
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, int32(1), released.Load())
	}
}

func TestStore_ConcurrentDisjointKeys(t *testing.T) {
	var released atomic.Int32
	st := NewStore[*trackedSession](1024, func(*trackedSession, Removal) { released.Add(1) })

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				k := uint16(g*100 + i)
				assert.NoError(t, st.Put(k, newTracked(k)))
				if i%2 == 0 {
					_, ok := st.Remove(k)
					assert.True(t, ok)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 400, st.Len())
	assert.Equal(t, int32(400), released.Load())
}

func TestStore_HookMayReenterStore(t *testing.T) {
	var st *Store[*trackedSession]
	st = NewStore[*trackedSession](1, func(s *trackedSession, _ Removal) {
		_, ok := st.Get(s.SourcePort())
		assert.False(t, ok, "released session must not be visible")
	})
	require.NoError(t, st.Put(1, newTracked(1)))
	require.NoError(t, st.Put(2, newTracked(2)))
}
