package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttcal/internal/metrics"
	"ttcal/internal/timetree"
)

type fakeSyncer struct {
	mu     sync.Mutex
	calls  int
	events []timetree.RawEvent
	err    error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (f *fakeSyncer) set(events []timetree.RawEvent, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events, f.err = events, err
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSyncer) SyncEvents(ctx context.Context, calendarID string) ([]timetree.RawEvent, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.events, f.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestResolveInterval(t *testing.T) {
	d, err := ResolveInterval(0)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Minute, d)

	d, err = ResolveInterval(5)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	d, err = ResolveInterval(120)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)

	for _, bad := range []int{-1, 4, 121, 1000} {
		_, err := ResolveInterval(bad)
		assert.Error(t, err, "minutes=%d", bad)
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New("", &fakeSyncer{}, time.Minute)
	assert.Error(t, err)
	_, err = New("c1", nil, time.Minute)
	assert.Error(t, err)
	_, err = New("c1", &fakeSyncer{}, time.Millisecond)
	assert.Error(t, err)

	r, err := New("c1", &fakeSyncer{}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "c1", r.CalendarID())
	assert.Equal(t, time.Minute, r.Interval())
}

func TestRefreshBeforeFirstPoll(t *testing.T) {
	r, err := New("c1", &fakeSyncer{}, time.Minute)
	require.NoError(t, err)

	events, ok := r.Snapshot()
	assert.False(t, ok)
	assert.Nil(t, events)
	_, ok = r.LastSuccess()
	assert.False(t, ok)
	assert.False(t, r.Available())
	assert.NoError(t, r.LastError())
}

func TestRefreshReplacesSnapshotOnSuccess(t *testing.T) {
	syncer := &fakeSyncer{}
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r, err := New("c1", syncer, time.Minute, WithClock(fixedClock(at)))
	require.NoError(t, err)

	syncer.set([]timetree.RawEvent{{UUID: "a"}, {UUID: "b"}}, nil)
	require.NoError(t, r.Refresh(context.Background()))

	events, ok := r.Snapshot()
	require.True(t, ok)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].UID)
	assert.Equal(t, "No Title", events[0].Summary)
	last, ok := r.LastSuccess()
	require.True(t, ok)
	assert.Equal(t, at, last)
	assert.True(t, r.Available())

	syncer.set([]timetree.RawEvent{{UUID: "c"}}, nil)
	require.NoError(t, r.Refresh(context.Background()))
	events, _ = r.Snapshot()
	require.Len(t, events, 1, "snapshot is replaced wholesale")
	assert.Equal(t, "c", events[0].UID)
}

func TestRefreshFailureKeepsStaleSnapshot(t *testing.T) {
	syncer := &fakeSyncer{}
	first := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := first
	r, err := New("c1", syncer, time.Minute, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)

	syncer.set([]timetree.RawEvent{{UUID: "a"}}, nil)
	require.NoError(t, r.Refresh(context.Background()))

	cause := &timetree.APIError{Op: "sync events", StatusCode: 500, Body: "oops"}
	syncer.set(nil, cause)
	clock = first.Add(time.Hour)
	err = r.Refresh(context.Background())
	require.Error(t, err)

	var uf *UpdateFailedError
	require.ErrorAs(t, err, &uf)
	assert.Equal(t, "c1", uf.CalendarID)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "error communicating with API")

	events, ok := r.Snapshot()
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].UID)
	last, _ := r.LastSuccess()
	assert.Equal(t, first, last, "success time is not advanced on failure")
	assert.False(t, r.Available())
	assert.Equal(t, err, r.LastError())

	syncer.set([]timetree.RawEvent{}, nil)
	require.NoError(t, r.Refresh(context.Background()))
	assert.True(t, r.Available())
	assert.NoError(t, r.LastError())
}

func TestRefreshRecordsMetrics(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	syncer := &fakeSyncer{}
	r, err := New("c1", syncer, time.Minute, WithMetrics(m))
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		_ = r.Refresh(context.Background())
		syncer.set(nil, errors.New("down"))
		_ = r.Refresh(context.Background())
	})
}

func TestRefreshNeverOverlaps(t *testing.T) {
	syncer := &fakeSyncer{delay: 20 * time.Millisecond}
	r, err := New("c1", syncer, time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Refresh(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, syncer.callCount())
	assert.EqualValues(t, 1, syncer.maxInFlight.Load())
}

func TestStartPollsOnSchedule(t *testing.T) {
	syncer := &fakeSyncer{}
	syncer.set([]timetree.RawEvent{{UUID: "a"}}, nil)
	r, err := New("c1", syncer, time.Second)
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "second start is rejected")

	require.Eventually(t, func() bool {
		_, ok := r.Snapshot()
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	r.Stop()
	calls := syncer.callCount()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, calls, syncer.callCount(), "no polls after Stop")

	// Stop is idempotent.
	r.Stop()
}
