package sensorsync

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lanegen/internal/depth"
	"github.com/banshee-data/lanegen/internal/monitoring"
	"github.com/banshee-data/lanegen/internal/timeutil"
)

func muteLogs(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func push(t *testing.T, s *Stream, ticks ...uint64) {
	t.Helper()
	for _, tick := range ticks {
		require.NoError(t, s.Push(Sample{Tick: tick}))
	}
}

func TestStream_DropsOlderSamples(t *testing.T) {
	s := NewStream("rgb", 0, timeutil.NewMockClock(time.Unix(0, 0)))
	push(t, s, 1, 2, 3)

	got, err := s.Await(context.Background(), 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Tick)
	assert.Equal(t, 0, s.Len())
}

func TestStream_MissedTickKeepsNewerSample(t *testing.T) {
	muteLogs(t)
	s := NewStream("depth", 0, timeutil.NewMockClock(time.Unix(0, 0)))
	push(t, s, 5)

	_, err := s.Await(context.Background(), 4, time.Second)
	require.ErrorIs(t, err, ErrMissedTick)
	assert.Equal(t, 1, s.Len())

	got, err := s.Await(context.Background(), 5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Tick)
}

func TestStream_Timeout(t *testing.T) {
	muteLogs(t)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewStream("segmentation", 0, clock)
	push(t, s, 1)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Await(context.Background(), 2, 2*time.Second)
		errc <- err
	}()

	waitFor(t, func() bool { return clock.PendingTimers() == 1 })
	clock.Advance(time.Second)
	select {
	case err := <-errc:
		t.Fatalf("returned before the deadline: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Second)
	err := <-errc
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, s.Len(), "the stale sample is discarded")
}

func TestStream_WakesOnPush(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewStream("rgb", 0, clock)

	type result struct {
		sample Sample
		err    error
	}
	done := make(chan result, 1)
	go func() {
		sample, err := s.Await(context.Background(), 7, time.Second)
		done <- result{sample, err}
	}()

	waitFor(t, func() bool { return clock.PendingTimers() == 1 })
	push(t, s, 6, 7)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, uint64(7), r.sample.Tick)
	assert.Equal(t, 0, clock.PendingTimers(), "timer stopped on return")
}

func TestStream_ContextCancel(t *testing.T) {
	s := NewStream("rgb", 0, timeutil.NewMockClock(time.Unix(0, 0)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Await(ctx, 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_CapacityDropsOldest(t *testing.T) {
	s := NewStream("rgb", 2, nil)
	push(t, s, 1, 2, 3)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.Dropped())

	got, err := s.Await(context.Background(), 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Tick)
}

func TestStream_Close(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewStream("rgb", 0, clock)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Await(context.Background(), 1, time.Minute)
		errc <- err
	}()
	waitFor(t, func() bool { return clock.PendingTimers() == 1 })

	s.Close()
	s.Close()
	assert.ErrorIs(t, <-errc, ErrClosed)
	assert.ErrorIs(t, s.Push(Sample{Tick: 2}), ErrClosed)
}

func TestSyncer_AllStreamsAligned(t *testing.T) {
	sy := NewSyncer(0, timeutil.NewMockClock(time.Unix(0, 0)))

	dm := depth.NewMap(2, 2, 12.5)
	seg := []byte{
		0, 0, 7, 255, 0, 0, 24, 255,
		0, 0, 1, 255, 0, 0, 0, 255,
	}
	for _, tick := range []uint64{9, 10} {
		require.NoError(t, sy.RGB.Push(Sample{Tick: tick}))
		require.NoError(t, sy.Depth.Push(Sample{Tick: tick, Width: 2, Height: 2, Raw: depth.Encode(dm)}))
		require.NoError(t, sy.Segmentation.Push(Sample{Tick: tick, Width: 2, Height: 2, Raw: seg}))
	}

	b, err := sy.GetSyncedFrames(context.Background(), 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), b.Tick)

	m, err := b.DepthMap()
	require.NoError(t, err)
	assert.InDelta(t, 12.5, m.At(1, 1), 1e-3)

	classes, err := b.SegmentationClasses()
	require.NoError(t, err)
	assert.Equal(t, []uint8{7, 24, 1, 0}, classes)
}

func TestSyncer_OneStreamMissesTick(t *testing.T) {
	muteLogs(t)
	sy := NewSyncer(0, timeutil.NewMockClock(time.Unix(0, 0)))
	push(t, sy.RGB, 3)
	push(t, sy.Depth, 4)
	push(t, sy.Segmentation, 3)

	_, err := sy.GetSyncedFrames(context.Background(), 3, time.Second)
	require.ErrorIs(t, err, ErrMissedTick)
	assert.False(t, errors.Is(err, ErrTimeout))

	// The next tick is still served by the stream that ran ahead.
	push(t, sy.RGB, 4)
	push(t, sy.Segmentation, 4)
	b, err := sy.GetSyncedFrames(context.Background(), 4, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), b.Depth.Tick)
}

func TestSyncer_TimeoutJoinsErrors(t *testing.T) {
	muteLogs(t)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sy := NewSyncer(0, clock)

	errc := make(chan error, 1)
	go func() {
		_, err := sy.GetSyncedFrames(context.Background(), 1, 0)
		errc <- err
	}()
	waitFor(t, func() bool { return clock.PendingTimers() == 3 })
	clock.Advance(DefaultTimeout)

	err := <-errc
	require.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, context.Canceled)
}

func TestSyncer_MissedTickReleasesOtherStreams(t *testing.T) {
	muteLogs(t)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sy := NewSyncer(0, clock)
	push(t, sy.Depth, 8)

	errc := make(chan error, 1)
	go func() {
		_, err := sy.GetSyncedFrames(context.Background(), 7, time.Minute)
		errc <- err
	}()

	// The clock never advances: only the depth failure can end the wait.
	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrMissedTick)
		assert.NotErrorIs(t, err, ErrTimeout)
		assert.NotErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("GetSyncedFrames waited for the timeout after the tick was lost")
	}
	waitFor(t, func() bool { return clock.PendingTimers() == 0 })
	assert.Equal(t, 1, sy.Depth.Len(), "the newer depth sample stays queued")
}

func TestSyncer_ParentContextCancelled(t *testing.T) {
	sy := NewSyncer(0, timeutil.NewMockClock(time.Unix(0, 0)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sy.GetSyncedFrames(ctx, 1, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBundle_BadBuffers(t *testing.T) {
	b := Bundle{Tick: 1, Depth: Sample{Width: 2, Height: 2, Raw: []byte{1}}}
	_, err := b.DepthMap()
	assert.Error(t, err)
	_, err = b.SegmentationClasses()
	assert.Error(t, err)
}
