package runtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchwork-dev/patchwork/runtime/dispatch"
)

func newNopQueue() *dispatch.SerialQueue {
	return dispatch.NewSerialQueue("test")
}

func newTestState() (*State, *CompositionState) {
	st := NewState(nil)
	cs := NewCompositionState(st, "Top")
	return st, cs
}

func TestEventIDsAreFreshAndMonotonic(t *testing.T) {
	st, _ := newTestState()
	a := st.NextEventID()
	b := st.NextEventID()
	assert.Less(t, a, b)
	assert.NotEqual(t, NoEventID, a)
}

func TestLockNode_ReentrantPerEvent(t *testing.T) {
	st, cs := newTestState()
	st.SetNodeContext(cs, 0, NewNodeContext())

	st.LockNode(cs, 0, 7)
	// The same event claims the node again without blocking.
	done := make(chan struct{})
	go func() {
		st.LockNode(cs, 0, 7)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("same-event lock should be reentrant")
	}

	st.UnlockNode(cs, 0)
}

func TestLockNodes_GlobalOrder(t *testing.T) {
	st, cs := newTestState()
	for i := uint64(0); i < 3; i++ {
		st.SetNodeContext(cs, i, NewNodeContext())
	}

	// Two contenders locking overlapping sets in any given order must not
	// deadlock, because LockNodes sorts by index.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 50; round++ {
				eventID := st.NextEventID()
				if i == 0 {
					st.LockNodes(cs, []uint64{2, 0, 1}, eventID)
				} else {
					st.LockNodes(cs, []uint64{1, 2, 0}, eventID)
				}
				st.UnlockNodes(cs, []uint64{0, 1, 2})
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("lock contention deadlocked")
	}
}

func TestExecutingEventTracking(t *testing.T) {
	ctx := NewCompositionContext(1)

	assert.Equal(t, NoEventID, ctx.OneExecutingEvent())

	ctx.StartedExecutingEvent(5)
	assert.Equal(t, uint64(5), ctx.OneExecutingEvent())

	// A spun-off descendant keeps the group open.
	ctx.SpunOffExecutingEvent(6)

	waited := make(chan struct{})
	go func() {
		ctx.ExecutingGroup.Wait()
		close(waited)
	}()

	require.True(t, ctx.FinishedExecutingEvent(5))
	select {
	case <-waited:
		t.Fatalf("group should stay open until the descendant finishes")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, ctx.FinishedExecutingEvent(6))
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatalf("group should close after all events finish")
	}

	assert.False(t, ctx.FinishedExecutingEvent(99), "untracked events report false")
}

func TestSpunOffWithoutExecutingEventIsIgnored(t *testing.T) {
	ctx := NewCompositionContext(0)
	ctx.SpunOffExecutingEvent(3)
	assert.Equal(t, NoEventID, ctx.OneExecutingEvent())
	assert.False(t, ctx.FinishedExecutingEvent(3))
}

func TestThreadManager_DefersChainOnUpstream(t *testing.T) {
	st, cs := newTestState()
	tm := st.Threads()

	var mu sync.Mutex
	var ran []int
	record := func(i int) WorkerFunc {
		return func(any) {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		}
	}

	// Roster with two chains; chain 1 depends on chain 0.
	tm.ScheduleTriggerWorker(cs, newNopQueue(), nil, func(any) {}, 1, 1, 42, 2)

	tm.ScheduleChainWorker(cs, nil, record(1), 1, 1, 42, 1, []int{0})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Empty(t, ran, "chain 1 must wait for chain 0")
	mu.Unlock()

	tm.ScheduleChainWorker(cs, nil, record(0), 1, 1, 42, 0, nil)
	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 1
	})
	tm.ReturnThreadsForChainWorker(cs, 42, 0)

	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 2
	})
	mu.Lock()
	assert.Equal(t, []int{0, 1}, ran)
	mu.Unlock()

	tm.ReturnThreadsForChainWorker(cs, 42, 1)
}

func TestThreadManager_EventFinishedAfterLastChain(t *testing.T) {
	st, cs := newTestState()
	rec := NewTelemetryRecorder()
	st.Telemetry().AddSink(rec)
	tm := st.Threads()

	tm.ScheduleTriggerWorker(cs, newNopQueue(), nil, func(any) {}, 1, 1, 9, 2)
	tm.ReturnThreadsForChainWorker(cs, 9, 0)

	for _, ev := range rec.Events() {
		if _, ok := ev.(EventFinished); ok {
			t.Fatalf("EventFinished before the last chain returned")
		}
	}

	tm.ReturnThreadsForChainWorker(cs, 9, 1)
	waitUntil(t, func() bool {
		for _, ev := range rec.Events() {
			if fin, ok := ev.(EventFinished); ok && fin.EventID == 9 {
				return true
			}
		}
		return false
	})
}

func TestTelemetryDispatcher_PortDataSubscriptions(t *testing.T) {
	d := NewTelemetryDispatcher()

	assert.False(t, d.ShouldSendPortDataTelemetry("Node__port"))

	d.SubscribePortData("Node__port")
	assert.True(t, d.ShouldSendPortDataTelemetry("Node__port"))
	assert.False(t, d.ShouldSendPortDataTelemetry("Other__port"))

	d.SubscribePortData("")
	assert.True(t, d.ShouldSendPortDataTelemetry("Other__port"))

	d.UnsubscribePortData("")
	d.UnsubscribePortData("Node__port")
	assert.False(t, d.ShouldSendPortDataTelemetry("Node__port"))
}

func TestRefLedgerBalance(t *testing.T) {
	l := NewRefLedger()
	l.Retain("pw.integer", int64(5))
	l.Retain("pw.integer", int64(5))
	assert.Equal(t, 2, l.Count("pw.integer", int64(5)))
	assert.False(t, l.Balanced())

	l.Release("pw.integer", int64(5))
	l.Release("pw.integer", int64(5))
	assert.True(t, l.Balanced())
	assert.Equal(t, 0, l.Outstanding())
}

func TestThreadLocalCompositionState(t *testing.T) {
	_, cs := newTestState()

	AddCompositionStateToThreadLocalStorage(cs)
	assert.Equal(t, cs, CompositionStateFromThreadLocalStorage())
	RemoveCompositionStateFromThreadLocalStorage()
	assert.Nil(t, CompositionStateFromThreadLocalStorage())

	// Another goroutine has its own slot.
	done := make(chan *CompositionState)
	AddCompositionStateToThreadLocalStorage(cs)
	go func() {
		done <- CompositionStateFromThreadLocalStorage()
	}()
	assert.Nil(t, <-done)
	RemoveCompositionStateFromThreadLocalStorage()
}

func TestLiveEditGates(t *testing.T) {
	st, cs := newTestState()

	assert.False(t, st.IsNodeBeingAddedOrReplaced(cs, "N"))
	st.SetNodeBeingAddedOrReplaced("Top/N", true)
	assert.True(t, st.IsNodeBeingAddedOrReplaced(cs, "N"))
	st.SetNodeBeingAddedOrReplaced("Top/N", false)
	assert.False(t, st.IsNodeBeingAddedOrReplaced(cs, "N"))

	st.SetNodeBeingRemovedOrReplaced("Top/M", true)
	assert.True(t, st.IsNodeBeingRemovedOrReplaced(cs, "M"))
}

func TestPauseIsIdempotent(t *testing.T) {
	st, _ := newTestState()
	assert.False(t, st.IsPaused())
	st.Pause()
	st.Pause()
	assert.True(t, st.IsPaused())
	st.Unpause()
	assert.False(t, st.IsPaused())
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
