package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *stubSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

var testRun = UUIDToBytes(uuid.MustParse("0190c2a4-0000-7000-8000-000000000001"))

func taskEvent(url string) Event {
	return Event{RunID: testRun, TS: time.Now(), Stage: StageTaskDone, URL: url, Outcome: "success", Attempts: 1}
}

func runEvent(stage Stage) Event {
	return Event{RunID: testRun, TS: time.Now(), Stage: stage}
}

func TestHubDeliversWhenBatchIsFull(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatch: 2, FlushEvery: time.Hour}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-a-1/"))
	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-b-2/"))

	require.Eventually(t, func() bool { return len(sink.events()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sink.batchCount())
}

func TestHubDeliversOnTick(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatch: 100, FlushEvery: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-a-1/"))
	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubLifecycleEventsDeliverImmediately(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatch: 100, FlushEvery: time.Hour}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-a-1/"))
	hub.Emit(runEvent(StageRunDone))

	require.Eventually(t, func() bool { return len(sink.events()) == 2 }, time.Second, 5*time.Millisecond)
	got := sink.events()
	assert.Equal(t, StageTaskDone, got[0].Stage)
	assert.Equal(t, StageRunDone, got[1].Stage)
}

func TestHubFlush(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatch: 100, FlushEvery: time.Hour}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	for _, u := range []string{
		"https://www.opencare.com/dentists/dr-a-1/",
		"https://www.opencare.com/dentists/dr-b-2/",
		"https://www.opencare.com/dentists/dr-c-3/",
	} {
		hub.Emit(taskEvent(u))
	}
	require.NoError(t, hub.Flush(context.Background()))
	assert.Len(t, sink.events(), 3)
	assert.Equal(t, Stats{Accepted: 3, Delivered: 3}, hub.Stats())
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatch: 100, FlushEvery: time.Hour}, sink)

	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-a-1/"))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	assert.Len(t, sink.events(), 1)
	assert.True(t, sink.closed)

	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-b-2/"))
	assert.Equal(t, int64(1), hub.Stats().Accepted)
	require.NoError(t, hub.Flush(context.Background()))
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageRunStart})
	bad := taskEvent("")
	hub.Emit(bad)
	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-a-1/"))

	require.NoError(t, hub.Close(context.Background()))
	assert.Len(t, sink.events(), 1)
}

// newStalledHub returns a Hub whose delivery loop is not running.
func newStalledHub(buffer int) *Hub {
	return &Hub{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		logger: zap.NewNop(),
	}
}

func TestHubDropsTaskEventsWhenFull(t *testing.T) {
	t.Parallel()

	hub := newStalledHub(1)
	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-a-1/"))
	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-b-2/"))
	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-c-3/"))

	assert.Equal(t, Stats{Accepted: 1, Dropped: 2}, hub.Stats())
}

func TestHubLifecycleEventsWaitForRoom(t *testing.T) {
	t.Parallel()

	hub := newStalledHub(1)
	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-a-1/"))

	emitted := make(chan struct{})
	go func() {
		hub.Emit(runEvent(StageRunDone))
		close(emitted)
	}()

	select {
	case <-emitted:
		t.Fatal("lifecycle event should wait while the buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	first := <-hub.events
	assert.Equal(t, StageTaskDone, first.Stage)
	<-emitted
	last := <-hub.events
	assert.Equal(t, StageRunDone, last.Stage)
	assert.Equal(t, Stats{Accepted: 2}, hub.Stats())
}

func TestNilHub(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(taskEvent("https://www.opencare.com/dentists/dr-a-1/"))
	require.NoError(t, hub.Flush(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	assert.Equal(t, Stats{}, hub.Stats())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, runEvent(StageRunDone).Validate())
	require.NoError(t, taskEvent("https://www.opencare.com/dentists/dr-a-1/").Validate())

	evt := runEvent(StageRunStart)
	evt.Stage = "BOGUS"
	require.Error(t, evt.Validate())

	evt = taskEvent("https://www.opencare.com/dentists/dr-a-1/")
	evt.Attempts = -1
	require.Error(t, evt.Validate())

	evt = runEvent(StageRunDone)
	evt.Dur = -time.Second
	require.Error(t, evt.Validate())

	evt = runEvent(StageRunDone)
	evt.TS = time.Time{}
	require.Error(t, evt.Validate())

	id := uuid.New()
	require.Equal(t, id, Event{RunID: UUIDToBytes(id)}.RunUUID())
}

func TestStageLifecycle(t *testing.T) {
	t.Parallel()

	assert.True(t, StageRunStart.Lifecycle())
	assert.True(t, StageRunDone.Lifecycle())
	assert.True(t, StageRunError.Lifecycle())
	assert.False(t, StageTaskDone.Lifecycle())
	assert.False(t, StageTaskFailed.Lifecycle())
}
