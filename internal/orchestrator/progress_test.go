package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("subscription channel was not closed")
			return out
		}
	}
}

func TestBroadcaster_DeliversInOrder(t *testing.T) {
	b := NewBroadcaster(16)
	sub := b.Subscribe("s1")

	b.Publish(Event{Kind: EventStageStarted, SessionID: "s1", Stage: "lookup", Attempt: 1})
	b.Publish(Event{Kind: EventStageCompleted, SessionID: "s1", Stage: "lookup"})
	b.Publish(Event{Kind: EventWorkflowCompleted, SessionID: "s1"})
	b.CloseSession("s1")

	got := collect(t, sub)
	require.Len(t, got, 3)
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.False(t, ev.Time.IsZero())
	}
	assert.Equal(t, EventWorkflowCompleted, got[2].Kind)
}

func TestBroadcaster_SessionsAreIndependent(t *testing.T) {
	b := NewBroadcaster(4)
	a := b.Subscribe("a")
	c := b.Subscribe("c")

	b.Publish(Event{Kind: EventStageStarted, SessionID: "a"})
	b.Publish(Event{Kind: EventStageStarted, SessionID: "c"})
	b.Publish(Event{Kind: EventStageStarted, SessionID: "c"})
	b.CloseSession("a")
	b.CloseSession("c")

	assert.Len(t, collect(t, a), 1)
	gotC := collect(t, c)
	require.Len(t, gotC, 2)
	assert.Equal(t, uint64(2), gotC[1].Seq)
}

func TestBroadcaster_SlowSubscriberGetsGapMarker(t *testing.T) {
	const total = 50
	b := NewBroadcaster(4)
	slow := b.Subscribe("s1")
	fast := b.Subscribe("s1")

	// The fast subscriber consumes every event before the next is published;
	// the slow one reads nothing until the session closes.
	var fastGot []Event
	for i := 0; i < total; i++ {
		b.Publish(Event{Kind: EventStageStarted, SessionID: "s1", Attempt: i + 1})
		select {
		case ev := <-fast.Events():
			fastGot = append(fastGot, ev)
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved")
		}
	}
	b.CloseSession("s1")

	require.Len(t, fastGot, total)
	for i, ev := range fastGot {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.NotEqual(t, EventStreamGap, ev.Kind)
	}
	assert.Empty(t, collect(t, fast))

	slowGot := collect(t, slow)
	delivered, dropped, gaps := 0, 0, 0
	var lastSeq uint64
	for _, ev := range slowGot {
		assert.Greater(t, ev.Seq, lastSeq, "sequence numbers stay increasing across gaps")
		lastSeq = ev.Seq
		if ev.Kind == EventStreamGap {
			gaps++
			dropped += ev.Dropped
			continue
		}
		delivered++
	}
	assert.GreaterOrEqual(t, gaps, 1)
	assert.Equal(t, total, delivered+dropped, "every event is either delivered or counted by a gap")
	assert.LessOrEqual(t, delivered, 4+1)
	assert.Equal(t, uint64(total), slowGot[len(slowGot)-1].Seq, "the newest event survives")
}

func TestEngine_StalledSubscriberDoesNotStallSession(t *testing.T) {
	cfg := testConfig()
	cfg.EventBuffer = 2
	e, r := newTestEngine(t, cfg)

	var stages []StageDescriptor
	for i := 1; i <= 6; i++ {
		name := fmt.Sprintf("step-%d", i)
		r.RegisterAgent(name, AgentFunc(func(ctx context.Context, _ map[string]any, _ WorkflowState) (map[string]any, error) {
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return map[string]any{"step": name}, nil
		}))
		stages = append(stages, StageDescriptor{Name: name, Requires: []string{KeyInput}})
	}
	require.NoError(t, r.RegisterRoute(IntentSimpleLookup, stages...))
	// Six stages publish a start and a completion each, plus the final event.
	const published = 13

	id, err := e.StartSession(context.Background())
	require.NoError(t, err)
	stalled, err := e.Subscribe(id)
	require.NoError(t, err)
	live, err := e.Subscribe(id)
	require.NoError(t, err)

	liveEvents := make(chan []Event, 1)
	go func() {
		var got []Event
		for ev := range live.Events() {
			got = append(got, ev)
		}
		liveEvents <- got
	}()

	require.NoError(t, e.SubmitInput(context.Background(), id, lookupInput))
	waitPhase(t, e, id, PhaseComplete)

	var seen []Event
	select {
	case seen = <-liveEvents:
	case <-time.After(3 * time.Second):
		t.Fatal("live subscriber stream did not close")
	}
	require.Len(t, seen, published)
	for i, ev := range seen {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.NotEqual(t, EventStreamGap, ev.Kind)
	}
	assert.Equal(t, EventWorkflowCompleted, seen[len(seen)-1].Kind)

	lagging := collect(t, stalled)
	require.NotEmpty(t, lagging)
	delivered, dropped, gaps := 0, 0, 0
	for _, ev := range lagging {
		if ev.Kind == EventStreamGap {
			gaps++
			dropped += ev.Dropped
			continue
		}
		delivered++
	}
	assert.Positive(t, gaps, "the stalled subscriber is told about lost events")
	assert.Equal(t, published, delivered+dropped)
	assert.Equal(t, EventWorkflowCompleted, lagging[len(lagging)-1].Kind)
}

func TestBroadcaster_PublishNeverBlocks(t *testing.T) {
	b := NewBroadcaster(2)
	_ = b.Subscribe("s1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(Event{Kind: EventStageStarted, SessionID: "s1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a subscriber that never reads")
	}
}

func TestSubscription_CloseReleases(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe("s1")
	b.Publish(Event{Kind: EventStageStarted, SessionID: "s1"})
	sub.Close()
	sub.Close()

	assert.Equal(t, 0, b.Subscribers("s1"))
	for range sub.Events() {
	}
	b.Publish(Event{Kind: EventStageCompleted, SessionID: "s1"})
}

func TestBroadcaster_SubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster(4)
	b.CloseSession("s1")
	sub := b.Subscribe("s1")
	assert.Empty(t, collect(t, sub))
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Kind: EventStageStarted, Stage: "fetch-sheet", Attempt: 1}, "  ● fetch-sheet..."},
		{Event{Kind: EventStageStarted, Stage: "fetch-sheet", Attempt: 2}, "  ● fetch-sheet (attempt 2)..."},
		{Event{Kind: EventStageCompleted, Stage: "fetch-sheet"}, "  ✓ fetch-sheet complete"},
		{Event{Kind: EventStreamGap, Dropped: 3}, "  … 3 events dropped"},
		{Event{Kind: EventWorkflowCompleted}, "  ✓ workflow complete"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatEvent(tt.ev))
	}
}
