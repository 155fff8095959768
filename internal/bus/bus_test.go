package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

func ev(planID, stage, status string) models.Event {
	return models.Event{PlanID: planID, Stage: stage, Status: status, Timestamp: time.Now().UTC()}
}

func collect(t *testing.T, ch <-chan models.Event, n int) []models.Event {
	t.Helper()
	out := make([]models.Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestPublishSubscribe_liveDelivery(t *testing.T) {
	t.Parallel()
	b := New(time.Minute, 8)
	defer b.Close()

	ch, cancel := b.Subscribe("p1")
	defer cancel()

	b.Publish(ev("p1", models.StageGenerating, models.EventRunning))
	b.Publish(ev("p1", models.StageRefining, models.EventRunning))

	got := collect(t, ch, 2)
	if got[0].Stage != models.StageGenerating || got[1].Stage != models.StageRefining {
		t.Fatalf("events out of order: %+v", got)
	}
}

func TestSubscribe_replaysHistory(t *testing.T) {
	t.Parallel()
	b := New(time.Minute, 8)
	defer b.Close()

	b.Publish(ev("p1", models.StageResearching, models.EventRunning))
	b.Publish(ev("p1", models.StageGenerating, models.EventRunning))

	ch, cancel := b.Subscribe("p1")
	defer cancel()

	got := collect(t, ch, 2)
	if got[0].Stage != models.StageResearching || got[1].Stage != models.StageGenerating {
		t.Fatalf("replay wrong: %+v", got)
	}

	b.Publish(ev("p1", models.StageRefining, models.EventRunning))
	if more := collect(t, ch, 1); more[0].Stage != models.StageRefining {
		t.Fatalf("live event after replay: %+v", more)
	}
}

func TestPublish_isolatedPerPlan(t *testing.T) {
	t.Parallel()
	b := New(time.Minute, 8)
	defer b.Close()

	ch1, cancel1 := b.Subscribe("p1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("p2")
	defer cancel2()

	b.Publish(ev("p1", models.StageGenerating, models.EventRunning))

	if got := collect(t, ch1, 1); got[0].PlanID != "p1" {
		t.Fatalf("wrong plan: %+v", got)
	}
	select {
	case e := <-ch2:
		t.Fatalf("p2 subscriber got p1 event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTerminalEvent_closesSubscribers(t *testing.T) {
	t.Parallel()
	b := New(time.Minute, 8)
	defer b.Close()

	ch, cancel := b.Subscribe("p1")
	defer cancel()

	b.Publish(ev("p1", models.StageCompleted, models.EventSuccess))

	got := collect(t, ch, 1)
	if got[0].Stage != models.StageCompleted {
		t.Fatalf("got %+v", got)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after terminal event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after terminal event")
	}
}

func TestSubscribe_afterTerminalReplaysAndCloses(t *testing.T) {
	t.Parallel()
	b := New(time.Minute, 8)
	defer b.Close()

	b.Publish(ev("p1", models.StageGenerating, models.EventRunning))
	b.Publish(ev("p1", models.StageCompleted, models.EventSuccess))

	ch, cancel := b.Subscribe("p1")
	defer cancel()
	got := collect(t, ch, 2)
	if got[1].Stage != models.StageCompleted {
		t.Fatalf("replay after terminal: %+v", got)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed for a finished plan")
	}
}

func TestSlowSubscriber_losesOldestNeverTerminal(t *testing.T) {
	t.Parallel()
	b := New(time.Minute, 2)
	defer b.Close()

	ch, cancel := b.Subscribe("p1")
	defer cancel()

	// Fill well past the buffer without draining.
	for i := 0; i < 10; i++ {
		b.Publish(ev("p1", models.StageRefining, models.EventRunning))
	}
	b.Publish(ev("p1", models.StageCompleted, models.EventSuccess))

	var last models.Event
	for e := range ch {
		last = e
	}
	if last.Stage != models.StageCompleted {
		t.Fatalf("terminal event dropped, last = %+v", last)
	}
}

func TestRetention_sweepsFinishedTopics(t *testing.T) {
	t.Parallel()
	b := New(40*time.Millisecond, 8)
	defer b.Close()

	b.Publish(ev("p1", models.StageCompleted, models.EventSuccess))
	if len(b.History("p1")) != 1 {
		t.Fatal("history should be retained right after the terminal event")
	}

	deadline := time.After(2 * time.Second)
	for len(b.History("p1")) != 0 {
		select {
		case <-deadline:
			t.Fatal("finished topic not swept")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestCancel_dropsTopicThatNeverPublished(t *testing.T) {
	t.Parallel()
	b := New(time.Minute, 8)
	defer b.Close()

	// Subscribes to plans that never publish must not accumulate topics.
	for i := 0; i < 20; i++ {
		_, cancel := b.Subscribe(fmt.Sprintf("ghost-%d", i))
		cancel()
	}
	b.mu.Lock()
	n := len(b.topics)
	b.mu.Unlock()
	if n != 0 {
		t.Fatalf("empty topics retained after cancel: %d", n)
	}

	// A topic with history survives its last subscriber leaving.
	ch, cancel := b.Subscribe("p1")
	b.Publish(ev("p1", models.StageGenerating, models.EventRunning))
	collect(t, ch, 1)
	cancel()
	if len(b.History("p1")) != 1 {
		t.Fatal("history lost when the last subscriber cancelled")
	}
}

func TestPublish_afterTerminalStartsFreshStream(t *testing.T) {
	t.Parallel()
	b := New(time.Minute, 8)
	defer b.Close()

	b.Publish(ev("p1", models.StageGenerating, models.EventRunning))
	b.Publish(ev("p1", models.StageCompleted, models.EventSuccess))

	// A re-run publishes again; the old run's history must not replay.
	b.Publish(ev("p1", models.StageResearching, models.EventRunning))

	hist := b.History("p1")
	if len(hist) != 1 || hist[0].Stage != models.StageResearching {
		t.Fatalf("history after re-run publish: %+v", hist)
	}

	// New subscribers are live again, not closed at the old terminal event.
	ch, cancel := b.Subscribe("p1")
	defer cancel()
	collect(t, ch, 1)
	b.Publish(ev("p1", models.StageCompleted, models.EventSuccess))
	got := collect(t, ch, 1)
	if got[0].Stage != models.StageCompleted {
		t.Fatalf("live event on re-run stream: %+v", got)
	}
}

func TestCancel_idempotent(t *testing.T) {
	t.Parallel()
	b := New(time.Minute, 8)
	defer b.Close()

	_, cancel := b.Subscribe("p1")
	cancel()
	cancel()
	// Cancel after terminal close must not panic either.
	ch, cancel2 := b.Subscribe("p1")
	b.Publish(ev("p1", models.StageError, models.EventError))
	collect(t, ch, 1)
	cancel2()
}
