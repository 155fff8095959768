// Package bus fans progress events out to subscribers, one topic per plan.
//
// Subscribing replays the retained history first, so a client that connects
// mid-run still sees every stage transition so far. Topics are swept a fixed
// interval after their terminal event.
package bus

import (
	"sync"
	"time"

	"github.com/houghtp/terra-automation-platform-sub002/internal/otel"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

// Bus routes events by plan ID.
type Bus struct {
	mu        sync.RWMutex
	topics    map[string]*topic
	retention time.Duration
	buffer    int
	done      chan struct{}
	closeOnce sync.Once
}

type topic struct {
	subs    map[chan models.Event]struct{}
	history []models.Event
	// endedAt is set when the terminal event is published; the sweeper
	// removes the topic retention after this instant.
	endedAt time.Time
}

// New creates a bus. retention bounds how long a finished plan's history stays
// replayable; buffer is the per-subscriber channel depth.
func New(retention time.Duration, buffer int) *Bus {
	if buffer <= 0 {
		buffer = models.DefaultSubscriberBuffer
	}
	b := &Bus{
		topics:    make(map[string]*topic),
		retention: retention,
		buffer:    buffer,
		done:      make(chan struct{}),
	}
	if retention > 0 {
		go b.sweep()
	}
	return b
}

// Close stops the retention sweeper and closes every subscriber channel.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		for ch := range t.subs {
			close(ch)
			otel.RemoveSubscriber()
		}
		t.subs = make(map[chan models.Event]struct{})
	}
}

// Publish appends ev to its plan's history and delivers it to subscribers.
// A slow subscriber loses its oldest buffered event, never the new one, so
// the terminal event always lands. Terminal events close the topic: every
// subscriber channel is closed after delivery.
func (b *Bus) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	terminal := ev.Terminal()

	b.mu.Lock()
	t, ok := b.topics[ev.PlanID]
	if !ok {
		t = &topic{subs: make(map[chan models.Event]struct{})}
		b.topics[ev.PlanID] = t
	} else if !t.endedAt.IsZero() && !terminal {
		// A non-terminal event after the terminal one means the plan was
		// re-run; the old stream's history must not leak into the new run.
		t.history = nil
		t.endedAt = time.Time{}
	}
	t.history = append(t.history, ev)
	if terminal {
		t.endedAt = time.Now()
	}
	for ch := range t.subs {
		deliver(ch, ev)
		if terminal {
			close(ch)
			otel.RemoveSubscriber()
		}
	}
	if terminal {
		t.subs = make(map[chan models.Event]struct{})
	}
	b.mu.Unlock()

	otel.RecordEvent(ev.Stage)
}

// deliver pushes ev onto ch, evicting the oldest buffered event when full.
func deliver(ch chan models.Event, ev models.Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// Subscribe returns a channel carrying the plan's retained history followed by
// live events, and a cancel function. If the plan already finished, the full
// history is replayed and the channel is closed immediately. Cancel is safe to
// call more than once and after the terminal event.
func (b *Bus) Subscribe(planID string) (<-chan models.Event, func()) {
	ch := make(chan models.Event, b.buffer)

	b.mu.Lock()
	t, ok := b.topics[planID]
	if !ok {
		t = &topic{subs: make(map[chan models.Event]struct{})}
		b.topics[planID] = t
	}
	for _, ev := range t.history {
		deliver(ch, ev)
	}
	ended := !t.endedAt.IsZero()
	if ended {
		close(ch)
	} else {
		t.subs[ch] = struct{}{}
	}
	b.mu.Unlock()

	otel.AddSubscriber()
	if ended {
		otel.RemoveSubscriber()
		return ch, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, live := t.subs[ch]; live {
				delete(t.subs, ch)
				close(ch)
				otel.RemoveSubscriber()
			}
			// A topic that never published and now has no subscribers holds
			// nothing replayable; drop it so subscribes to unknown plan IDs
			// cannot accumulate. The pointer check guards against a newer
			// topic created under the same ID.
			if len(t.subs) == 0 && len(t.history) == 0 && b.topics[planID] == t {
				delete(b.topics, planID)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// History returns a copy of the retained events for a plan.
func (b *Bus) History(planID string) []models.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[planID]
	if !ok {
		return nil
	}
	out := make([]models.Event, len(t.history))
	copy(out, t.history)
	return out
}

func (b *Bus) sweep() {
	ticker := time.NewTicker(b.retention / 2)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for id, t := range b.topics {
				if !t.endedAt.IsZero() && now.Sub(t.endedAt) >= b.retention {
					delete(b.topics, id)
				}
			}
			b.mu.Unlock()
		}
	}
}
