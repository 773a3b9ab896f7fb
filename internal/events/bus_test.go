package events

import (
	"sync"
	"testing"
	"time"
)

func prepReady(meetingID string) Event {
	return Event{
		Timestamp: time.Now(),
		Source:    SourcePrepQueue,
		Kind:      KindPrepReady,
		Data:      map[string]any{"meeting_id": meetingID},
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New()
	a := b.Subscribe(4)
	c := b.Subscribe(4)

	b.Publish(prepReady("m1"))

	for name, ch := range map[string]<-chan Event{"a": a, "c": c} {
		select {
		case e := <-ch:
			if e.Kind != KindPrepReady || e.Data["meeting_id"] != "m1" {
				t.Errorf("%s received %+v", name, e)
			}
		default:
			t.Errorf("subscriber %s received nothing", name)
		}
	}
}

func TestPublishWithNoSubscribersIsNoOp(t *testing.T) {
	b := New()
	b.Publish(prepReady("m1")) // must not panic or block
}

func TestNilBusIsSafe(t *testing.T) {
	var b *Bus
	b.Publish(prepReady("m1"))
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount on nil bus = %d", got)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)

	b.Publish(prepReady("m1"))
	b.Publish(prepReady("m2")) // buffer full: dropped

	e := <-ch
	if e.Data["meeting_id"] != "m1" {
		t.Errorf("got %v", e.Data)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected second event %v", e.Data)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe(4)
	b.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
	// A second Unsubscribe of the same channel is a no-op.
	b.Unsubscribe(ch)
}

func TestPublishAfterUnsubscribeSkipsRemoved(t *testing.T) {
	b := New()
	gone := b.Subscribe(4)
	stay := b.Subscribe(4)
	b.Unsubscribe(gone)

	b.Publish(prepReady("m9"))

	select {
	case e := <-stay:
		if e.Data["meeting_id"] != "m9" {
			t.Errorf("got %v", e.Data)
		}
	default:
		t.Error("remaining subscriber received nothing")
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := b.Subscribe(16)
			for range 50 {
				b.Publish(prepReady("mx"))
			}
			b.Unsubscribe(ch)
		}()
	}
	wg.Wait()
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d after all unsubscribed", got)
	}
}
