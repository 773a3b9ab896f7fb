package prepqueue

import (
	"testing"
	"time"
)

func newTestQueue(start time.Time) (*Queue, *time.Time) {
	q := NewQueue()
	now := start
	q.now = func() time.Time { return now }
	return q, &now
}

func TestDequeueReturnsHighestPriorityFIFO(t *testing.T) {
	q, now := newTestQueue(time.Now())

	q.Enqueue(Request{MeetingID: "m1", Priority: Background})
	*now = now.Add(2 * time.Minute)
	q.Enqueue(Request{MeetingID: "m2", Priority: Manual})
	q.Enqueue(Request{MeetingID: "m3", Priority: Manual})

	if got := q.Dequeue(); got == nil || got.MeetingID != "m2" {
		t.Fatalf("first dequeue = %+v, want m2 (manual, FIFO)", got)
	}
	if got := q.Dequeue(); got == nil || got.MeetingID != "m3" {
		t.Fatalf("second dequeue = %+v, want m3", got)
	}
	if got := q.Dequeue(); got == nil || got.MeetingID != "m1" {
		t.Fatalf("third dequeue = %+v, want m1", got)
	}
	if q.Dequeue() != nil {
		t.Fatal("queue should be empty")
	}
}

func TestDedupKeepsHigherPriority(t *testing.T) {
	q, _ := newTestQueue(time.Now())

	q.Enqueue(Request{MeetingID: "m1", Priority: Background})
	q.Enqueue(Request{MeetingID: "m1", Priority: Manual})

	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1 (deduped)", q.Len())
	}
	got := q.Dequeue()
	if got.Priority != Manual {
		t.Errorf("priority = %v, want Manual (upgraded)", got.Priority)
	}
}

func TestDedupDoesNotDowngrade(t *testing.T) {
	q, now := newTestQueue(time.Now())

	q.Enqueue(Request{MeetingID: "m1", Priority: Manual})
	*now = now.Add(2 * time.Minute)
	q.Enqueue(Request{MeetingID: "m1", Priority: Background})

	got := q.Dequeue()
	if got.Priority != Manual {
		t.Errorf("priority = %v, want Manual retained", got.Priority)
	}
	if q.Len() != 0 {
		t.Errorf("len = %d, want 0", q.Len())
	}
}

func TestDebounceDropsRepeatBackgroundWithinWindow(t *testing.T) {
	q, now := newTestQueue(time.Now())

	q.Enqueue(Request{MeetingID: "m1", Priority: Background})
	if q.Dequeue() == nil {
		t.Fatal("expected first request")
	}

	// 30s later: still inside the window, repeat is dropped.
	*now = now.Add(30 * time.Second)
	q.Enqueue(Request{MeetingID: "m1", Priority: Background})
	if q.Len() != 0 {
		t.Fatalf("len = %d, want 0 (debounced)", q.Len())
	}

	// Past the window it enqueues again.
	*now = now.Add(debounceWindow)
	q.Enqueue(Request{MeetingID: "m1", Priority: Background})
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1 after window", q.Len())
	}
}

func TestManualBypassesDebounce(t *testing.T) {
	q, now := newTestQueue(time.Now())

	q.Enqueue(Request{MeetingID: "m1", Priority: Background})
	if q.Dequeue() == nil {
		t.Fatal("expected first request")
	}
	*now = now.Add(5 * time.Second)
	q.Enqueue(Request{MeetingID: "m1", Priority: Manual})
	if q.Len() != 1 {
		t.Fatalf("manual enqueue must bypass debounce, len = %d", q.Len())
	}
}

func TestInvalidationFlagSticksThroughDedup(t *testing.T) {
	q, now := newTestQueue(time.Now())

	q.Enqueue(Request{MeetingID: "m1", Priority: PageLoad})
	*now = now.Add(2 * time.Minute)
	q.EnqueueInvalidation("m1")

	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
	got := q.Dequeue()
	if !got.Invalidated {
		t.Error("invalidation flag should merge into pending entry")
	}
	if got.Priority != PageLoad {
		t.Errorf("priority = %v, want PageLoad retained", got.Priority)
	}
}

func TestInvalidationEnqueuesOnceWithin100ms(t *testing.T) {
	q, _ := newTestQueue(time.Now())

	q.EnqueueInvalidation("m1")
	q.EnqueueInvalidation("m1")
	if q.Len() != 1 {
		t.Fatalf("len = %d, want exactly 1", q.Len())
	}
}

func TestPruneStaleDropsOldDebounceEntries(t *testing.T) {
	q, now := newTestQueue(time.Now())

	q.Enqueue(Request{MeetingID: "m1", Priority: Background})
	q.Dequeue()

	*now = now.Add(debounceStaleAfter + time.Second)
	if pruned := q.PruneStale(); pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	// After pruning, the debounce memory is gone.
	q.Enqueue(Request{MeetingID: "m1", Priority: Background})
	if q.Len() != 1 {
		t.Error("enqueue after prune should not be debounced")
	}
}
