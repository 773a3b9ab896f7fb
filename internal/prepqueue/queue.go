// Package prepqueue generates mechanical meeting-prep artifacts in the
// background: a priority-ordered, deduplicated queue feeding a
// processor that assembles entity vitals, signals, captures, and content
// highlights into a frozen prep JSON — no AI call on this path.
package prepqueue

import (
	"container/list"
	"sync"
	"time"
)

// Priority orders prep requests. Higher value wins at dequeue.
type Priority int

const (
	// Background is pre-generation from workflows and invalidation.
	Background Priority = iota
	// PageLoad is the user opening a view whose meeting lacks prep.
	PageLoad
	// Manual is an explicit refresh click.
	Manual
)

func (p Priority) String() string {
	switch p {
	case Manual:
		return "manual"
	case PageLoad:
		return "page_load"
	default:
		return "background"
	}
}

// debounceWindow suppresses repeat Background/PageLoad enqueues for the
// same meeting.
const debounceWindow = 60 * time.Second

// debounceStaleAfter bounds how long debounce-tracker entries survive
// before the periodic prune drops them.
const debounceStaleAfter = 600 * time.Second

// Request asks for prep generation on one meeting.
type Request struct {
	MeetingID   string
	Priority    Priority
	RequestedAt time.Time
	// Invalidated forces regeneration even when a frozen prep exists.
	Invalidated bool
}

// Queue is a thread-safe priority queue with dedup and debounce.
type Queue struct {
	mu           sync.Mutex
	entries      *list.List // of *Request, FIFO within priority
	lastEnqueued map[string]time.Time
	now          func() time.Time
}

// NewQueue creates an empty prep queue.
func NewQueue() *Queue {
	return &Queue{
		entries:      list.New(),
		lastEnqueued: make(map[string]time.Time),
		now:          time.Now,
	}
}

// Enqueue adds a request, deduplicating by meeting ID (higher priority
// wins; an invalidated flag is sticky) and debouncing non-manual
// requests inside the debounce window.
func (q *Queue) Enqueue(req Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = now
	}

	if req.Priority != Manual {
		if last, ok := q.lastEnqueued[req.MeetingID]; ok && now.Sub(last) < debounceWindow {
			// Within the debounce window a repeat enqueue still merges its
			// invalidation flag into a pending entry, but adds no work.
			if req.Invalidated {
				for e := q.entries.Front(); e != nil; e = e.Next() {
					if r := e.Value.(*Request); r.MeetingID == req.MeetingID {
						r.Invalidated = true
					}
				}
			}
			return
		}
	}

	for e := q.entries.Front(); e != nil; e = e.Next() {
		r := e.Value.(*Request)
		if r.MeetingID != req.MeetingID {
			continue
		}
		if req.Priority > r.Priority {
			r.Priority = req.Priority
		}
		if req.Invalidated {
			r.Invalidated = true
		}
		q.lastEnqueued[req.MeetingID] = now
		return
	}

	cp := req
	q.entries.PushBack(&cp)
	q.lastEnqueued[req.MeetingID] = now
}

// EnqueueInvalidation is the propagation engine's side-channel entry
// point: Background priority, unconditional regeneration.
func (q *Queue) EnqueueInvalidation(meetingID string) {
	q.Enqueue(Request{MeetingID: meetingID, Priority: Background, Invalidated: true})
}

// Dequeue removes and returns the single highest-priority request; ties
// break FIFO. Returns nil when the queue is empty.
func (q *Queue) Dequeue() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *list.Element
	for e := q.entries.Front(); e != nil; e = e.Next() {
		if best == nil || e.Value.(*Request).Priority > best.Value.(*Request).Priority {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	q.entries.Remove(best)
	return best.Value.(*Request)
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// PruneStale drops debounce-tracker entries older than the stale bound.
// The processor calls this roughly once a minute.
func (q *Queue) PruneStale() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	pruned := 0
	for id, at := range q.lastEnqueued {
		if now.Sub(at) >= debounceStaleAfter {
			delete(q.lastEnqueued, id)
			pruned++
		}
	}
	return pruned
}
