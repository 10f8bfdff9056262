// Package queue implements the bounded dispatch queue that hands batches of
// tailed lines from the TailManager producer to the consumer pool, the Go
// analogue of python-beaver's multiprocessing.JoinableQueue(max_queue_size).
package queue

import (
	"context"
	"errors"
	"time"
)

// Kind tags the union held by an Item.
type Kind int

const (
	// Callback carries a Batch of lines bound for a Transport.
	Callback Kind = iota
	// AddGlob announces that a glob pattern resolved to a new path set, so
	// consumers can refresh per-pattern routing state.
	AddGlob
	// Exit is the shutdown sentinel; consumers drain and terminate on it.
	Exit
)

// Batch is one flushed accumulation of lines for a single file.
type Batch struct {
	Filename    string
	Lines       []string
	Fields      map[string]string
	Timestamp   string
	AccumBytes  int
}

// AddGlobPayload is the body of an AddGlob item.
type AddGlobPayload struct {
	Pattern string
	Paths   []string
}

// Item is the tagged union carried on the dispatch queue.
type Item struct {
	Kind    Kind
	Batch   Batch
	AddGlob AddGlobPayload
}

// NewCallback wraps a batch as a Callback item.
func NewCallback(b Batch) Item { return Item{Kind: Callback, Batch: b} }

// NewAddGlob wraps a pattern/paths pair as an AddGlob item.
func NewAddGlob(pattern string, paths []string) Item {
	return Item{Kind: AddGlob, AddGlob: AddGlobPayload{Pattern: pattern, Paths: paths}}
}

// ExitItem is the singleton shutdown sentinel.
var ExitItem = Item{Kind: Exit}

// ErrFull is returned by PutNowait when the queue has no free capacity.
var ErrFull = errors.New("queue: full")

// Queue is a bounded FIFO of Item, safe for concurrent producers and
// consumers. Ownership of an Item transfers on Put/Get, same as the spec's
// Data Model requires.
type Queue struct {
	ch chan Item
}

// New returns a Queue with the given capacity (spec's max_queue_size).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Item, capacity)}
}

// Put blocks until there is room, applying backpressure to the producer the
// way the spec requires for ordinary traffic.
func (q *Queue) Put(ctx context.Context, item Item) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PutNowait enqueues item only if capacity is immediately available,
// returning ErrFull otherwise. Used for the best-effort exit sentinel during
// shutdown, matching python-beaver's queue.put_nowait(("exit", ())) /
// Queue.Full handling.
func (q *Queue) PutNowait(item Item) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Get blocks until an item is available or ctx is done.
func (q *Queue) Get(ctx context.Context) (Item, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
}

// GetTimeout blocks for at most timeout waiting for an item.
func (q *Queue) GetTimeout(timeout time.Duration) (Item, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case item := <-q.ch:
		return item, true
	case <-t.C:
		return Item{}, false
	}
}

// Len reports the number of items currently queued (queued_items invariant
// in spec.md §8: queued_items ≤ max_queue_size).
func (q *Queue) Len() int { return len(q.ch) }

// Cap reports the queue's configured capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
