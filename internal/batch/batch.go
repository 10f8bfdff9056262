// Package batch accumulates framed records for one file until a size or
// time threshold is crossed, then flushes them as a queue.Batch. It plays
// the role the teacher's decoder/message_producer.go timer-driven flush
// plays for a single message, generalized to the dispatch queue's
// multi-line, multi-record batches (spec.md buffered_lines_max_* options).
package batch

import (
	"time"

	"github.com/bankwing/python-beaver/internal/queue"
)

// Buffer accumulates lines for one file and reports when it should flush.
type Buffer struct {
	filename  string
	fields    map[string]string
	maxLines  int
	maxBytes  int
	maxSecs   time.Duration
	now       func() time.Time

	lines     []string
	bytes     int
	opened    time.Time
}

// New returns a Buffer. maxLines/maxBytes/maxSecs of 0 disable that
// threshold, matching python-beaver's buffered_lines_max_* semantics where
// 0 means "unbounded on this axis".
func New(filename string, fields map[string]string, maxLines, maxBytes int, maxSecs time.Duration) *Buffer {
	return &Buffer{
		filename: filename,
		fields:   fields,
		maxLines: maxLines,
		maxBytes: maxBytes,
		maxSecs:  maxSecs,
		now:      time.Now,
	}
}

// Add appends line to the buffer, returning a flushed Batch and true if a
// threshold was crossed by adding it.
func (b *Buffer) Add(line string) (queue.Batch, bool) {
	if len(b.lines) == 0 {
		b.opened = b.now()
	}
	b.lines = append(b.lines, line)
	b.bytes += len(line)

	if b.shouldFlush() {
		return b.Flush(), true
	}
	return queue.Batch{}, false
}

// ShouldFlushIdle reports whether the oldest buffered line has been held
// longer than maxSecs, for callers polling on a ticker between Add calls.
func (b *Buffer) ShouldFlushIdle() bool {
	if len(b.lines) == 0 || b.maxSecs <= 0 {
		return false
	}
	return b.now().Sub(b.opened) >= b.maxSecs
}

func (b *Buffer) shouldFlush() bool {
	if b.maxLines > 0 && len(b.lines) >= b.maxLines {
		return true
	}
	if b.maxBytes > 0 && b.bytes >= b.maxBytes {
		return true
	}
	return false
}

// Flush returns the accumulated lines as a Batch stamped with the current
// UTC time in the logstash-compatible ISO-8601-with-microseconds form, and
// resets the buffer.
func (b *Buffer) Flush() queue.Batch {
	batch := queue.Batch{
		Filename:   b.filename,
		Lines:      b.lines,
		Fields:     b.fields,
		Timestamp:  Timestamp(b.now()),
		AccumBytes: b.bytes,
	}
	b.lines = nil
	b.bytes = 0
	return batch
}

// Empty reports whether there is nothing buffered.
func (b *Buffer) Empty() bool { return len(b.lines) == 0 }

// Timestamp formats t the way logstash's @timestamp field expects:
// UTC, ISO-8601, microsecond precision, "Z" suffix.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}
