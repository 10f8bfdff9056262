// Package tail implements the per-file state machine: open, read new
// bytes, detect rotation/truncation, and hand off completed lines. It
// generalizes the teacher's pkg/input/tailer.Tailer (see tailer_windows.go)
// from a single hard-coded pipeline into the spec's file-agnostic
// Closed→Opening→Active→Rotated→Closed lifecycle, backed by sincedb for
// offset durability instead of the teacher's auditor package.
package tail

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bankwing/python-beaver/internal/config"
	"github.com/bankwing/python-beaver/internal/fileid"
	"github.com/bankwing/python-beaver/internal/framer"
	"github.com/bankwing/python-beaver/internal/sincedb"
)

// State names the Tail lifecycle stage, per the spec's file state machine.
type State int

const (
	Closed State = iota
	Opening
	Active
	Rotated
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Active:
		return "active"
	case Rotated:
		return "rotated"
	default:
		return "closed"
	}
}

// ErrRotated is returned by Check when the file at Path no longer has the
// identity this Tail opened — the caller is expected to Close(false) this
// Tail and open a fresh one at the same path.
var ErrRotated = errors.New("tail: file rotated")

// Tail owns a single open file descriptor and its read cursor.
type Tail struct {
	Path string

	mu       sync.Mutex
	state    State
	file     *os.File
	identity fileid.Identity
	offset   int64
	partial  []byte

	framer *framer.Framer
	sdb    *sincedb.DB
}

// Open opens the file at path, resolves its start offset from sincedb
// (discarding any stored offset whose identity doesn't match the file
// actually on disk — the spec's identity-mismatch rule), and returns a
// ready-to-read Tail. fromEnd seeds a never-before-seen file at EOF instead
// of offset 0, mirroring python-beaver's tail_from tail_from_end handling
// of brand-new files so a restart doesn't replay a whole pre-existing log.
func Open(path string, source *config.FileSource, sdb *sincedb.DB, fromEnd bool) (*Tail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tail: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tail: stat %s: %w", path, err)
	}
	id := fileid.Of(fi)

	offset := int64(0)
	if rec, ok, err := sdb.StartPosition(path); err == nil && ok && rec.Identity == id {
		offset = rec.Offset
	} else if !ok && fromEnd {
		offset = fi.Size()
	}
	if offset > fi.Size() {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("tail: seek %s: %w", path, err)
	}

	return &Tail{
		Path:     path,
		state:    Active,
		file:     f,
		identity: id,
		offset:   offset,
		framer:   framer.New(source),
		sdb:      sdb,
	}, nil
}

// State reports the current lifecycle stage.
func (t *Tail) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Offset reports the last-read byte offset.
func (t *Tail) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Identity reports the identity of the file this Tail has open.
func (t *Tail) Identity() fileid.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

// ReadLines reads any bytes newly appended since the last call, emitting
// one completed record per call to onLine. Where fileid.ReopenFiles is set,
// the file is reopened and seeked to the current offset before reading. A trailing partial line (no
// terminating \n yet) is held back and prefixed to the next read, the same
// "incomplete last line" handling python-beaver's tail() generator does.
func (t *Tail) ReadLines(onLine func(line []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return fmt.Errorf("tail: %s is not active", t.Path)
	}

	if fileid.ReopenFiles {
		f, err := os.Open(t.Path)
		if err != nil {
			return fmt.Errorf("tail: reopen %s: %w", t.Path, err)
		}
		if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
			f.Close()
			return fmt.Errorf("tail: seek %s: %w", t.Path, err)
		}
		t.file.Close()
		t.file = f
	}

	buf := make([]byte, 64*1024)
	for {
		n, err := t.file.Read(buf)
		if n > 0 {
			t.partial = append(t.partial, buf[:n]...)
			t.offset += int64(n)
			t.drainPartial(onLine)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tail: read %s: %w", t.Path, err)
		}
		if n == 0 {
			return nil
		}
	}
}

func (t *Tail) drainPartial(onLine func(line []byte)) {
	for {
		idx := bytes.IndexByte(t.partial, '\n')
		if idx < 0 {
			return
		}
		line := t.partial[:idx]
		t.partial = t.partial[idx+1:]
		if completed := t.framer.Feed(line); completed != nil {
			onLine(completed)
		}
	}
}

// Persist writes the current offset to sincedb, throttled to at most once
// per sincedb_write_interval unless force is set. Callers should call this
// after every ReadLines so a crash between clean closes loses at most one
// write interval's worth of progress, not everything since the last close.
func (t *Tail) Persist(force bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return nil
	}
	return t.sdb.Update(t.Path, t.identity, t.offset, force)
}

// Check stats the path fresh and compares it against the identity/size
// this Tail opened with, mirroring the teacher's Scanner.scan: a changed
// identity means the file was rotated (ErrRotated); a size smaller than
// our current offset means the file was truncated in place, and Check
// resets the read cursor to 0 rather than erroring.
func (t *Tail) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fi, err := os.Stat(t.Path)
	if err != nil {
		return ErrRotated
	}
	id := fileid.Of(fi)
	if id != t.identity {
		return ErrRotated
	}
	if fi.Size() < t.offset {
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("tail: reset %s: %w", t.Path, err)
		}
		t.offset = 0
		t.partial = t.partial[:0]
	}
	return nil
}

// Flush drains the framer's held-back partial record (file closed or
// rotated with no trailing newline ever seen) through onLine.
func (t *Tail) Flush(onLine func(line []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if completed := t.framer.Flush(); completed != nil {
		onLine(completed)
	}
}

// Close persists the current offset to sincedb and releases the file
// handle. removeDBEntry deletes the sincedb record instead of writing it,
// used when the file itself was deleted rather than rotated.
func (t *Tail) Close(removeDBEntry bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Closed {
		return nil
	}
	t.state = Closed

	var err error
	if removeDBEntry {
		err = t.sdb.Remove(t.Path)
	} else {
		err = t.sdb.Update(t.Path, t.identity, t.offset, true)
	}
	if closeErr := t.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
