// Package framer merges raw tailed lines into logical records according to
// a FileSource's multiline policy, the Go analogue of the teacher's
// pkg/decoder.multiLineMessageProducer adapted to beaver's continuation
// semantics (append while the regex matches/doesn't match, per Negate)
// instead of the teacher's "new record starts on match" rule.
package framer

import (
	"bytes"

	"github.com/bankwing/python-beaver/internal/config"
)

// Framer accumulates raw lines into records, holding back an in-progress
// multiline record until a line arrives that does not continue it.
type Framer struct {
	source *config.FileSource
	buf    [][]byte
}

// New returns a Framer for source. When source has no multiline regexp
// configured, every line it is fed comes back out unchanged and
// immediately.
func New(source *config.FileSource) *Framer {
	return &Framer{source: source}
}

// Feed appends line to the framer. It returns a completed record when line
// starts a new one (flushing whatever was buffered), or nil while the
// record is still being accumulated.
func (f *Framer) Feed(line []byte) []byte {
	if !f.source.MultilineEnabled() {
		return append([]byte(nil), line...)
	}

	if len(f.buf) == 0 {
		f.buf = append(f.buf, clone(line))
		return nil
	}

	if f.source.ContinuesPrevious(line) {
		f.buf = append(f.buf, clone(line))
		return nil
	}

	completed := f.join()
	f.buf = [][]byte{clone(line)}
	return completed
}

// Flush returns and clears whatever partial record remains, used when the
// file is closed or rotated with no terminating line ever seen.
func (f *Framer) Flush() []byte {
	if len(f.buf) == 0 {
		return nil
	}
	completed := f.join()
	f.buf = nil
	return completed
}

func (f *Framer) join() []byte {
	return bytes.Join(f.buf, []byte("\n"))
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
