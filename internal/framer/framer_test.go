package framer

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bankwing/python-beaver/internal/config"
)

func TestFeedWithoutMultilinePassesThrough(t *testing.T) {
	f := New(&config.FileSource{})
	assert.Equal(t, []byte("line one"), f.Feed([]byte("line one")))
	assert.Equal(t, []byte("line two"), f.Feed([]byte("line two")))
}

func TestFeedMergesContinuationLines(t *testing.T) {
	// continuation lines are indented; a new record starts at column 0.
	src := &config.FileSource{MultilineRegexp: regexp.MustCompile(`^\s+`)}
	f := New(src)

	assert.Nil(t, f.Feed([]byte("2026-07-29 ERROR boom")))
	assert.Nil(t, f.Feed([]byte("    at foo.bar()")))
	got := f.Feed([]byte("2026-07-29 INFO next"))
	assert.Equal(t, "2026-07-29 ERROR boom\n    at foo.bar()", string(got))
}

func TestFeedNegateStartsNewRecordOnMatch(t *testing.T) {
	// negate=true: lines continue the previous record unless they match the
	// "start of a new record" anchor.
	src := &config.FileSource{
		MultilineRegexp: regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`),
		MultilineNegate: true,
	}
	f := New(src)

	assert.Nil(t, f.Feed([]byte("2026-07-29 ERROR boom")))
	assert.Nil(t, f.Feed([]byte("    at foo.bar()")))
	got := f.Feed([]byte("2026-07-29 INFO next"))
	assert.Equal(t, "2026-07-29 ERROR boom\n    at foo.bar()", string(got))
}

func TestFlushReturnsPartialRecord(t *testing.T) {
	src := &config.FileSource{MultilineRegexp: regexp.MustCompile(`^\s+`)}
	f := New(src)

	f.Feed([]byte("2026-07-29 ERROR boom"))
	f.Feed([]byte("    at foo.bar()"))

	got := f.Flush()
	assert.Equal(t, "2026-07-29 ERROR boom\n    at foo.bar()", string(got))
	assert.Nil(t, f.Flush())
}
