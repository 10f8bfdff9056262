package transport

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/bankwing/python-beaver/internal/config"
	"github.com/bankwing/python-beaver/internal/encrypter"
	"github.com/bankwing/python-beaver/internal/queue"
)

// File ships batches by appending one JSON line per record to a local
// file, fsyncing after every write — the default, no-external-dependency
// transport, matching python-beaver's FileTransport.
type File struct {
	mu              sync.Mutex
	f               *os.File
	source          *config.FileSource
	logstashVersion int
	host            string
	enc             encrypter.Encrypter
}

// NewFile opens (creating if necessary) the output file at path in append
// mode.
func NewFile(path string, source *config.FileSource, logstashVersion int, host string, enc encrypter.Encrypter) (*File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("transport: open output file %s: %w", path, err)
	}
	return &File{f: f, source: source, logstashVersion: logstashVersion, host: host, enc: enc}, nil
}

// Send writes every line in batch, fsyncing after each one so a crash never
// loses a record that was reported as sent.
func (t *File) Send(ctx context.Context, batch queue.Batch) (Result, error) {
	lines, err := BuildLines(batch, t.source, t.logstashVersion, t.host, t.enc)
	if err != nil {
		return Fatal, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range lines {
		if _, err := t.f.Write(append(line, '\n')); err != nil {
			return Retry, fmt.Errorf("transport: write: %w", err)
		}
		if err := t.f.Sync(); err != nil {
			return Retry, fmt.Errorf("transport: fsync: %w", err)
		}
	}
	return OK, nil
}

// Close releases the underlying file handle.
func (t *File) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f.Close()
}
