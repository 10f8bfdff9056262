// Package sincedb persists per-file read offsets so tailing can resume
// across restarts, the Go analogue of python-beaver's SincedbWorker and of
// the teacher's pkg/auditor.Auditor. Where the teacher flushes a JSON
// registry file on a ticker, sincedb keeps the mandated relational schema
// in a modernc.org/sqlite database and throttles writes the same way.
package sincedb

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bankwing/python-beaver/internal/fileid"
)

const schema = `
CREATE TABLE IF NOT EXISTS sincedb (
	filename   TEXT PRIMARY KEY,
	identity   TEXT NOT NULL,
	offset     INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Record is one resolved sincedb row.
type Record struct {
	Filename  string
	Identity  fileid.Identity
	Offset    int64
	UpdatedAt time.Time
}

type pending struct {
	identity fileid.Identity
	offset   int64
	lastFlush time.Time
}

// DB is the sincedb store. A single DB is shared by every Tail the process
// owns; writes to a given filename are throttled independently by
// writeInterval, mirroring the teacher's single flushTicker but keyed per
// file so one busy file cannot starve another's durability window.
type DB struct {
	mu            sync.Mutex
	sqldb         *sql.DB
	writeInterval time.Duration
	dirty         map[string]*pending
}

// Open creates or attaches to the sqlite file at path and ensures the
// sincedb table exists.
func Open(path string, writeInterval time.Duration) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sincedb: open %s: %w", path, err)
	}
	if _, err := sqldb.Exec(schema); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("sincedb: migrate: %w", err)
	}
	return &DB{
		sqldb:         sqldb,
		writeInterval: writeInterval,
		dirty:         make(map[string]*pending),
	}, nil
}

// Close flushes any pending writes and releases the underlying connection.
func (d *DB) Close() error {
	d.mu.Lock()
	for filename, p := range d.dirty {
		d.persist(filename, p.identity, p.offset)
	}
	d.dirty = make(map[string]*pending)
	d.mu.Unlock()
	return d.sqldb.Close()
}

// StartPosition returns the last recorded identity/offset for filename, or
// ok=false if there is no record. Per spec, the caller discards the offset
// itself when the returned identity doesn't match the file currently open
// at that path — StartPosition only reports what was persisted.
func (d *DB) StartPosition(filename string) (Record, bool, error) {
	row := d.sqldb.QueryRow(
		`SELECT identity, offset, updated_at FROM sincedb WHERE filename = ?`, filename)
	var identity string
	var offset, updatedAt int64
	if err := row.Scan(&identity, &offset, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("sincedb: start_position %s: %w", filename, err)
	}
	id, err := parseIdentity(identity)
	if err != nil {
		return Record{}, false, err
	}
	return Record{
		Filename:  filename,
		Identity:  id,
		Offset:    offset,
		UpdatedAt: time.Unix(updatedAt, 0).UTC(),
	}, true, nil
}

// Update records the current identity/offset for filename. Writes are
// throttled to at most once per writeInterval unless force is set (Tail
// forces a write on clean close and on rotation), the same throttle python-
// beaver's sincedb_write_interval applies to SincedbWorker.
func (d *DB) Update(filename string, identity fileid.Identity, offset int64, force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.dirty[filename]
	if !ok {
		p = &pending{}
		d.dirty[filename] = p
	}
	p.identity = identity
	p.offset = offset

	if !force && time.Since(p.lastFlush) < d.writeInterval {
		return nil
	}
	if err := d.persist(filename, identity, offset); err != nil {
		return err
	}
	p.lastFlush = time.Now()
	return nil
}

// persist must be called with mu held.
func (d *DB) persist(filename string, identity fileid.Identity, offset int64) error {
	_, err := d.sqldb.Exec(
		`INSERT INTO sincedb (filename, identity, offset, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(filename) DO UPDATE SET identity = excluded.identity,
			offset = excluded.offset, updated_at = excluded.updated_at`,
		filename, identity.String(), offset, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sincedb: update %s: %w", filename, err)
	}
	return nil
}

// Remove deletes a file's sincedb record, used when a tailed file is
// deleted and its offset should no longer be resumed.
func (d *DB) Remove(filename string) error {
	d.mu.Lock()
	delete(d.dirty, filename)
	d.mu.Unlock()
	if _, err := d.sqldb.Exec(`DELETE FROM sincedb WHERE filename = ?`, filename); err != nil {
		return fmt.Errorf("sincedb: remove %s: %w", filename, err)
	}
	return nil
}

func parseIdentity(s string) (fileid.Identity, error) {
	var dev, ino uint64
	if _, err := fmt.Sscanf(s, "%x:%x", &dev, &ino); err != nil {
		return fileid.Identity{}, fmt.Errorf("sincedb: malformed identity %q: %w", s, err)
	}
	return fileid.Identity{Device: dev, Inode: ino}, nil
}
