// Package audit is an optional, off-by-default mutation trail and
// periodic topology dump: diagnostics a node may be configured to emit,
// never a correctness mechanism. A node that loses its cache loses it;
// nothing here is replayed to recover state. This package exists purely
// so an operator can ask "what did this node do" after the fact.
//
// The log itself is an append-only NDJSON file, one PUT/DELETE audit
// record per line, never read back by the node that wrote it.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Record is one mutation observed by a node: either a client-facing
// write or a replicated write received from a peer.
type Record struct {
	Time   time.Time `json:"time"`
	Op     string    `json:"op"` // "PUT" or "DELETE"
	Region string    `json:"region"`
	Key    string    `json:"key"`
	Size   int       `json:"size"` // value size in bytes, 0 for deletes
	Origin string    `json:"origin"` // "client", or "replication" for a write that arrived with recurse=0
}

// Log is an append-only NDJSON mutation trail. A nil *Log is valid and
// every method is a no-op against it: the zero-configuration default is
// "no audit log", not "log to nowhere via an interface".
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates or appends to the audit log at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Log{file: f}, nil
}

// Append records r. Errors are the caller's to decide whether to log or
// ignore; a failing audit log must never block a cache operation, so
// callers in internal/server treat its error as log-and-continue.
func (l *Log) Append(r Record) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = l.file.Write(data)
	return err
}

// ReadAll returns every record currently in the log, oldest first. Used
// by diagnostics tooling, never by the node itself at startup.
func (l *Log) ReadAll() ([]Record, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(0, 0); err != nil {
		return nil, err
	}
	var records []Record
	scanner := bufio.NewScanner(l.file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue // a corrupt diagnostic record is not worth failing over
		}
		records = append(records, r)
	}
	if _, err := l.file.Seek(0, 2); err != nil {
		return records, err
	}
	return records, scanner.Err()
}

// Close closes the underlying file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}
