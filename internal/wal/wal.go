// Package wal implements an append-only operation journal for the hash
// table. The log-sequence-number it hands out is stamped onto the
// directory page's reserved lsn field, but nothing in this module (or in
// internal/exhash) ever reads the log back to replay it — crash-recovery
// replay is an explicit non-goal. The log exists so that field isn't
// vestigial, and so a future recovery tool has something real to read.
package wal

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/icza/backscanner"
)

// Op names the kind of operation a Record describes.
type Op string

const (
	OpPut    Op = "PUT"
	OpRemove Op = "REMOVE"
	OpSplit  Op = "SPLIT"
)

// Record is one journaled operation.
type Record struct {
	ID    uuid.UUID
	LSN   int64
	Op    Op
	Key   uint32
	Value uint32
}

func (r Record) String() string {
	return fmt.Sprintf("%d\t%s\t%s\t%d\t%d\t%d\n", r.LSN, r.ID, r.Op, r.Key, r.Value, 0)
}

// Log is a simple append-only, line-oriented journal.
type Log struct {
	mu      sync.Mutex
	file    *os.File
	nextLSN int64
}

// Open creates or appends to the journal file at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	return &Log{file: f}, nil
}

// Append writes one record, assigning it the next log-sequence number,
// and returns that number.
func (l *Log) Append(op Op, key, value uint32) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextLSN++
	rec := Record{ID: uuid.New(), LSN: l.nextLSN, Op: op, Key: key, Value: value}
	if _, err := l.file.WriteString(rec.String()); err != nil {
		return 0, err
	}
	if err := l.file.Sync(); err != nil {
		return 0, err
	}
	return rec.LSN, nil
}

// Tail returns up to n most recent records, read backward from the end of
// the file without loading the whole log into memory. This is a
// diagnostic: nothing in the hash table consults it.
func (l *Log) Tail(n int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := l.file.Stat()
	if err != nil {
		return nil, err
	}
	scanner := backscanner.New(l.file, int(info.Size()))
	lines := make([]string, 0, n)
	for len(lines) < n {
		line, _, err := scanner.Line()
		if err != nil {
			break
		}
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	records := make([]Record, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		rec, err := parseRecord(lines[i])
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(line string) (Record, error) {
	fields := strings.Split(strings.TrimRight(line, "\n"), "\t")
	if len(fields) < 5 {
		return Record{}, fmt.Errorf("wal: malformed record %q", line)
	}
	var rec Record
	if _, err := fmt.Sscan(fields[0], &rec.LSN); err != nil {
		return Record{}, err
	}
	id, err := uuid.Parse(fields[1])
	if err != nil {
		return Record{}, err
	}
	rec.ID = id
	rec.Op = Op(fields[2])
	if _, err := fmt.Sscan(fields[3], &rec.Key); err != nil {
		return Record{}, err
	}
	if _, err := fmt.Sscan(fields[4], &rec.Value); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Close flushes and closes the journal file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
