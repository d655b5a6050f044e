// Package history keeps an audit trail of processed questions: one JSON
// line per request on disk, plus the most recent entries in memory.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// Entry records one processed question.
type Entry struct {
	RequestID   string    `json:"request_id"`
	Timestamp   time.Time `json:"timestamp"`
	Question    string    `json:"question"`
	Platform    string    `json:"platform"`
	Category    string    `json:"category"`
	Status      string    `json:"status"`
	PromptChars int       `json:"prompt_chars"`
	ThreadIDs   []string  `json:"thread_ids,omitempty"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
}

// Recorder accepts entries.
type Recorder interface {
	Record(Entry) error
}

// Log appends entries to a JSONL file and remembers the latest ones.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	recent []Entry
	limit  int
}

// Open creates a log at path, loading its tail into memory. An empty path
// keeps entries in memory only. limit bounds the in-memory list.
func Open(path string, limit int) (*Log, error) {
	if limit <= 0 {
		limit = 50
	}
	l := &Log{limit: limit}
	if path == "" {
		return l, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := l.load(path); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	l.file = file
	l.writer = bufio.NewWriter(file)
	return l, nil
}

func (l *Log) load(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		// Skip lines torn by a crash mid-write.
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		l.remember(e)
	}
	return sc.Err()
}

func (l *Log) remember(e Entry) {
	l.recent = append(l.recent, e)
	if len(l.recent) > l.limit {
		l.recent = slices.Delete(l.recent, 0, len(l.recent)-l.limit)
	}
}

// Record appends e.
func (l *Log) Record(e Entry) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.remember(e)
	if l.writer == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return l.writer.Flush()
}

// Recent returns up to n entries, newest first. n <= 0 returns all kept.
func (l *Log) Recent(n int) []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.recent) {
		n = len(l.recent)
	}
	out := make([]Entry, 0, n)
	for i := len(l.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.recent[i])
	}
	return out
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer != nil {
		_ = l.writer.Flush()
	}
	if l.file != nil {
		err := l.file.Close()
		l.file, l.writer = nil, nil
		return err
	}
	return nil
}
