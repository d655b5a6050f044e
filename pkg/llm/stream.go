package llm

import (
	"iter"
	"strings"
	"sync"
)

// Stream buffers a chunk sequence so it can be read more than once. The
// first reader pulls from the source; later readers replay the buffered
// chunks and then continue live. Reads are serialised, so readers on
// different goroutines see the same chunks in the same order.
type Stream struct {
	mu     sync.Mutex
	next   func() (string, error, bool)
	stop   func()
	chunks []string
	err    error
	done   bool
}

// NewStream wraps seq. The source is not started until the first read.
func NewStream(seq iter.Seq2[string, error]) *Stream {
	next, stop := iter.Pull2(seq)
	return &Stream{next: next, stop: stop}
}

// StreamOf returns an already finished stream holding chunks.
func StreamOf(chunks ...string) *Stream {
	return &Stream{chunks: chunks, done: true}
}

// Chunks iterates the stream from its beginning.
func (s *Stream) Chunks() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for i := 0; ; i++ {
			chunk, err, ok := s.at(i)
			if !ok {
				if err != nil {
					yield("", err)
				}
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// at returns chunk i, pulling from the source when it is not buffered yet.
// ok is false at the end of the stream; err is then the terminal error.
func (s *Stream) at(i int) (string, error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i >= len(s.chunks) {
		if s.done {
			return "", s.err, false
		}
		chunk, err, ok := s.next()
		switch {
		case !ok:
			s.done = true
		case err != nil:
			s.err = err
			s.done = true
			s.stop()
		case chunk != "":
			s.chunks = append(s.chunks, chunk)
		}
	}
	return s.chunks[i], nil, true
}

// Text drains the stream and returns everything it produced.
func (s *Stream) Text() (string, error) {
	var sb strings.Builder
	for chunk, err := range s.Chunks() {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}

// Err returns the terminal error once the stream has ended.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the source. Buffered chunks stay readable; a reader that runs
// past them gets ErrStreamClosed.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = ErrStreamClosed
	if s.stop != nil {
		s.stop()
	}
}
