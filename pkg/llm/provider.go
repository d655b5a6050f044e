// Package llm wraps the text generation backends used to analyse questions
// and summarise forum threads.
package llm

import (
	"context"
	"errors"
	"iter"
)

// Provider generates text from a single user prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
	// Stream yields text chunks as they arrive. A non-nil error ends the
	// sequence.
	Stream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

var (
	// ErrEmptyResponse means the backend answered without any text.
	ErrEmptyResponse = errors.New("llm: empty response")
	// ErrStreamClosed is returned by reads from a Stream closed before its end.
	ErrStreamClosed = errors.New("llm: stream closed")
)
