package llm

import (
	"context"
	"errors"
	"iter"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/cpunion/hkforum/pkg/textclean"
)

type fakeProvider struct {
	text      string
	err       error
	chunks    []string
	streamErr error
	prompts   []string
	deadline  bool
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	_, p.deadline = ctx.Deadline()
	return p.text, p.err
}

func (p *fakeProvider) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	p.prompts = append(p.prompts, prompt)
	return func(yield func(string, error) bool) {
		for _, c := range p.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if p.streamErr != nil {
			yield("", p.streamErr)
		}
	}
}

func TestFitPrompt(t *testing.T) {
	short := "短提示"
	if got, cut := FitPrompt(short, 100); got != short || cut {
		t.Fatalf("short prompt changed: %q", got)
	}
	if got, cut := FitPrompt(short, 0); got != short || cut {
		t.Fatalf("zero limit should disable truncation")
	}

	long := strings.Repeat("帖", 500)
	got, cut := FitPrompt(long, 200)
	if !cut {
		t.Fatalf("expected truncation")
	}
	if n := textclean.Len(got); n > 200 {
		t.Fatalf("truncated prompt has %d runes, want <= 200", n)
	}
	if !strings.Contains(got, "原長 500 字") {
		t.Fatalf("missing truncation marker: %q", got)
	}
	kept := strings.Count(got, "帖")
	if !strings.Contains(got, "保留 "+strconv.Itoa(kept)+" 字") {
		t.Fatalf("marker does not state kept count %d: %q", kept, got)
	}
}

func TestSummarizer_Generate(t *testing.T) {
	p := &fakeProvider{text: "answer"}
	s := NewSummarizer(p, SummarizerConfig{MaxPromptChars: 50, Timeout: time.Minute}, nil, nil)

	res := s.Summarize(context.Background(), strings.Repeat("x", 80), false)
	if !res.OK() || res.Text != "answer" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Truncated {
		t.Fatalf("expected truncated prompt")
	}
	if n := textclean.Len(p.prompts[0]); n > 50 {
		t.Fatalf("provider received %d runes", n)
	}
	if !p.deadline {
		t.Fatalf("expected call deadline")
	}
}

func TestSummarizer_GenerateError(t *testing.T) {
	p := &fakeProvider{err: errors.New("timeout")}
	res := NewSummarizer(p, SummarizerConfig{}, nil, nil).Summarize(context.Background(), "q", false)
	if res.OK() || res.Status != StatusError {
		t.Fatalf("expected error status, got %+v", res)
	}
	if res.Text != "timeout" || res.Err == nil {
		t.Fatalf("expected reason text, got %+v", res)
	}
}

func TestSummarizer_Stream(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := &fakeProvider{chunks: []string{"分享", "內容"}}
	res := NewSummarizer(p, SummarizerConfig{Timeout: time.Minute}, nil, nil).Summarize(context.Background(), "q", true)
	if !res.OK() || res.Stream == nil {
		t.Fatalf("expected stream result, got %+v", res)
	}
	got, err := res.Stream.Text()
	if err != nil || got != "分享內容" {
		t.Fatalf("Text() = %q, %v", got, err)
	}
}

func TestSummarizer_StreamFailsUpFront(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := &fakeProvider{streamErr: errors.New("401 unauthorized")}
	res := NewSummarizer(p, SummarizerConfig{}, nil, nil).Summarize(context.Background(), "q", true)
	if res.OK() || res.Stream != nil {
		t.Fatalf("expected error result, got %+v", res)
	}
	if !strings.Contains(res.Text, "401") {
		t.Fatalf("unexpected reason %q", res.Text)
	}
}

func TestSummarizer_StreamFailsMidway(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := &fakeProvider{chunks: []string{"part"}, streamErr: errors.New("reset")}
	res := NewSummarizer(p, SummarizerConfig{}, nil, nil).Summarize(context.Background(), "q", true)
	if !res.OK() {
		t.Fatalf("first chunk arrived, expected success, got %+v", res)
	}
	got, err := res.Stream.Text()
	if err == nil || got != "part" {
		t.Fatalf("expected partial text with error, got %q, %v", got, err)
	}
}
