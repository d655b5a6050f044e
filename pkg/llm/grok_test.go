package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func grokServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGrok(t *testing.T, url string) *GrokProvider {
	t.Helper()
	p, err := NewGrokProvider(GrokConfig{APIKey: "test-key", BaseURL: url, MaxTokens: 512})
	if err != nil {
		t.Fatalf("NewGrokProvider: %v", err)
	}
	return p
}

func TestGrokProvider_Generate(t *testing.T) {
	srv := grokServer(t, func(w http.ResponseWriter, body map[string]any) {
		if body["model"] != "grok-3" {
			t.Errorf("unexpected model %v", body["model"])
		}
		if body["max_tokens"] != float64(512) {
			t.Errorf("unexpected max_tokens %v", body["max_tokens"])
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","created":1,"model":"grok-3",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"分享：好帖"}}]}`)
	})

	got, err := newTestGrok(t, srv.URL).Generate(context.Background(), "q")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "分享：好帖" {
		t.Fatalf("unexpected answer %q", got)
	}
}

func TestGrokProvider_GenerateAPIError(t *testing.T) {
	srv := grokServer(t, func(w http.ResponseWriter, body map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	})

	_, err := newTestGrok(t, srv.URL).Generate(context.Background(), "q")
	var statusErr *APIError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", statusErr.StatusCode)
	}
}

func sseChunk(text string) string {
	return fmt.Sprintf("data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"grok-3\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", text)
}

func TestGrokProvider_Stream(t *testing.T) {
	srv := grokServer(t, func(w http.ResponseWriter, body map[string]any) {
		if body["stream"] != true {
			t.Errorf("expected stream=true, got %v", body["stream"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("連登"))
		fmt.Fprint(w, sseChunk(""))
		fmt.Fprint(w, sseChunk("熱帖"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var got []string
	for chunk, err := range newTestGrok(t, srv.URL).Stream(context.Background(), "q") {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		got = append(got, chunk)
	}
	if strings.Join(got, "|") != "連登|熱帖" {
		t.Fatalf("unexpected chunks %q", got)
	}
}

func TestGrokProvider_StreamError(t *testing.T) {
	srv := grokServer(t, func(w http.ResponseWriter, body map[string]any) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("partial"))
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"overloaded\"}}\n\n")
	})

	var got []string
	var streamErr error
	for chunk, err := range newTestGrok(t, srv.URL).Stream(context.Background(), "q") {
		if err != nil {
			streamErr = err
			continue
		}
		got = append(got, chunk)
	}
	if len(got) != 1 || got[0] != "partial" {
		t.Fatalf("unexpected chunks %q", got)
	}
	if streamErr == nil || !strings.Contains(streamErr.Error(), "overloaded") {
		t.Fatalf("expected overloaded error, got %v", streamErr)
	}
}

func TestNewGrokProvider_RequiresKey(t *testing.T) {
	t.Setenv("XAI_API_KEY", "")
	t.Setenv("GROK3_API_KEY", "")
	if _, err := NewGrokProvider(GrokConfig{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	t.Setenv("GROK3_API_KEY", "legacy")
	p, err := NewGrokProvider(GrokConfig{})
	if err != nil {
		t.Fatalf("expected GROK3_API_KEY fallback: %v", err)
	}
	if p.Name() != DefaultGrokModel {
		t.Fatalf("unexpected default model %q", p.Name())
	}
}
