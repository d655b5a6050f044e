package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cpunion/hkforum/pkg/types"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"HKFORUM_LLM_PROVIDER", "HKFORUM_LLM_MODEL", "XAI_API_KEY", "GROK3_API_KEY", "GOOGLE_API_KEY", "LIHKG_BASE_URL", "HKGOLDEN_BASE_URL", "HKFORUM_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.LIHKG.CategoryMap()["吹水台"]; got != "1" {
		t.Fatalf("unexpected 吹水台 id %q", got)
	}
	if got := cfg.HKGolden.CategoryNames(); got[0] != "聊天" || len(got) != 5 {
		t.Fatalf("unexpected HKGolden categories %v", got)
	}
	if cfg.LIHKG.RequestDelay != 500*time.Millisecond || cfg.LIHKG.MinReplies != 50 {
		t.Fatalf("unexpected LIHKG defaults %+v", cfg.LIHKG)
	}
	if cfg.Digest.DuplicateWindow != 5*time.Second || cfg.Digest.CoalesceTTL != 30*time.Second {
		t.Fatalf("unexpected digest defaults %+v", cfg.Digest)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
}

func TestLoad_YAMLOverridesAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROK3_API_KEY", "legacy-key")
	t.Setenv("HKGOLDEN_BASE_URL", "http://golden.test")

	path := filepath.Join(t.TempDir(), "hkforum.yaml")
	data := `
lihkg:
  request_delay: 1s
  categories:
    - name: 吹水台
      id: "1"
summarizer:
  model: grok-3-mini
  timeout: 90s
digest:
  duplicate_window: 0s
  prompt_budget: 12000
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LIHKG.RequestDelay != time.Second {
		t.Fatalf("request_delay not applied: %s", cfg.LIHKG.RequestDelay)
	}
	if len(cfg.LIHKG.Categories) != 1 {
		t.Fatalf("categories should be replaced, got %v", cfg.LIHKG.Categories)
	}
	if cfg.LIHKG.MaxListPages != 5 {
		t.Fatalf("unset fields keep defaults, got %d", cfg.LIHKG.MaxListPages)
	}
	if cfg.Summarizer.Model != "grok-3-mini" || cfg.Summarizer.Timeout != 90*time.Second {
		t.Fatalf("summarizer not applied: %+v", cfg.Summarizer)
	}
	if cfg.Summarizer.APIKey != "legacy-key" {
		t.Fatalf("expected key from GROK3_API_KEY, got %q", cfg.Summarizer.APIKey)
	}
	if cfg.HKGolden.BaseURL != "http://golden.test" {
		t.Fatalf("env base url not applied: %q", cfg.HKGolden.BaseURL)
	}
	if cfg.Digest.DuplicateWindow != 0 || cfg.Digest.PromptBudget != 12000 {
		t.Fatalf("digest not applied: %+v", cfg.Digest)
	}
}

func TestLoad_ProviderIsCaseInsensitive(t *testing.T) {
	clearEnv(t)
	t.Setenv("XAI_API_KEY", "xai-key")
	path := filepath.Join(t.TempDir(), "hkforum.yaml")
	if err := os.WriteFile(path, []byte("summarizer:\n  provider: \" Grok \"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Summarizer.Provider != "grok" {
		t.Fatalf("provider not normalised: %q", cfg.Summarizer.Provider)
	}
	if cfg.Summarizer.APIKey != "xai-key" {
		t.Fatalf("expected key for mixed-case provider, got %q", cfg.Summarizer.APIKey)
	}

	t.Setenv("HKFORUM_LLM_PROVIDER", "GEMINI")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Summarizer.Provider != "gemini" || cfg.Summarizer.APIKey != "google-key" {
		t.Fatalf("env provider not normalised: %+v", cfg.Summarizer)
	}
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("summarizer:\n  provider: claude\ndigest:\n  detail_concurrency: 9\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"invalid summarizer provider", "detail_concurrency"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}

	if err := os.WriteFile(path, []byte("lihkg: [oops"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "failed to parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestForumAccessors(t *testing.T) {
	cfg := Default()
	f, ok := cfg.Forum(types.PlatformHKGolden)
	if !ok || f.BaseURL != cfg.HKGolden.BaseURL {
		t.Fatalf("unexpected forum lookup")
	}
	if _, ok := cfg.Forum("reddit"); ok {
		t.Fatalf("unknown platform should not resolve")
	}
	cc := f.ClientConfig(40)
	if cc.MaxReplies != 40 || cc.RequestDelay != 500*time.Millisecond || cc.Retries != 3 {
		t.Fatalf("unexpected client config %+v", cc)
	}
	if l := f.Limits(); l.MaxRequests != 30 || l.Window != time.Minute {
		t.Fatalf("unexpected limits %+v", l)
	}
}
