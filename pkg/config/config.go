// Package config loads hkforum settings from YAML with environment
// overrides for credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cpunion/hkforum/pkg/forum"
	"github.com/cpunion/hkforum/pkg/ratelimit"
	"github.com/cpunion/hkforum/pkg/types"
)

// Category is one selectable forum board.
type Category struct {
	Name string `yaml:"name"`
	ID   string `yaml:"id"`
}

// RateLimitConfig is the request ceiling of one forum.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// ForumConfig configures one forum.
type ForumConfig struct {
	BaseURL       string          `yaml:"base_url"`
	Categories    []Category      `yaml:"categories"`
	MinListPages  int             `yaml:"min_list_pages"`
	MaxListPages  int             `yaml:"max_list_pages"`
	MinReplies    int             `yaml:"min_replies"` // qualifying threshold
	CacheDuration time.Duration   `yaml:"cache_duration"`
	RequestDelay  time.Duration   `yaml:"request_delay"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Timeout       time.Duration   `yaml:"timeout"`
	Retries       int             `yaml:"retries"`
	Backoff       time.Duration   `yaml:"backoff"`
	PageSize      int             `yaml:"page_size"`
}

// SummarizerConfig configures the LLM backend.
type SummarizerConfig struct {
	Provider       string        `yaml:"provider"` // grok or gemini
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	MaxTokens      int           `yaml:"max_tokens"`
	MaxPromptChars int           `yaml:"max_prompt_chars"`
	Timeout        time.Duration `yaml:"timeout"`
	Retries        int           `yaml:"retries"`
	Backoff        time.Duration `yaml:"backoff"`
	// APIKey is only ever read from the environment.
	APIKey string `yaml:"-"`
}

// DigestConfig configures the orchestrator.
type DigestConfig struct {
	CoalesceTTL         time.Duration `yaml:"coalesce_ttl"`
	DuplicateWindow     time.Duration `yaml:"duplicate_window"`
	ContentCacheTTL     time.Duration `yaml:"content_cache_ttl"`
	PromptBudget        int           `yaml:"prompt_budget"`
	DetailConcurrency   int           `yaml:"detail_concurrency"`
	MaxRepliesPerThread int           `yaml:"max_replies_per_thread"`
	StalenessWindow     time.Duration `yaml:"staleness_window"`
	// RequestTimeout bounds one run, which outlives callers that give up
	// while others still wait on it. 0 means none.
	RequestTimeout      time.Duration `yaml:"request_timeout"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type HistoryConfig struct {
	Path   string `yaml:"path"` // JSONL file; empty keeps history in memory only
	Recent int    `yaml:"recent"`
}

type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// Config is the full hkforum configuration.
type Config struct {
	LIHKG      ForumConfig      `yaml:"lihkg"`
	HKGolden   ForumConfig      `yaml:"hkgolden"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Digest     DigestConfig     `yaml:"digest"`
	Server     ServerConfig     `yaml:"server"`
	History    HistoryConfig    `yaml:"history"`
	Log        LogConfig        `yaml:"log"`
}

func defaultForum(baseURL string, categories []Category) ForumConfig {
	return ForumConfig{
		BaseURL:       baseURL,
		Categories:    categories,
		MinListPages:  1,
		MaxListPages:  5,
		MinReplies:    50,
		CacheDuration: 60 * time.Second,
		RequestDelay:  500 * time.Millisecond,
		RateLimit: RateLimitConfig{
			MaxRequests: 30,
			Window:      60 * time.Second,
			Cooldown:    60 * time.Second,
		},
		Timeout:  10 * time.Second,
		Retries:  3,
		Backoff:  time.Second,
		PageSize: 25,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LIHKG: defaultForum(forum.LIHKGBaseURL, []Category{
			{Name: "吹水台", ID: "1"},
			{Name: "熱門台", ID: "2"},
			{Name: "時事台", ID: "5"},
			{Name: "上班台", ID: "14"},
			{Name: "財經台", ID: "15"},
			{Name: "創意台", ID: "31"},
		}),
		HKGolden: defaultForum(forum.HKGoldenBaseURL, []Category{
			{Name: "聊天", ID: "CA"},
			{Name: "時事", ID: "NW"},
			{Name: "娛樂", ID: "ET"},
			{Name: "科技", ID: "IT"},
			{Name: "財經", ID: "FN"},
		}),
		Summarizer: SummarizerConfig{
			Provider:       "grok",
			Model:          "grok-3",
			MaxTokens:      4096,
			MaxPromptChars: 30000,
			Timeout:        120 * time.Second,
			Retries:        3,
			Backoff:        2 * time.Second,
		},
		Digest: DigestConfig{
			CoalesceTTL:         30 * time.Second,
			DuplicateWindow:     5 * time.Second,
			ContentCacheTTL:     300 * time.Second,
			PromptBudget:        24000,
			DetailConcurrency:   3,
			MaxRepliesPerThread: 60,
			StalenessWindow:     365 * 24 * time.Hour,
			RequestTimeout:      10 * time.Minute,
		},
		Server:  ServerConfig{Addr: ":8080"},
		History: HistoryConfig{Recent: 50},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file or empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("HKFORUM_LLM_PROVIDER"); p != "" {
		c.Summarizer.Provider = p
	}
	if m := os.Getenv("HKFORUM_LLM_MODEL"); m != "" {
		c.Summarizer.Model = m
	}
	c.Summarizer.Provider = strings.ToLower(strings.TrimSpace(c.Summarizer.Provider))
	switch c.Summarizer.Provider {
	case "grok":
		c.Summarizer.APIKey = firstEnv("XAI_API_KEY", "GROK3_API_KEY")
	case "gemini":
		c.Summarizer.APIKey = firstEnv("GOOGLE_API_KEY")
	}
	if u := os.Getenv("LIHKG_BASE_URL"); u != "" {
		c.LIHKG.BaseURL = u
	}
	if u := os.Getenv("HKGOLDEN_BASE_URL"); u != "" {
		c.HKGolden.BaseURL = u
	}
	if a := os.Getenv("HKFORUM_ADDR"); a != "" {
		c.Server.Addr = a
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// ValidProviders lists the supported summarizer backends.
var ValidProviders = []string{"grok", "gemini"}

// Validate checks structural settings. Category ids are validated per
// request so that a bad entry only fails requests that select it.
func (c *Config) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		cfg  ForumConfig
	}{{"lihkg", c.LIHKG}, {"hkgolden", c.HKGolden}} {
		if f.cfg.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is empty", f.name))
		}
		if f.cfg.MinListPages < 1 || f.cfg.MaxListPages < f.cfg.MinListPages {
			errs = append(errs, fmt.Errorf("%s: need 1 <= min_list_pages <= max_list_pages", f.name))
		}
		if f.cfg.RateLimit.MaxRequests < 1 {
			errs = append(errs, fmt.Errorf("%s.rate_limit.max_requests must be positive", f.name))
		}
	}
	valid := false
	for _, p := range ValidProviders {
		if strings.EqualFold(c.Summarizer.Provider, p) {
			valid = true
		}
	}
	if !valid {
		errs = append(errs, fmt.Errorf("invalid summarizer provider: %s (valid: %v)", c.Summarizer.Provider, ValidProviders))
	}
	if c.Digest.DetailConcurrency < 1 || c.Digest.DetailConcurrency > 5 {
		errs = append(errs, errors.New("digest.detail_concurrency must be between 1 and 5"))
	}
	if c.Digest.PromptBudget < 1000 {
		errs = append(errs, errors.New("digest.prompt_budget must be at least 1000"))
	}
	return errors.Join(errs...)
}

// Forum returns the settings of platform p.
func (c *Config) Forum(p types.Platform) (ForumConfig, bool) {
	switch p {
	case types.PlatformLIHKG:
		return c.LIHKG, true
	case types.PlatformHKGolden:
		return c.HKGolden, true
	}
	return ForumConfig{}, false
}

// CategoryMap maps display names to ids.
func (f ForumConfig) CategoryMap() types.CategoryMap {
	m := make(types.CategoryMap, len(f.Categories))
	for _, c := range f.Categories {
		m[c.Name] = types.CategoryID(c.ID)
	}
	return m
}

// CategoryNames lists display names in configured order.
func (f ForumConfig) CategoryNames() []string {
	names := make([]string, 0, len(f.Categories))
	for _, c := range f.Categories {
		names = append(names, c.Name)
	}
	return names
}

// ClientConfig is the adapter transport configuration.
func (f ForumConfig) ClientConfig(maxReplies int) forum.Config {
	return forum.Config{
		BaseURL:      f.BaseURL,
		Timeout:      f.Timeout,
		Retries:      f.Retries,
		Backoff:      f.Backoff,
		RequestDelay: f.RequestDelay,
		PageSize:     f.PageSize,
		MaxReplies:   maxReplies,
	}
}

// Limits is the rate limit tracker configuration.
func (f ForumConfig) Limits() ratelimit.Config {
	return ratelimit.Config{
		MaxRequests: f.RateLimit.MaxRequests,
		Window:      f.RateLimit.Window,
		Cooldown:    f.RateLimit.Cooldown,
	}
}
