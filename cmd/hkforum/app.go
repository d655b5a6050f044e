package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cpunion/hkforum/pkg/config"
	"github.com/cpunion/hkforum/pkg/digest"
	"github.com/cpunion/hkforum/pkg/forum"
	"github.com/cpunion/hkforum/pkg/history"
	"github.com/cpunion/hkforum/pkg/llm"
	"github.com/cpunion/hkforum/pkg/metrics"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	history  *history.Log
	digest   *digest.Orchestrator
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err = buildLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	provider, err := newProvider(ctx, cfg.Summarizer)
	if err != nil {
		return nil, err
	}
	summarizer := llm.NewSummarizer(provider, llm.SummarizerConfig{
		MaxPromptChars: cfg.Summarizer.MaxPromptChars,
		Timeout:        cfg.Summarizer.Timeout,
	}, logger, m)

	hist, err := history.Open(cfg.History.Path, cfg.History.Recent)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	opts := []forum.Option{forum.WithLogger(logger), forum.WithMetrics(m)}
	clients := []forum.Client{
		forum.NewLIHKG(cfg.LIHKG.ClientConfig(cfg.Digest.MaxRepliesPerThread), opts...),
		forum.NewHKGolden(cfg.HKGolden.ClientConfig(cfg.Digest.MaxRepliesPerThread), opts...),
	}

	orch := digest.New(cfg, clients, summarizer,
		digest.WithLogger(logger),
		digest.WithMetrics(m),
		digest.WithHistory(hist))

	logger.Debug("hkforum ready",
		zap.String("provider", cfg.Summarizer.Provider),
		zap.String("model", provider.Name()))

	return &app{cfg: cfg, registry: registry, metrics: m, history: hist, digest: orch}, nil
}

func (a *app) Close() {
	if err := a.history.Close(); err != nil {
		logger.Warn("failed to close history", zap.Error(err))
	}
}

func newProvider(ctx context.Context, cfg config.SummarizerConfig) (llm.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "grok":
		return llm.NewGrokProvider(llm.GrokConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		})
	case "gemini":
		return llm.NewGeminiProvider(ctx, llm.GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
}
