// Package agent runs a conversational forum assistant on top of ADK.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	adkagent "google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/cpunion/hkforum/pkg/textclean"
	"github.com/cpunion/hkforum/pkg/tools"
	"github.com/cpunion/hkforum/pkg/types"
)

const appName = "hkforum"

// Config holds assistant configuration.
type Config struct {
	Model           model.LLM
	Digester        tools.Digester
	DefaultPlatform types.Platform
	UserID          string
	// State is optional; when set, the platform and category of each
	// forum question are remembered across runs.
	State  *State
	Logger *zap.Logger
	Now    func() time.Time
}

// Assistant answers chat messages, calling the forum tools when needed.
type Assistant struct {
	mu        sync.Mutex
	runner    *runner.Runner
	sessions  session.Service
	sessionID string
	userID    string
	state     *State
	logger    *zap.Logger
	now       func() time.Time
}

// Reply is the outcome of one chat turn.
type Reply struct {
	Text          string
	ToolCalls     []string
	ToolResponses []string
}

// New builds the assistant with its tools, runner and session.
func New(ctx context.Context, cfg Config) (*Assistant, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("no LLM model configured for assistant")
	}
	if cfg.Digester == nil {
		return nil, fmt.Errorf("no digester configured for assistant")
	}
	if cfg.UserID == "" {
		cfg.UserID = "user"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	defaultPlatform := cfg.DefaultPlatform
	if cfg.State != nil && cfg.State.Platform() != "" {
		defaultPlatform = cfg.State.Platform()
	}

	forumTools, err := tools.NewForumToolset(cfg.Digester, defaultPlatform).AllTools()
	if err != nil {
		return nil, fmt.Errorf("failed to create forum tools: %w", err)
	}

	forumAgent, err := llmagent.New(llmagent.Config{
		Name:        "forum_assistant",
		Model:       cfg.Model,
		Description: "香港討論區助手",
		Instruction: buildInstruction(),
		Tools:       forumTools,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ADK agent: %w", err)
	}

	sessionService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          forumAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	sess, err := sessionService.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    cfg.UserID,
		SessionID: cfg.UserID + "-session",
		State: map[string]any{
			preferencesKey: cfg.State.Describe(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Assistant{
		runner:    r,
		sessions:  sessionService,
		sessionID: sess.Session.ID(),
		userID:    cfg.UserID,
		state:     cfg.State,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}, nil
}

// Ask runs one chat turn. Turns are serialized.
func (a *Assistant) Ask(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, fmt.Errorf("empty message")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	msg := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: text}},
	}

	var reply Reply
	var runErr error
	for event, err := range a.runner.Run(ctx, a.userID, a.sessionID, msg, adkagent.RunConfig{}) {
		if err != nil {
			a.logger.Warn("assistant run error", zap.Error(err))
			runErr = err
			continue
		}
		if event == nil || event.Content == nil {
			continue
		}
		for _, part := range event.Content.Parts {
			if part.Text != "" {
				reply.Text += part.Text
			}
			if part.FunctionCall != nil {
				a.logger.Debug("assistant tool call", zap.String("tool", part.FunctionCall.Name))
				reply.ToolCalls = append(reply.ToolCalls, part.FunctionCall.Name)
				a.remember(part.FunctionCall)
			}
			if part.FunctionResponse != nil {
				reply.ToolResponses = append(reply.ToolResponses, part.FunctionResponse.Name)
			}
		}
	}
	if ctx.Err() != nil {
		return reply, ctx.Err()
	}
	if reply.Text == "" && runErr != nil {
		return reply, runErr
	}

	a.logger.Info("assistant turn",
		zap.String("message", textclean.Truncate(text, 100)),
		zap.Strings("tools", reply.ToolCalls))
	a.updatePreferences(ctx)
	return reply, nil
}

// remember records the platform and category of a forum question.
func (a *Assistant) remember(call *genai.FunctionCall) {
	if a.state == nil || call.Name != "ask_forum" {
		return
	}
	platform, _ := call.Args["platform"].(string)
	category, _ := call.Args["category"].(string)
	p, err := types.ParsePlatform(platform)
	if err != nil {
		p = ""
	}
	a.state.Remember(p, category, a.now())
}

func (a *Assistant) updatePreferences(ctx context.Context) {
	if a.state == nil {
		return
	}
	if err := a.state.Save(); err != nil {
		a.logger.Warn("failed to save assistant state", zap.Error(err))
	}

	sessResp, err := a.sessions.Get(ctx, &session.GetRequest{
		AppName:   appName,
		UserID:    a.userID,
		SessionID: a.sessionID,
	})
	if err != nil {
		a.logger.Warn("failed to load session for preferences", zap.Error(err))
		return
	}
	event := session.NewEvent("preferences-update")
	event.Author = "forum_assistant"
	event.Actions.StateDelta[preferencesKey] = a.state.Describe()
	if err := a.sessions.AppendEvent(ctx, sessResp.Session, event); err != nil {
		a.logger.Warn("failed to append preferences event", zap.Error(err))
	}
}
