// Package tools exposes the forum digest to ADK agents as function tools.
package tools

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/cpunion/hkforum/pkg/digest"
	"github.com/cpunion/hkforum/pkg/textclean"
	"github.com/cpunion/hkforum/pkg/types"
)

// Digester is the part of the orchestrator the tools use.
type Digester interface {
	Process(ctx context.Context, req digest.Request) (*digest.Result, error)
	Categories(p types.Platform) []string
}

// ForumToolset provides tools for asking the Hong Kong forums.
type ForumToolset struct {
	digester        Digester
	defaultPlatform types.Platform
}

// NewForumToolset creates a toolset. Requests that name no platform go to
// defaultPlatform.
func NewForumToolset(d Digester, defaultPlatform types.Platform) *ForumToolset {
	if defaultPlatform == "" {
		defaultPlatform = types.PlatformLIHKG
	}
	return &ForumToolset{digester: d, defaultPlatform: defaultPlatform}
}

// --- Ask Forum Tool ---

// AskForumInput is the input for asking the forum.
type AskForumInput struct {
	Question string `json:"question"`
	// Platform is LIHKG or HKGolden (optional)
	Platform string `json:"platform,omitempty"`
	// Category is a display name from list_forum_categories (optional)
	Category string `json:"category,omitempty"`
}

// ThreadBrief is a selected thread as reported to the agent.
type ThreadBrief struct {
	ThreadID        string `json:"thread_id"`
	Title           string `json:"title"`
	Replies         int    `json:"replies"`
	UsableReplies   int    `json:"usable_replies"`
	NoUsableReplies bool   `json:"no_usable_replies,omitempty"`
	FirstReply      string `json:"first_reply,omitempty"`
}

// AskForumOutput is the output of asking the forum.
type AskForumOutput struct {
	Status      string        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Answer      string        `json:"answer,omitempty"`
	ShareText   string        `json:"share_text,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Category    string        `json:"category,omitempty"`
	Threads     []ThreadBrief `json:"threads,omitempty"`
	Diagnostics []string      `json:"diagnostics,omitempty"`
}

// AskForumTool creates the ask forum tool.
func (ft *ForumToolset) AskForumTool() (tool.Tool, error) {
	handler := func(ctx tool.Context, input AskForumInput) (AskForumOutput, error) {
		req, err := ft.request(input.Question, input.Platform, input.Category)
		if err != nil {
			return AskForumOutput{Status: string(digest.StatusConfigError), Message: err.Error()}, nil
		}
		res, err := ft.digester.Process(ctx, req)
		if res == nil {
			return AskForumOutput{}, err
		}
		if err != nil && !isUserError(err) {
			return AskForumOutput{}, err
		}
		return AskForumOutput{
			Status:      string(res.Status),
			Message:     res.Message,
			Answer:      res.Answer,
			ShareText:   res.ShareText,
			Reason:      res.Reason,
			Category:    res.Category,
			Threads:     briefs(res.Threads),
			Diagnostics: res.Diagnostics,
		}, nil
	}

	return functiontool.New(functiontool.Config{
		Name:        "ask_forum",
		Description: "就香港討論區（LIHKG 或 HKGolden）的帖子提問，會抓取相關帖子並回傳摘要、選中的帖子及診斷訊息。",
	}, handler)
}

// --- Preview Prompt Tool ---

// PreviewPromptOutput is the output of previewing the prompt.
type PreviewPromptOutput struct {
	Status    string            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Prompt    string            `json:"prompt,omitempty"`
	Policy    types.FetchPolicy `json:"policy"`
	Truncated bool              `json:"truncated,omitempty"`
	Threads   []ThreadBrief     `json:"threads,omitempty"`
}

// PreviewPromptTool creates the preview prompt tool.
func (ft *ForumToolset) PreviewPromptTool() (tool.Tool, error) {
	handler := func(ctx tool.Context, input AskForumInput) (PreviewPromptOutput, error) {
		req, err := ft.request(input.Question, input.Platform, input.Category)
		if err != nil {
			return PreviewPromptOutput{Status: string(digest.StatusConfigError), Message: err.Error()}, nil
		}
		req.ReturnPrompt = true
		res, err := ft.digester.Process(ctx, req)
		if res == nil {
			return PreviewPromptOutput{}, err
		}
		if err != nil && !isUserError(err) {
			return PreviewPromptOutput{}, err
		}
		return PreviewPromptOutput{
			Status:    string(res.Status),
			Message:   res.Message,
			Prompt:    res.Prompt,
			Policy:    res.Policy,
			Truncated: res.PromptTruncated,
			Threads:   briefs(res.Threads),
		}, nil
	}

	return functiontool.New(functiontool.Config{
		Name:        "preview_forum_prompt",
		Description: "預覽 ask_forum 會交給語言模型的提示內容，不會生成摘要。",
	}, handler)
}

// --- List Categories Tool ---

// ListCategoriesInput is the input for listing categories.
type ListCategoriesInput struct {
	Platform string `json:"platform,omitempty"`
}

// ListCategoriesOutput is the output of listing categories.
type ListCategoriesOutput struct {
	Platform   string   `json:"platform"`
	Categories []string `json:"categories"`
}

// ListCategoriesTool creates the list categories tool.
func (ft *ForumToolset) ListCategoriesTool() (tool.Tool, error) {
	handler := func(ctx tool.Context, input ListCategoriesInput) (ListCategoriesOutput, error) {
		p, err := ft.platform(input.Platform)
		if err != nil {
			return ListCategoriesOutput{}, err
		}
		return ListCategoriesOutput{Platform: string(p), Categories: ft.digester.Categories(p)}, nil
	}

	return functiontool.New(functiontool.Config{
		Name:        "list_forum_categories",
		Description: "列出討論區可選的分類名稱。",
	}, handler)
}

// AllTools returns all forum tools.
func (ft *ForumToolset) AllTools() ([]tool.Tool, error) {
	askTool, err := ft.AskForumTool()
	if err != nil {
		return nil, err
	}

	previewTool, err := ft.PreviewPromptTool()
	if err != nil {
		return nil, err
	}

	categoriesTool, err := ft.ListCategoriesTool()
	if err != nil {
		return nil, err
	}

	return []tool.Tool{askTool, previewTool, categoriesTool}, nil
}

func (ft *ForumToolset) platform(name string) (types.Platform, error) {
	if name == "" {
		return ft.defaultPlatform, nil
	}
	return types.ParsePlatform(name)
}

// request builds a digest request. An empty category selects the first
// configured one.
func (ft *ForumToolset) request(question, platform, category string) (digest.Request, error) {
	if question == "" {
		return digest.Request{}, errors.New("question is required")
	}
	p, err := ft.platform(platform)
	if err != nil {
		return digest.Request{}, err
	}
	if category == "" {
		cats := ft.digester.Categories(p)
		if len(cats) == 0 {
			return digest.Request{}, fmt.Errorf("no categories configured for %s", p)
		}
		category = cats[0]
	}
	return digest.Request{Question: question, Platform: p, SelectedCategory: category}, nil
}

func isUserError(err error) bool {
	var ue *digest.UserError
	return errors.As(err, &ue)
}

func briefs(threads []digest.ThreadData) []ThreadBrief {
	out := make([]ThreadBrief, 0, len(threads))
	for _, t := range threads {
		b := ThreadBrief{
			ThreadID:        t.ThreadID,
			Title:           t.Title,
			Replies:         t.TotalReplies,
			UsableReplies:   len(t.Replies),
			NoUsableReplies: t.NoUsableReplies,
		}
		if first := t.FirstReply; first != "" {
			b.FirstReply = textclean.Truncate(first, 180)
		}
		out = append(out, b)
	}
	return out
}
