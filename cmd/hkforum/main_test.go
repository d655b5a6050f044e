package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpunion/hkforum/pkg/config"
	"github.com/cpunion/hkforum/pkg/digest"
	"github.com/cpunion/hkforum/pkg/llm"
	"github.com/cpunion/hkforum/pkg/types"
)

func testCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	return cmd, &out, &errOut
}

func TestPrintResult_Answer(t *testing.T) {
	cmd, out, errOut := testCommand()
	res := &digest.Result{
		Status:      digest.StatusFallback,
		Answer:      "分享內容：《標題》共 3 則回覆。",
		Category:    "時事台",
		Threads:     []digest.ThreadData{{}},
		Diagnostics: []string{"page 2: HTTP 503"},
	}
	require.NoError(t, printResult(context.Background(), cmd, res))
	assert.Equal(t, "分享內容：《標題》共 3 則回覆。\n", out.String())
	assert.Contains(t, errOut.String(), "[fallback] 分類：時事台，帖子：1")
	assert.Contains(t, errOut.String(), "! page 2: HTTP 503")
}

func TestPrintResult_StreamAndPrompt(t *testing.T) {
	cmd, out, _ := testCommand()
	require.NoError(t, printResult(context.Background(), cmd, &digest.Result{
		Status: digest.StatusAnswered,
		Stream: llm.StreamOf("分享", "內容"),
	}))
	assert.Equal(t, "分享內容\n", out.String())

	cmd, out, _ = testCommand()
	require.NoError(t, printResult(context.Background(), cmd, &digest.Result{
		Status: digest.StatusPrompt,
		Prompt: "用戶問題：q",
	}))
	assert.Equal(t, "用戶問題：q\n", out.String())
}

func TestPrintResult_Message(t *testing.T) {
	cmd, out, _ := testCommand()
	require.NoError(t, printResult(context.Background(), cmd, &digest.Result{
		Status:  digest.StatusDuplicate,
		Message: "請勿重複提交",
	}))
	assert.Equal(t, "請勿重複提交\n", out.String())
}

func TestBuildLogger(t *testing.T) {
	l, err := buildLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))

	_, err = buildLogger("loud", false)
	assert.Error(t, err)
}

func TestNewProvider_CaseInsensitive(t *testing.T) {
	cfg := config.Default().Summarizer
	cfg.APIKey = "test-key"
	cfg.Provider = "Grok"
	p, err := newProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Model, p.Name())

	cfg.Provider = "claude"
	_, err = newProvider(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown LLM provider")
}

func TestPrintCategories(t *testing.T) {
	cmd, out, _ := testCommand()
	require.NoError(t, printCategories(cmd, config.Default(), types.PlatformHKGolden))
	assert.Equal(t, "聊天\tCA\n時事\tNW\n娛樂\tET\n科技\tIT\n財經\tFN\n", out.String())

	require.NoError(t, printCategories(cmd, config.Default(), types.PlatformLIHKG))
	assert.Contains(t, out.String(), "吹水台\t1\n")
}
