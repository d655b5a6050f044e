package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cpunion/hkforum/pkg/config"
	"github.com/cpunion/hkforum/pkg/digest"
	"github.com/cpunion/hkforum/pkg/types"
)

var (
	platformName string
	categoryName string
	streamAnswer bool
	jsonOutput   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about a forum category",
	Example: `  hkforum ask -p lihkg -k 時事台 "今日最多人討論咩？"
  hkforum ask -p hkgolden -k 聊天 --stream "有咩好笑嘅帖？"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd, strings.Join(args, " "), false)
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview [question]",
	Short: "Show the prompt a question would send to the LLM",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd, strings.Join(args, " "), true)
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the configured categories of a forum",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := types.ParsePlatform(platformName)
		if err != nil {
			return err
		}
		// Listing needs only the config, not an LLM key or network clients.
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return printCategories(cmd, cfg, p)
	},
}

func printCategories(cmd *cobra.Command, cfg *config.Config, p types.Platform) error {
	fc, ok := cfg.Forum(p)
	if !ok {
		return fmt.Errorf("platform %s is not configured", p)
	}
	for _, c := range fc.Categories {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.Name, c.ID)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{askCmd, previewCmd, categoriesCmd} {
		c.Flags().StringVarP(&platformName, "platform", "p", "lihkg", "Forum: lihkg or hkgolden")
	}
	for _, c := range []*cobra.Command{askCmd, previewCmd} {
		c.Flags().StringVarP(&categoryName, "category", "k", "", "Category name (default: first configured)")
		c.Flags().BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")
	}
	askCmd.Flags().BoolVar(&streamAnswer, "stream", false, "Stream the answer as it is generated")
}

func runAsk(cmd *cobra.Command, question string, preview bool) error {
	p, err := types.ParsePlatform(platformName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	category := categoryName
	if category == "" {
		names := a.digest.Categories(p)
		if len(names) == 0 {
			return fmt.Errorf("no categories configured for %s", p)
		}
		category = names[0]
	}

	res, err := a.digest.Process(ctx, digest.Request{
		Question:         question,
		Platform:         p,
		SelectedCategory: category,
		ReturnPrompt:     preview,
		Stream:           streamAnswer && !preview && !jsonOutput,
	})
	var ue *digest.UserError
	if res == nil || (err != nil && !errors.As(err, &ue)) {
		return err
	}
	return printResult(ctx, cmd, res)
}

func printResult(ctx context.Context, cmd *cobra.Command, res *digest.Result) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(res)
	}

	switch {
	case res.Prompt != "":
		fmt.Fprintln(out, res.Prompt)
	case res.Stream != nil:
		for chunk, err := range res.Stream.Chunks() {
			if err != nil {
				return err
			}
			fmt.Fprint(out, chunk)
		}
		fmt.Fprintln(out)
	case res.Answer != "":
		fmt.Fprintln(out, res.Answer)
	default:
		fmt.Fprintln(out, res.Message)
	}

	errOut := cmd.ErrOrStderr()
	if res.Category != "" {
		fmt.Fprintf(errOut, "[%s] 分類：%s，帖子：%d\n", res.Status, res.Category, len(res.Threads))
	}
	for _, d := range res.Diagnostics {
		fmt.Fprintf(errOut, "  ! %s\n", d)
	}
	return ctx.Err()
}
