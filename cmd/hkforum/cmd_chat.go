package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cpunion/hkforum/pkg/agent"
	"github.com/cpunion/hkforum/pkg/llm"
	"github.com/cpunion/hkforum/pkg/types"
)

var (
	chatModel string
	chatState string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a forum assistant (Gemini)",
	Long: `chat starts an interactive assistant that decides when to look up the
forums. It always runs on Gemini and needs GOOGLE_API_KEY.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		gemini, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{Model: chatModel})
		if err != nil {
			return err
		}
		state, err := agent.LoadState(chatState)
		if err != nil {
			return fmt.Errorf("failed to load chat state: %w", err)
		}
		p, err := types.ParsePlatform(platformName)
		if err != nil {
			return err
		}

		assistant, err := agent.New(ctx, agent.Config{
			Model:           gemini.LLM(),
			Digester:        a.digest,
			DefaultPlatform: p,
			State:           state,
			Logger:          logger,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "輸入問題，空行或 Ctrl-D 結束。")
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				break
			}
			reply, err := assistant.Ask(ctx, line)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("chat turn failed", zap.Error(err))
				fmt.Fprintf(cmd.ErrOrStderr(), "錯誤：%v\n", err)
				continue
			}
			fmt.Fprintln(out, reply.Text)
		}
		return scanner.Err()
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Gemini model (default: GOOGLE_MODEL or built-in)")
	chatCmd.Flags().StringVar(&chatState, "state", ".hkforum", "Directory for remembered preferences (empty: none)")
	chatCmd.Flags().StringVarP(&platformName, "platform", "p", "lihkg", "Default forum")
}
