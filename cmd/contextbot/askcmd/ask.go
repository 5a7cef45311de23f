// Package askcmd answers one question from the terminal: assemble workspace
// context for the query, complete, print. Useful for trying out search
// queries without a running bot.
package askcmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"slack-context-bot/internal/botruntime"
)

const askPreamble = "You are a helpful assistant answering questions about a Slack workspace. " +
	"Use the provided conversation context when it is relevant and say so when it is not."

// New builds the ask command.
func New() *cobra.Command {
	var showContext bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question using workspace context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("question is required")
			}

			rt, err := botruntime.Build(slog.Default())
			if err != nil {
				return err
			}

			transcript, err := rt.Assembler.BuildTranscript(cmd.Context(), question)
			if err != nil {
				return err
			}
			if showContext && transcript != "" {
				fmt.Fprintln(cmd.OutOrStdout(), transcript)
				fmt.Fprintln(cmd.OutOrStdout(), "===")
			}

			prompt := question
			if transcript != "" {
				prompt = "Context from the workspace:\n" + transcript + "\n\nQuestion:\n" + question
			}
			answer, err := rt.LLM.Complete(cmd.Context(), askPreamble, prompt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showContext, "show-context", false, "Print the assembled transcript before the answer.")
	return cmd
}
