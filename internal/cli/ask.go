package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var askOutputFile string

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send a prompt to the configured assistant",
	Long: `Send a prompt through the daemon's assistant gateway and print the answer.
The prompt goes to the chat tab, the local endpoint or the LLM provider,
depending on the assistant mode. Reads the prompt from stdin when no
argument is given.

Examples:
  jobpilot ask "Summarize my resume in one sentence"
  cat prompt.txt | jobpilot ask
  jobpilot ask "Write a cover letter" -o letter.md`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askOutputFile, "output", "o", "", "write answer to file")
}

func runAsk(cmd *cobra.Command, args []string) error {
	var prompt string
	if len(args) == 1 {
		prompt = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(data)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("prompt is empty")
	}

	answer, err := apiClient.Prompt(cmd.Context(), prompt)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if askOutputFile != "" {
		if err := os.WriteFile(askOutputFile, []byte(answer+"\n"), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Answer written to %s\n", askOutputFile)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}
