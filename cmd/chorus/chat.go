package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"chorus/internal/markup"
	"chorus/internal/pipeline"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive research session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.close()
			return runREPL(cmd, app)
		},
	}
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.close()
			return askOnce(cmd, app, strings.Join(args, " "))
		},
	}
}

func runREPL(cmd *cobra.Command, app *app) error {
	fmt.Fprintln(cmd.OutOrStdout(), "Chorus ready. Type a question, or \"exit\" to leave.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(cmd.OutOrStdout(), "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			return nil
		}
		if err := askOnce(cmd, app, query); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
	}
}

func askOnce(cmd *cobra.Command, app *app, query string) error {
	result, err := app.orch.Run(cmd.Context(), query)
	if err != nil {
		if errors.Is(err, pipeline.ErrWatchdogTimeout) {
			return fmt.Errorf("the research run timed out, try a narrower question")
		}
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderAnswer(result))
	return nil
}

// renderAnswer formats the answer as terminal Markdown with a plain source
// list underneath.
func renderAnswer(result *pipeline.TurnResult) string {
	body := markup.StripSources(result.Answer)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err == nil {
		if rendered, rerr := renderer.Render(body); rerr == nil {
			body = rendered
		}
	}

	if len(result.Sources) == 0 {
		return body
	}

	var sb strings.Builder
	sb.WriteString(body)
	sb.WriteString("\nSources:\n")
	for i, src := range result.Sources {
		sb.WriteString(fmt.Sprintf("  [%d] %s (%s)\n", i+1, src.Title, src.URL))
	}
	return sb.String()
}
