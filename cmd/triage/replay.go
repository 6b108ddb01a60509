package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/TriageChat/internal/config"
	"github.com/BTreeMap/TriageChat/internal/engine"
	"github.com/BTreeMap/TriageChat/internal/models"
)

// Script is a scripted conversation. JSON files parse as YAML too.
type Script struct {
	User     map[string]any `yaml:"user"`
	Messages []string       `yaml:"messages"`
}

// LoadScript reads a script file. A bare list of messages is accepted.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("failed to read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		var msgs []string
		if listErr := yaml.Unmarshal(data, &msgs); listErr != nil {
			return Script{}, fmt.Errorf("failed to parse script %s: %w", path, err)
		}
		s.Messages = msgs
	}
	if len(s.Messages) == 0 {
		return Script{}, fmt.Errorf("script %s has no messages", path)
	}
	return s, nil
}

func newReplayCmd(cfg *config.Config, flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Run a scripted conversation and print every turn",
		Long: "Runs the messages of a YAML or JSON script through the engine, one turn each, " +
			"and prints the reply and the decision. The first message is usually empty to get the greeting.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := LoadScript(args[0])
			if err != nil {
				return err
			}
			eng, err := buildEngine(*cfg, flags.messagesFile, nil)
			if err != nil {
				return err
			}
			_, err = runReplay(cmd.Context(), eng, script, cmd.OutOrStdout(), asJSON)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print each output as a JSON line instead of text")
	return cmd
}

// runReplay plays script and returns the final state.
func runReplay(ctx context.Context, eng *engine.Engine, script Script, w io.Writer, asJSON bool) (*models.State, error) {
	var state *models.State
	enc := json.NewEncoder(w)
	for i, text := range script.Messages {
		out := eng.Generate(ctx, models.Input{
			User: script.User,
			Context: models.Context{
				ChatText:  text,
				ChatState: state,
				Debug:     true,
			},
		})
		if asJSON {
			if err := enc.Encode(out); err != nil {
				return state, fmt.Errorf("failed to encode turn %d: %w", i, err)
			}
		} else {
			printTurn(w, i, text, out)
		}
		if !out.OK || out.Report.Chat == nil {
			return state, fmt.Errorf("turn %d failed: %v", i, out.Errors)
		}
		next := out.Report.Chat.State
		state = &next
	}
	return state, nil
}

func printTurn(w io.Writer, i int, text string, out models.Output) {
	rule := strings.Repeat("=", 70)
	fmt.Fprintf(w, "\n%s\nTURN %d\nUSER: %q\n", rule, i, text)
	chat := out.Report.Chat
	if chat == nil {
		fmt.Fprintf(w, "ERRORS: %v\n", out.Errors)
		return
	}
	fmt.Fprintf(w, "PHASE: %s | DONE: %v\n", chat.Phase, chat.Done)
	fmt.Fprintf(w, "BOT: %s\n", chat.Message())
	fmt.Fprintf(w, "path: %s\nflags: %v\nreasons: %v\nrecommendations: %v\n",
		out.Report.PathOrEmpty(), out.Report.Flags, out.Report.Reasons, out.Report.Recommendations)
}
