package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/TriageChat/internal/config"
)

func newChatCmd(cfg *config.Config, flags *rootFlags) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in the terminal",
		Long:  "Runs an interactive conversation. The state is kept in memory; type /quit or send EOF to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(*cfg, flags.messagesFile, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			conv := newConversation(eng, nil, debug, out)
			conv.say(cmd.Context(), "")

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for !conv.done() {
				fmt.Fprint(out, "you> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "/quit" {
					break
				}
				conv.say(cmd.Context(), line)
			}
			fmt.Fprintln(out)
			return scanner.Err()
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "print turn, phase, path and flags after each reply")
	return cmd
}
