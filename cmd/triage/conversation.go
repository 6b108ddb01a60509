package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/BTreeMap/TriageChat/internal/engine"
	"github.com/BTreeMap/TriageChat/internal/models"
)

// conversation keeps the caller-held state for terminal sessions.
type conversation struct {
	eng   *engine.Engine
	user  map[string]any
	state *models.State
	debug bool
	out   io.Writer
}

func newConversation(eng *engine.Engine, user map[string]any, debug bool, out io.Writer) *conversation {
	return &conversation{eng: eng, user: user, debug: debug, out: out}
}

// say runs one turn and prints the assistant reply. The state only advances
// on a successful turn.
func (c *conversation) say(ctx context.Context, text string) models.Output {
	out := c.eng.Generate(ctx, models.Input{
		User: c.user,
		Context: models.Context{
			ChatText:  text,
			ChatState: c.state,
			Debug:     true,
		},
	})
	if !out.OK || out.Report.Chat == nil {
		for _, e := range out.Errors {
			fmt.Fprintf(c.out, "! %s: %s\n", e.Code, e.Message)
		}
		return out
	}
	next := out.Report.Chat.State
	c.state = &next

	if msg := out.Report.Chat.Message(); msg != "" {
		fmt.Fprintf(c.out, "bot> %s\n", msg)
	}
	if c.debug {
		fmt.Fprintf(c.out, "     [turn=%d phase=%s path=%s intent=%s flags=%s]\n",
			next.Turn, next.Phase, out.Report.PathOrEmpty(), out.Report.Chat.Intent, strings.Join(out.Report.Flags, ","))
	}
	return out
}

// done reports whether the conversation has ended and the safety lock is not
// holding it open.
func (c *conversation) done() bool {
	return c.state != nil && c.state.IsDone() && !c.state.IsLocked()
}
