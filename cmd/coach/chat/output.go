package chatcmder

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/cliui"
	"github.com/papercomputeco/coach/pkg/conversation"
	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/relay"
	"github.com/papercomputeco/coach/pkg/utils"
)

var (
	userPrompt  = cliui.UserStyle.Render("you> ")
	coachPrompt = cliui.CoachStyle.Render("coach> ")
)

// lockedWriter serializes writes from the input loop, the stream goroutine,
// and the events feed.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (c *chatCommander) printEvent(ev conversation.Event) {
	switch ev.Kind {
	case conversation.TurnAppended:
		if ev.Turn.Role == llm.RoleAssistant {
			fmt.Fprint(c.out, coachPrompt)
		}
	case conversation.TurnUpdated:
		fmt.Fprint(c.out, ev.Fragment)
	case conversation.TurnFinalized:
		fmt.Fprint(c.out, "\n\n")
	case conversation.TurnFailed:
		fmt.Fprintf(c.out, "\n  %s %s\n", cliui.FailMark, cliui.ErrorStyle.Render(ev.Turn.Text))
		if ev.Err != nil {
			fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render(ev.Err.Error()))
		}
	}
}

// printResumed replays a hydrated transcript.
func (c *chatCommander) printResumed(ctrl *conversation.Controller) {
	if err := ctrl.HistoryErr(); err != nil {
		c.logger.Debug("history unavailable", zap.Error(err))
		fmt.Fprintf(c.out, "  %s %s\n\n", cliui.FailMark, cliui.DimStyle.Render("Could not load earlier messages."))
	}

	turns := ctrl.Snapshot()
	if id, ok := ctrl.Thread().ThreadID(); ok && ctrl.HistoryErr() == nil {
		fmt.Fprintf(c.out, "  %s Resuming %s %s\n\n",
			cliui.SuccessMark,
			cliui.ValueStyle.Render(utils.Truncate(id, 16)),
			cliui.DimStyle.Render(fmt.Sprintf("(%d messages)", len(turns))),
		)
	}

	for _, turn := range turns {
		switch turn.Role {
		case llm.RoleUser:
			fmt.Fprintf(c.out, "%s%s\n\n", userPrompt, turn.Text)
		case llm.RoleAssistant:
			fmt.Fprintf(c.out, "%s%s\n\n", coachPrompt, turn.Text)
		}
	}
}

func (c *chatCommander) printThread(s *session) {
	id, ok := s.threads.ThreadID()
	if !ok {
		fmt.Fprintf(c.out, "  %s\n", cliui.DimStyle.Render("This conversation has no thread yet."))
		return
	}

	fmt.Fprintf(c.out, "  %s\n", cliui.KeyValue("Thread", id))
	if c.links != nil {
		fmt.Fprintf(c.out, "  %s\n", cliui.KeyValue("Link", c.links.Link(id)))
	}
}

func (c *chatCommander) printUpdate(u relay.Update) {
	switch {
	case u.Proposal != nil:
		fmt.Fprintf(c.out, "\n%s\n", cliui.Banner(renderProposal(*u.Proposal)))
		fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("/accept or /decline this plan change."))
	case u.Resolution != nil:
		verb := "declined"
		if u.Resolution.Decision == relay.Accept {
			verb = "accepted"
		}
		fmt.Fprintf(c.out, "  %s Plan change %s\n", cliui.SuccessMark, verb)
	}
}

// renderProposal renders the title and summary of a plan proposal as
// markdown, falling back to the raw payload.
func renderProposal(ev relay.Event) string {
	var md strings.Builder
	if title, ok := ev.Payload["title"].(string); ok && title != "" {
		fmt.Fprintf(&md, "## %s\n\n", title)
	} else {
		md.WriteString("## Proposed plan change\n\n")
	}

	if summary, ok := ev.Payload["summary"].(string); ok && summary != "" {
		md.WriteString(summary)
	} else {
		raw, err := json.MarshalIndent(ev.Payload, "", "  ")
		if err == nil {
			fmt.Fprintf(&md, "```json\n%s\n```", raw)
		}
	}

	out, err := cliui.RenderMarkdown(md.String())
	if err != nil {
		return md.String()
	}
	return strings.TrimSpace(out)
}
