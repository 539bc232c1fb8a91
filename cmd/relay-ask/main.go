// Command relay-ask streams one answer from a running relay, printing tokens
// as they arrive and the structured view once the answer is complete.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chat-relay/client"
	"chat-relay/render"
	"chat-relay/types"
)

const askLongDesc string = `Ask a running chat relay one question.

Tokens are printed as they stream in. Once the relay sends its end event the
answer is repaired, extracted and printed again as structured sections.

Examples:
  relay-ask "Which shops sell shoes?"
  relay-ask --bot mall --session 6f1c... "And on the second floor?"
  relay-ask --url http://relay:3000 --width 60 "Events this weekend"`

type askCommander struct {
	url       string
	botID     string
	sessionID string
	width     int
	minHeight int
	timeout   time.Duration
	quiet     bool
}

func newAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "relay-ask [question]",
		Short: "Stream one answer from a chat relay",
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&cmder.url, "url", "u", "http://localhost:3000", "Relay base URL")
	cmd.Flags().StringVarP(&cmder.botID, "bot", "b", "", "Bot id")
	cmd.Flags().StringVarP(&cmder.sessionID, "session", "s", "", "Session id to continue")
	cmd.Flags().IntVarP(&cmder.width, "width", "w", 80, "Wrap width of the structured view")
	cmd.Flags().IntVar(&cmder.minHeight, "min-height", 3, "Lines reserved for the answer")
	cmd.Flags().DurationVarP(&cmder.timeout, "timeout", "t", 90*time.Second, "Overall request timeout")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Do not echo tokens while streaming")

	return cmd
}

func (c *askCommander) run(ctx context.Context, out io.Writer, question string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	r := render.New(render.WithWidth(c.width), render.WithMinHeight(c.minHeight))
	turn := types.ChatTurn{Message: question, BotID: c.botID, SessionID: c.sessionID}

	res, err := client.New(c.url).Ask(ctx, turn, r, func(tok types.TokenEvent) {
		if !c.quiet {
			fmt.Fprint(out, tok.Fragment)
		}
	})
	if err != nil {
		return err
	}

	if !c.quiet {
		fmt.Fprint(out, "\n\n")
	}
	fmt.Fprintln(out, r.View())
	fmt.Fprintf(out, "\nsession: %s (%d sections)\n", res.SessionID, len(res.Sections))
	return nil
}

func main() {
	if err := newAskCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
