package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"owconsole/internal/cache/conversation"
	"owconsole/internal/chat"
	"owconsole/internal/editor"
)

var (
	userColor      = color.New(color.FgBlue, color.Bold)
	assistantColor = color.New(color.FgWhite)
	thinkingColor  = color.New(color.Faint, color.Italic)
	noticeColor    = color.New(color.FgYellow)
	addColor       = color.New(color.FgGreen)
	delColor       = color.New(color.FgRed)
	hunkColor      = color.New(color.FgCyan)
)

func newChatCmd(e *env) *cobra.Command {
	var (
		model    string
		thinking bool
		yes      bool
		history  int
	)
	cmd := &cobra.Command{
		Use:   "chat <workerId> [message...]",
		Short: "Edit a worker script with the AI assistant",
		Long:  "Without a message, chat reads prompts from stdin. /accept and /reject decide on proposed code, /fix asks to fix the current diagnostics, /clear empties the conversation, /quit leaves.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.App(ctx)
			if err != nil {
				return err
			}
			ctl, err := a.OpenEditor(ctx, args[0], chat.Options{Model: model})
			if err != nil {
				return err
			}
			defer ctl.Close(context.WithoutCancel(ctx))

			store := ctl.Session()
			if cmd.Flags().Changed("thinking") {
				_ = store.SetThinkingEnabled(ctx, thinking)
			}

			out := cmd.OutOrStdout()
			printHistory(out, store.Snapshot().Messages, history)
			r := newRenderer(out, len(store.Snapshot().Messages))
			defer store.State().Subscribe(r.render)()

			s := &chatSession{ctl: ctl, out: out, in: bufio.NewScanner(e.stdin), autoAccept: yes, interactive: isTerminal(e.stdin)}
			if len(args) > 1 {
				return s.turn(ctx, strings.Join(args[1:], " "))
			}
			return s.loop(ctx)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model to ask (sonnet|opus|haiku for the API provider)")
	cmd.Flags().BoolVar(&thinking, "thinking", false, "Enable extended thinking for this conversation")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Apply proposed code without asking")
	cmd.Flags().IntVar(&history, "history", 6, "Number of earlier messages to show")
	return cmd
}

type chatSession struct {
	ctl         *chat.Controller
	out         io.Writer
	in          *bufio.Scanner
	autoAccept  bool
	interactive bool
}

func (s *chatSession) loop(ctx context.Context) error {
	for {
		if s.interactive {
			userColor.Fprint(s.out, "> ")
		}
		if !s.in.Scan() {
			return s.in.Err()
		}
		line := strings.TrimSpace(s.in.Text())
		var err error
		switch strings.ToLower(line) {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/accept":
			err = s.ctl.Accept(ctx)
		case "/reject":
			err = s.ctl.Reject(ctx)
		case "/fix":
			err = s.run(ctx, s.ctl.AskToFix)
		case "/hints":
			for _, h := range chat.Hints {
				noticeColor.Fprintln(s.out, "  "+h)
			}
		default:
			err = s.turn(ctx, line)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			noticeColor.Fprintln(s.out, err.Error())
		}
	}
}

func (s *chatSession) turn(ctx context.Context, message string) error {
	return s.run(ctx, func(ctx context.Context) error { return s.ctl.Send(ctx, message) })
}

func (s *chatSession) run(ctx context.Context, send func(context.Context) error) error {
	if err := send(ctx); err != nil {
		return err
	}
	if err := s.ctl.Wait(ctx); err != nil {
		s.ctl.Cancel()
		return err
	}
	fmt.Fprintln(s.out)
	p, ok := s.ctl.Pending()
	if !ok {
		return nil
	}
	writeDiff(s.out, p)
	switch {
	case s.autoAccept:
		return s.ctl.Accept(ctx)
	case !s.interactive:
		noticeColor.Fprintln(s.out, "proposed code is pending; rerun with --yes to apply it")
		return s.ctl.Reject(ctx)
	}
	noticeColor.Fprint(s.out, "Apply these changes? [y/N] ")
	if !s.in.Scan() {
		return s.ctl.Reject(ctx)
	}
	if answer := strings.ToLower(strings.TrimSpace(s.in.Text())); answer == "y" || answer == "yes" {
		return s.ctl.Accept(ctx)
	}
	return s.ctl.Reject(ctx)
}

func writeDiff(w io.Writer, p chat.Pending) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(p.OriginalCode),
		B:        difflib.SplitLines(p.Code),
		FromFile: "current",
		ToFile:   "proposed",
		Context:  3,
	})
	if err != nil || diff == "" {
		noticeColor.Fprintln(w, "proposed code is identical to the current script")
		return
	}
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Fprint(w, line)
		case strings.HasPrefix(line, "+"):
			addColor.Fprint(w, line)
		case strings.HasPrefix(line, "-"):
			delColor.Fprint(w, line)
		case strings.HasPrefix(line, "@@"):
			hunkColor.Fprint(w, line)
		default:
			fmt.Fprint(w, line)
		}
	}
	if p.Explanation != "" {
		noticeColor.Fprintln(w, p.Explanation)
	}
}

func printHistory(w io.Writer, msgs []conversation.Message, n int) {
	if n <= 0 || len(msgs) == 0 {
		return
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	for _, m := range msgs {
		if m.Role == conversation.RoleUser {
			userColor.Fprintln(w, "> "+m.Content)
			continue
		}
		assistantColor.Fprintln(w, m.Content)
	}
	fmt.Fprintln(w)
}

// renderer prints the streaming buffers as they grow and any assistant
// message that did not arrive through them.
type renderer struct {
	w io.Writer

	mu       sync.Mutex
	text     string
	thinking string
	streamed string
	seen     int
}

func newRenderer(w io.Writer, seen int) *renderer {
	return &renderer{w: w, seen: seen}
}

func (r *renderer) render(s editor.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.HasPrefix(s.ThinkingText, r.thinking) {
		thinkingColor.Fprint(r.w, s.ThinkingText[len(r.thinking):])
	}
	r.thinking = s.ThinkingText

	switch {
	case strings.HasPrefix(s.StreamingText, r.text):
		assistantColor.Fprint(r.w, s.StreamingText[len(r.text):])
	default:
		if r.text != "" {
			r.streamed = r.text
			fmt.Fprintln(r.w)
		}
		assistantColor.Fprint(r.w, s.StreamingText)
	}
	r.text = s.StreamingText

	if len(s.Messages) < r.seen {
		r.seen = len(s.Messages)
	}
	for _, m := range s.Messages[r.seen:] {
		if m.Role != conversation.RoleAssistant {
			continue
		}
		if m.Content == r.streamed {
			r.streamed = ""
			continue
		}
		noticeColor.Fprintln(r.w, m.Content)
	}
	r.seen = len(s.Messages)
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}
