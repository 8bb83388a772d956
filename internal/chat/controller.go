// Package chat drives an editor session from AI stream events and owns the
// accept/reject decision on proposed code.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/glog"

	"owconsole/internal/ai"
	"owconsole/internal/editor"
	"owconsole/internal/live"
)

const (
	DefaultThinkingBudget = 10000

	clearCommand    = "/clear"
	fixPrompt       = "Fix these TypeScript issues:\n"
	appliedFallback = "Code applied"
	rejectedMessage = "❌ Code changes rejected"
)

var (
	ErrBusy          = errors.New("chat: a reply is still streaming")
	ErrDiffPending   = errors.New("chat: accept or reject the proposed code first")
	ErrNoPendingDiff = errors.New("chat: no proposed code")
	ErrApplying      = errors.New("chat: proposed code is being applied")
)

// Hints are canned prompts offered next to the input.
var Hints = []string{"Add error handling", "Explain this code", "Add debug logs", "Make it prettier"}

type State int

const (
	Idle State = iota
	Streaming
	AwaitingDiffDecision
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case AwaitingDiffDecision:
		return "awaiting-diff-decision"
	}
	return "unknown"
}

// Pending is a code proposal waiting for Accept or Reject.
type Pending struct {
	Code         string
	Explanation  string
	OriginalCode string
}

// View is what a front end renders besides the editor snapshot.
type View struct {
	State             State
	Pending           *Pending
	Usage             *ai.Usage
	Thinking          bool
	ThinkingShown     bool
	ThinkingCollapsed bool
	GeneratingCode    bool
	Applying          bool
}

type Options struct {
	Model          string
	ThinkingBudget int
	// OnApply receives accepted code, e.g. to write it back to the worker.
	// When it fails the proposal stays pending and Accept returns the error.
	OnApply func(ctx context.Context, code string) error
}

type Controller struct {
	store    *editor.Store
	streamer ai.Streamer
	opts     Options

	mu     sync.Mutex
	view   View
	stream *ai.Stream
	gen    uint64
	turn   chan struct{}

	out *live.Value[View]
}

func New(store *editor.Store, streamer ai.Streamer, opts Options) *Controller {
	if opts.ThinkingBudget <= 0 {
		opts.ThinkingBudget = DefaultThinkingBudget
	}
	return &Controller{
		store:    store,
		streamer: streamer,
		opts:     opts,
		out:      live.New(View{}),
	}
}

// Session is the editor store this controller drives.
func (c *Controller) Session() *editor.Store { return c.store }

// Updates publishes the View after every change. Subscribers must not call
// back into the Controller.
func (c *Controller) Updates() *live.Value[View] { return c.out }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.State
}

func (c *Controller) Pending() (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view.Pending == nil {
		return Pending{}, false
	}
	return *c.view.Pending, true
}

func (c *Controller) Usage() (ai.Usage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view.Usage == nil {
		return ai.Usage{}, false
	}
	return *c.view.Usage, true
}

// Send starts a new turn with content. Events are applied in the background;
// use Wait to block until the turn ends.
func (c *Controller) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store.IsStreaming() {
		return ErrBusy
	}
	if c.view.State == AwaitingDiffDecision {
		return ErrDiffPending
	}
	if strings.EqualFold(content, clearCommand) {
		return c.store.ClearConversation(ctx)
	}

	_ = c.store.AddUserMessage(ctx, content)
	c.store.StartStreaming()
	c.view = View{State: Streaming}
	c.publishLocked()

	thinking := c.store.ThinkingEnabled()
	budget := c.opts.ThinkingBudget
	req := ai.ChatRequest{
		Code:           c.store.Code(),
		Diagnostics:    nonNil(c.store.Diagnostics()),
		Messages:       c.store.MessagesForAPI(),
		UserMessage:    content,
		Model:          c.opts.Model,
		EnableThinking: &thinking,
		ThinkingBudget: &budget,
	}

	c.stopLocked()
	c.gen++
	gen := c.gen
	stream, err := c.streamer.Stream(ctx, req)
	if err != nil {
		glog.Warningf("chat: start stream failed err=%v", err)
		c.applyLocked(ctx, ai.Event{Type: ai.EventError, Message: err.Error()})
		return nil
	}
	c.stream = stream
	c.turn = make(chan struct{})
	go c.run(ctx, gen, stream, c.turn)
	return nil
}

// QuickPrompt sends one of the Hints, or any other canned prompt.
func (c *Controller) QuickPrompt(ctx context.Context, prompt string) error {
	return c.Send(ctx, prompt)
}

// AskToFix asks for a fix of the current diagnostics.
func (c *Controller) AskToFix(ctx context.Context) error {
	return c.Send(ctx, fixPrompt+strings.Join(c.store.Diagnostics(), "\n"))
}

// Wait blocks until the running turn has delivered its last event.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	turn := c.turn
	c.mu.Unlock()
	if turn == nil {
		return nil
	}
	select {
	case <-turn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent applies one event to the session as if it came from the
// running stream.
func (c *Controller) HandleEvent(ctx context.Context, ev ai.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(ctx, ev)
}

// Complete applies the end of a stream that had no done event.
func (c *Controller) Complete(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeLocked(ctx)
}

// Accept applies the proposed code and records a confirmation message.
// OnApply runs without the controller lock; while it runs a second Accept
// or Reject returns ErrApplying.
func (c *Controller) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.view.State != AwaitingDiffDecision || c.view.Pending == nil {
		c.mu.Unlock()
		return ErrNoPendingDiff
	}
	if c.view.Applying {
		c.mu.Unlock()
		return ErrApplying
	}
	p := *c.view.Pending
	c.view.Applying = true
	c.publishLocked()
	c.mu.Unlock()

	var applyErr error
	if c.opts.OnApply != nil {
		applyErr = c.opts.OnApply(ctx, p.Code)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.Applying = false
	if applyErr != nil {
		glog.Warningf("chat: apply code failed err=%v", applyErr)
		c.publishLocked()
		return fmt.Errorf("apply code: %w", applyErr)
	}
	c.store.UpdateCode(p.Code)
	msg := p.Explanation
	if msg == "" {
		msg = appliedFallback
	}
	err := c.store.AddAssistantMessage(ctx, "✅ "+msg)
	c.closeDiffLocked()
	return err
}

// Reject drops the proposed code and records a rejection message.
func (c *Controller) Reject(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view.State != AwaitingDiffDecision || c.view.Pending == nil {
		return ErrNoPendingDiff
	}
	if c.view.Applying {
		return ErrApplying
	}
	err := c.store.AddAssistantMessage(ctx, rejectedMessage)
	c.closeDiffLocked()
	return err
}

// Cancel stops the running turn. Text streamed so far is discarded; a
// proposal that already arrived stays pending.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

// Close stops any running turn and saves the conversation.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
	return c.store.Cleanup(ctx)
}

func (c *Controller) run(ctx context.Context, gen uint64, stream *ai.Stream, done chan struct{}) {
	defer close(done)
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			// A cancelled caller context ends the turn like Cancel does,
			// even when the producer noticed first and closed the stream.
			c.mu.Lock()
			if c.gen == gen {
				switch {
				case ctx.Err() != nil:
					c.cancelLocked()
				case errors.Is(err, io.EOF):
					c.completeLocked(ctx)
				}
			}
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.applyLocked(ctx, ev)
		c.mu.Unlock()
	}
}

func (c *Controller) applyLocked(ctx context.Context, ev ai.Event) {
	switch ev.Type {
	case ai.EventMessageStart, ai.EventMessageDelta:
		if ev.Usage != nil {
			u := *ev.Usage
			c.view.Usage = &u
		}
	case ai.EventThinkingStart:
		c.view.Thinking = true
		c.view.ThinkingShown = true
		c.view.ThinkingCollapsed = false
	case ai.EventThinking:
		c.store.AppendThinkingText(ev.Content)
	case ai.EventThinkingStop:
		c.view.Thinking = false
		c.view.ThinkingCollapsed = true
	case ai.EventText:
		c.store.AppendStreamingText(ev.Content)
	case ai.EventCodeStart:
		if c.store.StreamingText() != "" {
			_ = c.store.FinalizeStreaming(ctx)
			c.store.StartStreaming()
		}
		c.view.GeneratingCode = true
	case ai.EventCodeComplete:
		c.view.Pending = &Pending{
			Code:         ev.Code,
			Explanation:  ev.Explanation,
			OriginalCode: c.store.Code(),
		}
		c.view.GeneratingCode = false
		c.view.State = AwaitingDiffDecision
	case ai.EventError:
		glog.V(1).Infof("chat: stream error type=%s msg=%s", ev.ErrorType, ev.Message)
		_ = c.store.AddAssistantMessage(ctx, "Error: "+ev.Message)
		c.store.CancelStreaming()
		c.view.Thinking = false
		c.view.GeneratingCode = false
		c.view.State = c.restingStateLocked()
	case ai.EventDone:
		if c.store.StreamingText() != "" && c.view.Pending == nil {
			_ = c.store.FinalizeStreaming(ctx)
		} else {
			c.store.CancelStreaming()
		}
		c.view.GeneratingCode = false
		c.view.Thinking = false
		c.view.State = c.restingStateLocked()
	default:
		return
	}
	c.publishLocked()
}

func (c *Controller) completeLocked(ctx context.Context) {
	if c.store.IsStreaming() && c.view.Pending == nil {
		_ = c.store.FinalizeStreaming(ctx)
	}
	c.view.GeneratingCode = false
	if c.view.State == Streaming {
		c.view.State = c.restingStateLocked()
	}
	c.publishLocked()
}

func (c *Controller) cancelLocked() {
	c.stopLocked()
	c.store.CancelStreaming()
	c.view.Thinking = false
	c.view.GeneratingCode = false
	c.view.State = c.restingStateLocked()
	c.publishLocked()
}

func (c *Controller) closeDiffLocked() {
	c.view.Pending = nil
	c.view.Thinking = false
	c.store.CancelStreaming()
	c.view.State = Idle
	c.publishLocked()
}

func (c *Controller) stopLocked() {
	if c.stream == nil {
		return
	}
	c.gen++
	_ = c.stream.Close()
	c.stream = nil
}

func (c *Controller) restingStateLocked() State {
	if c.view.Pending != nil {
		return AwaitingDiffDecision
	}
	return Idle
}

func (c *Controller) publishLocked() {
	v := c.view
	if v.Pending != nil {
		p := *v.Pending
		v.Pending = &p
	}
	if v.Usage != nil {
		u := *v.Usage
		v.Usage = &u
	}
	c.out.Set(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
