package ai

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"owconsole/internal/transport"
)

const (
	streamPath = "/api/v1/ai/chat/stream"
	chatPath   = "/api/v1/ai/chat"
)

// Streamer starts one AI chat turn. Failures after the call returns arrive
// in-band as a single error event.
type Streamer interface {
	Stream(ctx context.Context, req ChatRequest) (*Stream, error)
}

// Stream is one running chat turn. Events arrive in the order they were
// produced. After Close no further event is delivered.
type Stream struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// NewStream runs produce on its own goroutine. emit reports false once the
// stream has been closed; produce should return then.
func NewStream(parent context.Context, produce func(ctx context.Context, emit func(Event) bool)) *Stream {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream{
		events: make(chan Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		produce(ctx, func(ev Event) bool {
			select {
			case s.events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return s
}

// Next blocks for the next event. It returns io.EOF once the stream has
// ended and ErrStreamClosed after Close.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	if s == nil {
		return Event{}, ErrStreamClosed
	}
	select {
	case ev, ok := <-s.events:
		if s.closed.Load() {
			return Event{}, ErrStreamClosed
		}
		if !ok {
			return Event{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close cancels the turn and waits for the producer to stop. Safe to call
// more than once.
func (s *Stream) Close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		for range s.events {
		}
		<-s.done
	})
	return nil
}

// Collect drains the stream into a slice. Mostly useful for tests and
// non-interactive callers.
func Collect(ctx context.Context, s *Stream) ([]Event, error) {
	var out []Event
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

// HTTPStreamer runs chat turns against the OpenWorkers API.
type HTTPStreamer struct {
	api *transport.Client
}

func NewHTTPStreamer(api *transport.Client) *HTTPStreamer {
	glog.V(1).Infof("ai: http streamer base=%s", api.BaseURL())
	return &HTTPStreamer{api: api}
}

func (h *HTTPStreamer) Stream(ctx context.Context, req ChatRequest) (*Stream, error) {
	if h == nil || h.api == nil {
		return nil, errors.New("ai: streamer is nil")
	}
	return NewStream(ctx, func(ctx context.Context, emit func(Event) bool) {
		body, err := h.api.Stream(ctx, streamPath, req)
		if err != nil {
			if ctx.Err() == nil {
				glog.Warningf("ai: stream request failed err=%v", err)
				emit(errorEvent(err.Error()))
			}
			return
		}
		defer body.Close()
		pump(ctx, body, emit)
	}), nil
}

// Chat runs one turn without streaming.
func (h *HTTPStreamer) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var out ChatResponse
	if h == nil || h.api == nil {
		return out, errors.New("ai: streamer is nil")
	}
	err := h.api.Post(ctx, chatPath, req, &out)
	return out, err
}

func pump(ctx context.Context, body io.Reader, emit func(Event) bool) {
	dec := NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if !emit(ev) {
					return
				}
			}
		}
		if errors.Is(err, io.EOF) {
			for _, ev := range dec.Flush() {
				if !emit(ev) {
					return
				}
			}
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				glog.Warningf("ai: stream read failed after %d bytes err=%v", dec.Processed(), err)
				emit(errorEvent(err.Error()))
			}
			return
		}
	}
}
