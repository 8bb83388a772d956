package ai

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/golang/glog"
)

const dataPrefix = "data: "

// Decoder turns a growing response body into events. Only complete lines are
// parsed; a trailing partial line waits for the next chunk or for Flush.
type Decoder struct {
	pending   []byte
	seen      int
	processed int
}

func NewDecoder() *Decoder { return &Decoder{} }

// Feed consumes the next chunk of the body.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.seen += len(chunk)
	d.pending = append(d.pending, chunk...)
	cut := bytes.LastIndexByte(d.pending, '\n')
	if cut < 0 {
		return nil
	}
	lines := string(d.pending[:cut+1])
	d.pending = append(d.pending[:0], d.pending[cut+1:]...)
	d.processed += len(lines)
	return parseLines(lines)
}

// Progress accepts the whole body received so far and decodes only the part
// that was not seen by an earlier call.
func (d *Decoder) Progress(partial string) []Event {
	if len(partial) <= d.seen {
		return nil
	}
	return d.Feed([]byte(partial[d.seen:]))
}

// Flush decodes whatever remains once the body has ended.
func (d *Decoder) Flush() []Event {
	if len(d.pending) == 0 {
		return nil
	}
	rest := string(d.pending)
	d.pending = d.pending[:0]
	d.processed += len(rest)
	return parseLines(rest)
}

// Processed reports how many bytes have been decoded into lines.
func (d *Decoder) Processed() int { return d.processed }

func parseLines(text string) []Event {
	var out []Event
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimSpace(line[len(dataPrefix):])
		if data == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			glog.V(2).Infof("ai: skip malformed record err=%v", err)
			continue
		}
		if ev.Type == EventPing {
			continue
		}
		if !ev.Type.known() {
			glog.V(2).Infof("ai: skip unknown event type=%q", ev.Type)
			continue
		}
		out = append(out, ev)
	}
	return out
}
