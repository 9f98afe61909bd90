// Package coze talks to the Coze v3 chat API and turns its server-sent
// event stream into assistant replies.
package coze

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// EventKind classifies a decoded stream event.
type EventKind int

const (
	EventReasoningDelta EventKind = iota + 1
	EventContentDelta
	EventTurnCompleted
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventReasoningDelta:
		return "reasoning_delta"
	case EventContentDelta:
		return "content_delta"
	case EventTurnCompleted:
		return "turn_completed"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Upstream event names and message types.
const (
	eventMessageDelta     = "conversation.message.delta"
	eventMessageCompleted = "conversation.message.completed"

	TypeAnswer   = "answer"
	TypeFollowUp = "follow_up"
	TypeVerbose  = "verbose"
	TypeQuestion = "question"

	doneMarker       = "[DONE]"
	quotedDoneMarker = `"[DONE]"`
)

// Event is one decoded unit of the stream. For EventTurnCompleted, Type is
// the upstream message type and Text the full turn content.
type Event struct {
	Kind EventKind
	Text string
	Type string
}

// Stream is a finite sequence of events. Next returns io.EOF after the last one.
type Stream interface {
	Next() (Event, error)
	Close() error
}

// frame is the subset of a data payload the decoder looks at.
type frame struct {
	MsgType          json.RawMessage `json:"msg_type"`
	Role             string          `json:"role"`
	Type             string          `json:"type"`
	Content          string          `json:"content"`
	ReasoningContent string          `json:"reasoning_content"`
}

// Decoder parses a text/event-stream body. Frames it cannot parse are
// skipped; only read errors from the underlying reader are returned.
type Decoder struct {
	r *bufio.Reader

	event   string
	framed  bool
	raw     bytes.Buffer
	pending []Event
	done    bool
	err     error
}

// NewDecoder reads events from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF once the stream is exhausted or a
// [DONE] marker was seen.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			return ev, nil
		}
		if d.done {
			if d.err != nil {
				return Event{}, d.err
			}
			return Event{}, io.EOF
		}

		line, err := d.r.ReadString('\n')
		if line != "" {
			d.handleLine(line)
		}
		if err != nil && !d.done {
			d.done = true
			if !errors.Is(err, io.EOF) {
				d.err = err
			} else if !d.framed {
				d.fallback()
			}
		}
	}
}

func (d *Decoder) handleLine(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		d.event = ""
		return
	}

	switch {
	case strings.HasPrefix(line, "event:"):
		d.markFramed()
		d.event = strings.TrimSpace(line[len("event:"):])
	case strings.HasPrefix(line, "data:"):
		d.markFramed()
		d.handleData(strings.TrimSpace(line[len("data:"):]))
	default:
		if !d.framed {
			d.raw.WriteString(line)
			d.raw.WriteByte('\n')
		}
	}
}

func (d *Decoder) markFramed() {
	if !d.framed {
		d.framed = true
		d.raw.Reset()
	}
}

func (d *Decoder) handleData(payload string) {
	if payload == doneMarker || payload == quotedDoneMarker {
		d.done = true
		d.pending = append(d.pending, Event{Kind: EventDone})
		return
	}
	if payload == "" {
		return
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &object); err != nil || object == nil {
		return
	}
	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return
	}
	if truthy(f.MsgType) {
		return
	}

	switch d.event {
	case eventMessageDelta:
		if f.Role != "assistant" || f.Type != TypeAnswer {
			return
		}
		if f.ReasoningContent != "" {
			d.pending = append(d.pending, Event{Kind: EventReasoningDelta, Text: f.ReasoningContent})
		}
		if f.Content != "" {
			d.pending = append(d.pending, Event{Kind: EventContentDelta, Text: f.Content})
		}
	case eventMessageCompleted:
		if f.Role != "assistant" || f.Type == TypeVerbose {
			return
		}
		if f.Type == TypeAnswer || f.Type == TypeFollowUp {
			d.pending = append(d.pending, Event{Kind: EventTurnCompleted, Type: f.Type, Text: f.Content})
		}
	}
}

// fallback handles a body that carried no event framing at all: a plain
// JSON document of the form {"code":0,"data":{"messages":[...]}}.
func (d *Decoder) fallback() {
	var doc struct {
		Code *int            `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(d.raw.Bytes(), &doc); err != nil || doc.Code == nil || *doc.Code != 0 {
		return
	}
	var data struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(doc.Data, &data); err != nil {
		return
	}
	for _, raw := range data.Messages {
		var msg struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Role == "assistant" && msg.Content != "" {
			d.pending = append(d.pending, Event{Kind: EventTurnCompleted, Type: TypeAnswer, Text: msg.Content})
			return
		}
	}
}

// truthy mirrors how loosely typed producers mark a field as set.
func truthy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0", `""`, "[]", "{}":
		return false
	}
	return true
}
