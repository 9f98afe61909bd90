package coze

import (
	"errors"
	"io"
	"log"
	"strings"
	"time"
)

// MinSaveInterval is the shortest allowed gap between two checkpoints.
const MinSaveInterval = 2 * time.Second

// Reply is an assembled assistant turn.
type Reply struct {
	Content   string
	Reasoning string
}

// Collect drains src and returns the cleaned content of the completed turn.
// A non-empty answer turn replaces anything seen before it; a follow-up only
// counts while no answer has arrived. Without a completed turn the content
// deltas are used instead.
func Collect(src Stream) (string, error) {
	var (
		completed string
		seenTurn  bool
		answered  bool
		deltas    strings.Builder
	)

	for {
		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch ev.Kind {
		case EventContentDelta:
			deltas.WriteString(ev.Text)
		case EventTurnCompleted:
			switch {
			case ev.Type == TypeAnswer && ev.Text != "":
				completed, seenTurn, answered = ev.Text, true, true
			case ev.Type == TypeFollowUp && !seenTurn && !answered:
				completed, seenTurn = ev.Text, true
			}
		}
	}

	content := completed
	if !seenTurn || strings.TrimSpace(content) == "" {
		content = deltas.String()
	}
	return Clean(content), nil
}

// StreamAssembler relays a stream to a live consumer while periodically
// persisting what has been assembled so far.
type StreamAssembler struct {
	// OnDelta receives every reasoning and content delta in arrival order.
	OnDelta func(Event)
	// OnReasoningDone fires once, when the answer turn completes.
	OnReasoningDone func()
	// Checkpoint persists the in-progress reply.
	Checkpoint   func(content, reasoning string) error
	SaveInterval time.Duration
	Now          func() time.Time
}

// Run consumes src until it ends. The final checkpoint runs even when the
// stream fails, so partial replies survive a disconnect.
func (a *StreamAssembler) Run(src Stream) (Reply, error) {
	now := a.Now
	if now == nil {
		now = time.Now
	}
	interval := a.SaveInterval
	if interval < MinSaveInterval {
		interval = MinSaveInterval
	}

	var (
		content   strings.Builder
		reasoning strings.Builder
		completed string
		notified  bool
		runErr    error
	)
	lastSave := now()

	for {
		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			runErr = err
			break
		}

		switch ev.Kind {
		case EventReasoningDelta:
			reasoning.WriteString(ev.Text)
			a.emit(ev)
		case EventContentDelta:
			content.WriteString(ev.Text)
			a.emit(ev)
			if t := now(); t.Sub(lastSave) >= interval {
				lastSave = t
				a.checkpoint(content.String(), reasoning.String())
			}
		case EventTurnCompleted:
			if ev.Type != TypeAnswer {
				continue
			}
			if ev.Text != "" {
				completed = ev.Text
			}
			if !notified && a.OnReasoningDone != nil {
				notified = true
				a.OnReasoningDone()
			}
		}
	}

	reply := Reply{Content: content.String(), Reasoning: reasoning.String()}
	if strings.TrimSpace(reply.Content) == "" && completed != "" {
		reply.Content = Clean(completed)
	}

	if reply.Content != "" || reply.Reasoning != "" {
		if a.Checkpoint != nil {
			if err := a.Checkpoint(reply.Content, reply.Reasoning); err != nil && runErr == nil {
				runErr = err
			}
		}
	}
	return reply, runErr
}

func (a *StreamAssembler) emit(ev Event) {
	if a.OnDelta != nil {
		a.OnDelta(ev)
	}
}

func (a *StreamAssembler) checkpoint(content, reasoning string) {
	if a.Checkpoint == nil {
		return
	}
	if err := a.Checkpoint(content, reasoning); err != nil {
		log.Printf("WARNING: Failed to save partial reply: %v", err)
	}
}
