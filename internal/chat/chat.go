// Package chat runs the coach and lounge conversations: it builds upstream
// requests from stored history, relays replies and persists every turn.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"betweenus/backend/internal/config"
	"betweenus/backend/internal/coze"
	"betweenus/backend/internal/localization"
	"betweenus/backend/internal/metrics"
	"betweenus/backend/internal/storage"
)

// Provider produces assistant replies as an event stream.
type Provider interface {
	Configured(botID string) bool
	Stream(ctx context.Context, req coze.ChatRequest) (coze.Stream, error)
}

// Frame types of a streamed reply.
const (
	FrameReasoning     = "reasoning"
	FrameContent       = "content"
	FrameReasoningDone = "reasoning_done"
	FrameDone          = "done"
	FrameError         = "error"
)

// Frame is one event of a streamed reply as sent to the browser.
type Frame struct {
	Type             string  `json:"type"`
	Content          string  `json:"content,omitempty"`
	FinalContent     *string `json:"final_content,omitempty"`
	ReasoningContent *string `json:"reasoning_content,omitempty"`
}

// FrameSink receives frames in order. It must not block for long.
type FrameSink func(Frame)

func doneFrame(content, reasoning string) Frame {
	return Frame{Type: FrameDone, FinalContent: &content, ReasoningContent: &reasoning}
}

// Options are the collaborators shared by both conversation services.
type Options struct {
	Storage   storage.Storage
	Provider  Provider
	Localizer *localization.Localizer
	Lang      string
	Metrics   *metrics.Metrics
	// SaveInterval is the gap between checkpoints of a streamed reply.
	SaveInterval time.Duration
	Now          func() time.Time
}

func (o Options) text(key string) string {
	return o.Localizer.GetString(o.Lang, key)
}

// responder talks to the provider and turns failures into sentinel replies.
type responder struct {
	Options
	label     string
	sentinels coze.Sentinels
}

func newResponder(opts Options, label string) *responder {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SaveInterval == 0 {
		opts.SaveInterval = config.StreamSaveInterval
	}
	return &responder{
		Options: opts,
		label:   label,
		sentinels: coze.Sentinels{
			Timeout:       opts.text("ai.timeout"),
			Failure:       opts.text("ai.failed"),
			Empty:         opts.text("ai.empty"),
			NotConfigured: opts.text("ai.not_configured"),
		},
	}
}

// request wraps history into a chat request for botID.
func request(botID, userID string, messages []coze.Message) coze.ChatRequest {
	return coze.ChatRequest{
		BotID:              botID,
		UserID:             userID,
		Stream:             true,
		AutoSaveHistory:    true,
		AdditionalMessages: messages,
	}
}

// complete returns the cleaned reply, or a sentinel when there is none.
func (r *responder) complete(ctx context.Context, req coze.ChatRequest) string {
	started := r.Now()
	reply, err := r.collect(ctx, req)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = coze.ErrEmptyReply
	}
	r.observe(started, err)
	if err != nil {
		log.Printf("ERROR: %s reply failed: %v", r.label, err)
		return r.sentinels.Describe(err)
	}
	return reply
}

func (r *responder) collect(ctx context.Context, req coze.ChatRequest) (string, error) {
	if !r.Provider.Configured(req.BotID) {
		return "", coze.ErrNotConfigured
	}
	stream, err := r.Provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()
	return coze.Collect(stream)
}

// streamHooks receive the live parts of a streamed reply.
type streamHooks struct {
	onDelta         func(coze.Event)
	onReasoningDone func()
	save            func(content, reasoning string) error
}

// stream relays a reply through hooks. It returns the assembled reply and,
// when nothing usable came back, the sentinel to show instead.
func (r *responder) stream(ctx context.Context, req coze.ChatRequest, hooks streamHooks) (coze.Reply, string) {
	defer r.Metrics.StreamOpened(r.label)()
	started := r.Now()

	var (
		reply coze.Reply
		err   error
	)
	if !r.Provider.Configured(req.BotID) {
		err = coze.ErrNotConfigured
	} else {
		var src coze.Stream
		src, err = r.Provider.Stream(ctx, req)
		if err == nil {
			assembler := &coze.StreamAssembler{
				OnDelta:         hooks.onDelta,
				OnReasoningDone: hooks.onReasoningDone,
				Checkpoint: func(content, reasoning string) error {
					r.Metrics.Checkpoint(r.label)
					return hooks.save(content, reasoning)
				},
				SaveInterval: r.SaveInterval,
				Now:          r.Now,
			}
			reply, err = assembler.Run(src)
			_ = src.Close()
		}
	}

	if err == nil && strings.TrimSpace(reply.Content) == "" {
		err = coze.ErrEmptyReply
	}
	r.observe(started, err)

	switch {
	case err == nil:
		return reply, ""
	case strings.TrimSpace(reply.Content) != "":
		// Keep what arrived before the failure; it is already saved.
		log.Printf("WARNING: %s stream ended early: %v", r.label, err)
		return reply, ""
	}
	log.Printf("ERROR: %s stream failed: %v", r.label, err)
	return reply, r.sentinels.Describe(err)
}

func (r *responder) observe(started time.Time, err error) {
	result := metrics.ResultOK
	switch {
	case err == nil:
	case errors.Is(err, coze.ErrNotConfigured):
		result = metrics.ResultDisabled
	case errors.Is(err, coze.ErrEmptyReply):
		result = metrics.ResultEmpty
	case coze.IsTimeout(err):
		result = metrics.ResultTimeout
	default:
		result = metrics.ResultError
	}
	r.Metrics.ObserveUpstream(r.label, result, r.Now().Sub(started))
}

// relay forwards assembler callbacks to a frame sink.
func relay(send FrameSink) streamHooks {
	return streamHooks{
		onDelta: func(ev coze.Event) {
			switch ev.Kind {
			case coze.EventReasoningDelta:
				send(Frame{Type: FrameReasoning, Content: ev.Text})
			case coze.EventContentDelta:
				send(Frame{Type: FrameContent, Content: ev.Text})
			}
		},
		onReasoningDone: func() { send(Frame{Type: FrameReasoningDone}) },
	}
}
