// Package llm adapts OpenAI-compatible chat models to the event stream used
// by the chat services, so they can stand in for the Coze bots.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"betweenus/backend/internal/coze"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider streams replies from a langchaingo model. Bot ids are ignored:
// every conversation is sent to the same model.
type Provider struct {
	model llms.Model
}

// NewProvider wraps an existing model.
func NewProvider(model llms.Model) *Provider {
	return &Provider{model: model}
}

// NewOpenAIProvider builds a provider for an OpenAI-compatible endpoint.
func NewOpenAIProvider(apiKey, model, baseURL string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required for the openai provider")
	}
	opts := []openai.Option{openai.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return NewProvider(llm), nil
}

func (p *Provider) Configured(string) bool {
	return p != nil && p.model != nil
}

// Stream starts generation in the background and returns its events:
// content deltas as they arrive, then the completed answer.
func (p *Provider) Stream(ctx context.Context, req coze.ChatRequest) (coze.Stream, error) {
	if !p.Configured(req.BotID) {
		return nil, coze.ErrNotConfigured
	}

	messages := make([]llms.MessageContent, 0, len(req.AdditionalMessages))
	for _, m := range req.AdditionalMessages {
		role := llms.ChatMessageTypeHuman
		if m.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, m.Content))
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &modelStream{items: make(chan item), cancel: cancel}

	go func() {
		defer close(s.items)

		resp, err := p.model.GenerateContent(ctx, messages,
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				return s.send(ctx, item{ev: coze.Event{Kind: coze.EventContentDelta, Text: string(chunk)}})
			}),
		)
		if err != nil {
			log.Printf("ERROR: Model generation failed: %v", err)
			_ = s.send(ctx, item{err: err})
			return
		}
		if len(resp.Choices) == 0 {
			return
		}
		_ = s.send(ctx, item{ev: coze.Event{Kind: coze.EventTurnCompleted, Type: coze.TypeAnswer, Text: resp.Choices[0].Content}})
	}()

	return s, nil
}

type item struct {
	ev  coze.Event
	err error
}

// modelStream hands events from the generating goroutine to the reader.
type modelStream struct {
	items  chan item
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (s *modelStream) send(ctx context.Context, it item) error {
	select {
	case s.items <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *modelStream) Next() (coze.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return coze.Event{}, s.err
	}
	it, ok := <-s.items
	if !ok {
		s.err = io.EOF
		return coze.Event{}, io.EOF
	}
	if it.err != nil {
		s.err = it.err
		return coze.Event{}, it.err
	}
	return it.ev, nil
}

func (s *modelStream) Close() error {
	s.cancel()
	return nil
}
