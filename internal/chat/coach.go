package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"betweenus/backend/internal/apperr"
	"betweenus/backend/internal/config"
	"betweenus/backend/internal/coze"
	"betweenus/backend/internal/models"
)

// CoachService is a user's private conversation with the coach bot.
type CoachService struct {
	*responder
	BotID string
}

func NewCoachService(opts Options, botID string) *CoachService {
	return &CoachService{responder: newResponder(opts, "coach"), BotID: botID}
}

// prepare validates message, stores it, and returns the upstream request
// carrying the recent history followed by it.
func (s *CoachService) prepare(user *models.User, message string) (coze.ChatRequest, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return coze.ChatRequest{}, apperr.Validation("chat.message_required")
	}

	history, err := s.Storage.RecentCoachChats(user.ID, config.CoachHistoryWindow)
	if err != nil {
		return coze.ChatRequest{}, fmt.Errorf("failed to load coach history: %w", err)
	}
	if err := s.Storage.CreateCoachChat(&models.CoachChat{UserID: user.ID, Role: models.RoleUser, Content: message}); err != nil {
		return coze.ChatRequest{}, fmt.Errorf("failed to save message: %w", err)
	}

	messages := make([]coze.Message, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, coze.NewMessage(turn.Role, turn.Content))
	}
	messages = append(messages, coze.NewMessage(models.RoleUser, message))
	return request(s.BotID, user.Phone, messages), nil
}

// Chat sends message and returns the coach's reply, which is a sentinel
// text when the upstream fails.
func (s *CoachService) Chat(ctx context.Context, user *models.User, message string) (string, error) {
	req, err := s.prepare(user, message)
	if err != nil {
		return "", err
	}

	reply := s.complete(ctx, req)
	if err := s.Storage.CreateCoachChat(&models.CoachChat{UserID: user.ID, Role: models.RoleAssistant, Content: reply}); err != nil {
		return "", fmt.Errorf("failed to save reply: %w", err)
	}
	return reply, nil
}

// ChatStream is Chat with the reply relayed to send as it arrives. Errors
// are only returned before streaming starts.
func (s *CoachService) ChatStream(ctx context.Context, user *models.User, message string, send FrameSink) error {
	req, err := s.prepare(user, message)
	if err != nil {
		return err
	}

	msg := &models.CoachChat{UserID: user.ID, Role: models.RoleAssistant}
	save := func(content, reasoning string) error {
		msg.Content = content
		msg.ReasoningContent = models.StringPtr(reasoning)
		if msg.ID == 0 {
			return s.Storage.CreateCoachChat(msg)
		}
		return s.Storage.UpdateCoachChat(msg)
	}

	hooks := relay(send)
	hooks.save = save
	reply, sentinel := s.stream(ctx, req, hooks)

	if sentinel != "" {
		if err := save(sentinel, reply.Reasoning); err != nil {
			log.Printf("ERROR: Failed to save coach sentinel for user %d: %v", user.ID, err)
		}
		send(Frame{Type: FrameError, Content: sentinel})
		return nil
	}
	send(doneFrame(reply.Content, reply.Reasoning))
	return nil
}

// History returns the whole conversation. The first read of an empty
// conversation posts a greeting.
func (s *CoachService) History(user *models.User) ([]models.CoachChat, error) {
	chats, err := s.Storage.ListCoachChats(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load coach history: %w", err)
	}
	if len(chats) > 0 || user.CoachGreetingShown {
		return chats, nil
	}

	greeting := models.CoachChat{
		UserID:  user.ID,
		Role:    models.RoleAssistant,
		Content: s.Localizer.Pick(s.Lang, "coach.greeting", config.GreetingVariants),
	}
	if err := s.Storage.CreateCoachChat(&greeting); err != nil {
		return nil, fmt.Errorf("failed to save greeting: %w", err)
	}
	user.CoachGreetingShown = true
	if err := s.Storage.SetCoachGreetingShown(user.ID, true); err != nil {
		log.Printf("WARNING: Failed to mark greeting shown for user %d: %v", user.ID, err)
	}
	return []models.CoachChat{greeting}, nil
}

// Clear deletes the conversation; the next read greets the user again.
func (s *CoachService) Clear(user *models.User) error {
	if err := s.Storage.DeleteCoachChats(user.ID); err != nil {
		return fmt.Errorf("failed to clear coach history: %w", err)
	}
	user.CoachGreetingShown = false
	if err := s.Storage.SetCoachGreetingShown(user.ID, false); err != nil {
		return fmt.Errorf("failed to reset greeting: %w", err)
	}
	return nil
}
