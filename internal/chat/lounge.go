package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"betweenus/backend/internal/apperr"
	"betweenus/backend/internal/config"
	"betweenus/backend/internal/coze"
	"betweenus/backend/internal/models"
	"betweenus/backend/internal/storage"
)

// Broadcaster delivers lounge events to everyone connected to a room.
type Broadcaster interface {
	Publish(ctx context.Context, event *models.LoungeEvent) error
}

// LoungeService is the shared room of a couple, where either partner can
// ask the assistant for mediation advice.
type LoungeService struct {
	*responder
	BotID       string
	Broadcaster Broadcaster
}

func NewLoungeService(opts Options, botID string, b Broadcaster) *LoungeService {
	return &LoungeService{responder: newResponder(opts, "lounge"), BotID: botID, Broadcaster: b}
}

// Room returns the active relationship of user.
func (s *LoungeService) Room(user *models.User) (*models.Relationship, error) {
	if !user.HasPartner() {
		return nil, apperr.Validation("lounge.not_bound")
	}
	rel, err := s.Storage.GetRelationshipByRoom(models.RoomIDFor(user.ID, *user.PartnerID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("lounge.no_relationship")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load relationship: %w", err)
	}
	if !rel.IsActive {
		return nil, apperr.NotFound("lounge.no_relationship")
	}
	return rel, nil
}

// Authorize checks that user belongs to roomID.
func (s *LoungeService) Authorize(user *models.User, roomID string) (*models.Relationship, error) {
	rel, err := s.Storage.GetRelationshipByRoom(roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("lounge.room_not_found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if !rel.Includes(user.ID) || !rel.IsActive {
		return nil, apperr.Forbidden("lounge.forbidden")
	}
	return rel, nil
}

// History returns the room's messages with an id above sinceID.
func (s *LoungeService) History(user *models.User, sinceID uint) ([]models.LoungeChat, error) {
	rel, err := s.Room(user)
	if err != nil {
		return nil, err
	}
	chats, err := s.Storage.ListLoungeChats(rel.RoomID, sinceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lounge history: %w", err)
	}
	return chats, nil
}

// WantsAI reports whether content addresses the assistant.
func WantsAI(content string) bool {
	for _, trigger := range config.AITriggers {
		if strings.Contains(content, trigger) {
			return true
		}
	}
	return false
}

// Send stores a message from user and broadcasts it to the room.
func (s *LoungeService) Send(ctx context.Context, user *models.User, content string) (*models.LoungeChat, bool, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false, apperr.Validation("chat.message_required")
	}
	rel, err := s.Room(user)
	if err != nil {
		return nil, false, err
	}

	uid := user.ID
	msg := &models.LoungeChat{RoomID: rel.RoomID, UserID: &uid, Role: models.RoleUser, Content: content}
	if err := s.Storage.CreateLoungeChat(msg); err != nil {
		return nil, false, fmt.Errorf("failed to save lounge message: %w", err)
	}

	trigger := WantsAI(content)
	s.publish(ctx, &models.LoungeEvent{Event: models.EventNewMessage, RoomID: rel.RoomID, Message: msg, TriggerAI: trigger})
	return msg, trigger, nil
}

// Join announces user in the room.
func (s *LoungeService) Join(ctx context.Context, user *models.User, roomID string) {
	s.publish(ctx, &models.LoungeEvent{Event: models.EventUserJoined, RoomID: roomID, UserID: user.ID})
}

// CallAI asks the assistant about the messages posted since its last
// reply and returns its advice.
func (s *LoungeService) CallAI(ctx context.Context, user *models.User) (string, error) {
	rel, err := s.Room(user)
	if err != nil {
		return "", err
	}

	req, ok, err := s.prepare(rel.RoomID)
	if err != nil {
		return "", err
	}
	reply := s.text("ai.nothing_to_analyze")
	if ok {
		reply = s.complete(ctx, req)
	}

	msg := &models.LoungeChat{RoomID: rel.RoomID, Role: models.RoleAssistant, Content: reply}
	if err := s.Storage.CreateLoungeChat(msg); err != nil {
		return "", fmt.Errorf("failed to save lounge reply: %w", err)
	}
	s.publish(ctx, &models.LoungeEvent{Event: models.EventNewMessage, RoomID: rel.RoomID, Message: msg})
	return reply, nil
}

// CallAIStream is CallAI with the reply relayed to send and to the room as
// ai_stream events while it arrives.
func (s *LoungeService) CallAIStream(ctx context.Context, user *models.User, send FrameSink) error {
	rel, err := s.Room(user)
	if err != nil {
		return err
	}
	if send == nil {
		send = func(Frame) {}
	}
	roomID := rel.RoomID

	req, ok, err := s.prepare(roomID)
	if err != nil {
		return err
	}

	msg := &models.LoungeChat{RoomID: roomID, Role: models.RoleAssistant}
	save := func(content, reasoning string) error {
		msg.Content = content
		msg.ReasoningContent = models.StringPtr(reasoning)
		if msg.ID == 0 {
			return s.Storage.CreateLoungeChat(msg)
		}
		return s.Storage.UpdateLoungeChat(msg)
	}

	if !ok {
		reply := s.text("ai.nothing_to_analyze")
		if err := save(reply, ""); err != nil {
			return fmt.Errorf("failed to save lounge reply: %w", err)
		}
		s.finish(ctx, msg)
		send(doneFrame(reply, ""))
		return nil
	}

	hooks := relay(send)
	forward := hooks.onDelta
	hooks.onDelta = func(ev coze.Event) {
		forward(ev)
		if ev.Kind == coze.EventContentDelta {
			s.publish(ctx, &models.LoungeEvent{Event: models.EventAIStream, RoomID: roomID, Type: models.StreamDelta, Content: ev.Text})
		}
	}
	hooks.save = save
	reply, sentinel := s.stream(ctx, req, hooks)

	if sentinel != "" {
		if err := save(sentinel, reply.Reasoning); err != nil {
			log.Printf("ERROR: Failed to save lounge sentinel in %s: %v", roomID, err)
		}
		s.finish(ctx, msg)
		send(Frame{Type: FrameError, Content: sentinel})
		return nil
	}
	s.finish(ctx, msg)
	send(doneFrame(reply.Content, reply.Reasoning))
	return nil
}

// finish tells the room the assistant turn is complete. It runs even when
// the caller has gone away.
func (s *LoungeService) finish(ctx context.Context, msg *models.LoungeChat) {
	ctx = context.WithoutCancel(ctx)
	s.publish(ctx, &models.LoungeEvent{Event: models.EventAIStream, RoomID: msg.RoomID, Type: models.StreamDone, Content: msg.Content})
	s.publish(ctx, &models.LoungeEvent{Event: models.EventNewMessage, RoomID: msg.RoomID, Message: msg})
}

// prepare claims the unsummarized messages of the room and turns them into
// a request. ok is false when there was nothing to claim. History is read
// before the claim so a failed read leaves the messages unclaimed.
func (s *LoungeService) prepare(roomID string) (req coze.ChatRequest, ok bool, err error) {
	// Earlier turns give the assistant context beyond this batch.
	recent, err := s.Storage.RecentLoungeChats(roomID, config.LoungeHistoryWindow)
	if err != nil {
		return req, false, fmt.Errorf("failed to load lounge history: %w", err)
	}

	claimed, err := s.Storage.ClaimUnsentLoungeChats(roomID, config.LoungeAIBatch)
	if err != nil {
		return req, false, fmt.Errorf("failed to claim lounge messages: %w", err)
	}
	if len(claimed) == 0 {
		return req, false, nil
	}

	handles := map[uint]string{}
	handle := func(id *uint) string {
		if id == nil {
			return ""
		}
		if h, ok := handles[*id]; ok {
			return h
		}
		h := "用户"
		if u, err := s.Storage.GetUserByID(*id); err == nil {
			h = u.DisplayHandle()
		}
		handles[*id] = h
		return h
	}

	lines := make([]string, 0, len(claimed))
	inBatch := make(map[uint]bool, len(claimed))
	for _, m := range claimed {
		inBatch[m.ID] = true
		lines = append(lines, handle(m.UserID)+": "+m.Content)
	}

	messages := make([]coze.Message, 0, len(recent)+1)
	for _, m := range recent {
		if inBatch[m.ID] || m.ID >= claimed[0].ID {
			continue
		}
		content := m.Content
		if m.Role == models.RoleUser {
			content = handle(m.UserID) + ": " + content
		}
		messages = append(messages, coze.NewMessage(m.Role, content))
	}

	prompt := s.text("ai.lounge_prompt") + strings.Join(lines, "\n")
	messages = append(messages, coze.NewMessage(models.RoleUser, prompt))
	return request(s.BotID, roomID, messages), true, nil
}

func (s *LoungeService) publish(ctx context.Context, event *models.LoungeEvent) {
	if s.Broadcaster == nil {
		return
	}
	if err := s.Broadcaster.Publish(ctx, event); err != nil {
		log.Printf("WARNING: Failed to broadcast %s to %s: %v", event.Event, event.RoomID, err)
	}
}
