package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CoachChat is one turn of a user's private conversation with the coach bot.
type CoachChat struct {
	ID     uint   `gorm:"primaryKey" json:"id,omitempty"`
	UserID uint   `gorm:"not null;index:idx_coach_user_time" json:"user_id"`
	Role   string `gorm:"size:16;not null" json:"role"`
	// Content holds the visible reply text.
	Content string `gorm:"type:text;not null" json:"content"`
	// ReasoningContent holds the model's "thinking" channel, if any.
	ReasoningContent *string   `gorm:"type:text" json:"reasoning_content"`
	CreatedAt        time.Time `gorm:"index:idx_coach_user_time" json:"created_at"`
}

// LoungeChat is one message in the shared room of a pair.
type LoungeChat struct {
	ID     uint   `gorm:"primaryKey" json:"id,omitempty"`
	RoomID string `gorm:"size:64;not null;index:idx_lounge_room_time" json:"room_id"`
	// UserID is nil for messages written by the assistant.
	UserID           *uint   `gorm:"index" json:"user_id"`
	Role             string  `gorm:"size:16;not null" json:"role"`
	Content          string  `gorm:"type:text;not null" json:"content"`
	ReasoningContent *string `gorm:"type:text" json:"reasoning_content"`
	// SentToAI marks user messages already summarized for the assistant.
	// It never flips back to false.
	SentToAI  bool      `gorm:"not null;default:false;index" json:"sent_to_ai"`
	CreatedAt time.Time `gorm:"index:idx_lounge_room_time" json:"created_at"`
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
