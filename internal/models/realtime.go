package models

// Lounge event names exchanged over the room channel.
const (
	EventNewMessage  = "new_message"
	EventAIStream    = "ai_stream"
	EventUserJoined  = "user_joined"
	EventSendMessage = "send_message"
	EventCallAI      = "call_ai"
	EventJoin        = "join"
)

// ai_stream frame types.
const (
	StreamDelta = "delta"
	StreamDone  = "done"
)

// LoungeEvent is broadcast to every connection in a room.
type LoungeEvent struct {
	Event     string      `json:"event"`
	RoomID    string      `json:"room_id"`
	Message   *LoungeChat `json:"message,omitempty"`
	TriggerAI bool        `json:"trigger_ai,omitempty"`
	Type      string      `json:"type,omitempty"`
	Content   string      `json:"content,omitempty"`
	UserID    uint        `json:"user_id,omitempty"`
}

// LoungeCommand is a frame sent by a lounge client.
type LoungeCommand struct {
	Event   string `json:"event"`
	Content string `json:"content"`
}
