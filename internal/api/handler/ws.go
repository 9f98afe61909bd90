package handler

import (
	"context"
	"log"
	"net/http"

	"betweenus/backend/internal/chat"
	"betweenus/backend/internal/chathub"
	"betweenus/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The mini-program and the web client are served from other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeLounge upgrades a room member's connection and attaches it to the hub.
func (h *Handler) ServeLounge(c *gin.Context) {
	user := currentUser(c)
	roomID := c.Param("room_id")

	// 1. Only the two members of an open room may connect
	if _, err := h.Lounge.Authorize(user, roomID); err != nil {
		h.fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written an error response.
		log.Printf("ERROR: Lounge upgrade for user %d failed: %v", user.ID, err)
		return
	}

	// 2. Attach to the hub, then start the pumps
	client := chathub.NewWebSocketClient(h.Hub, conn, user.ID, roomID, h.loungeCommand)
	if !h.Hub.Register(client) {
		conn.Close()
		return
	}
	client.Run()
}

// loungeCommand executes one inbound lounge frame. Replies reach the
// connection through room broadcasts, never directly.
func (h *Handler) loungeCommand(ctx context.Context, client chathub.Client, cmd models.LoungeCommand) {
	// Reload so an unbind since the handshake is honoured.
	user, err := h.Accounts.GetUser(client.GetUserID())
	if err != nil {
		log.Printf("WARNING: Lounge user %d vanished: %v", client.GetUserID(), err)
		return
	}

	switch cmd.Event {
	case models.EventSendMessage:
		_, trigger, err := h.Lounge.Send(ctx, user, cmd.Content)
		if err != nil {
			log.Printf("WARNING: Lounge message from user %d rejected: %v", user.ID, err)
			return
		}
		if trigger {
			h.loungeAI(ctx, user)
		}

	case models.EventCallAI:
		h.loungeAI(ctx, user)

	case models.EventJoin:
		h.Lounge.Join(ctx, user, client.GetRoomID())

	default:
		log.Printf("WARNING: Unknown lounge event %q from user %d", cmd.Event, user.ID)
	}
}

func (h *Handler) loungeAI(ctx context.Context, user *models.User) {
	if err := h.Lounge.CallAIStream(ctx, user, func(chat.Frame) {}); err != nil {
		log.Printf("WARNING: Lounge AI call for user %d failed: %v", user.ID, err)
	}
}
