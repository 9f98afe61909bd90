package handler

import (
	"net/http"
	"strconv"

	"betweenus/backend/internal/chat"

	"github.com/gin-gonic/gin"
)

func (h *Handler) LoungeRoom(c *gin.Context) {
	rel, err := h.Lounge.Room(currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"room_id": rel.RoomID})
}

// LoungeHistory returns the room's messages newer than since_id (or last_id).
func (h *Handler) LoungeHistory(c *gin.Context) {
	raw := c.Query("since_id")
	if raw == "" {
		raw = c.Query("last_id")
	}
	var sinceID uint64
	if raw != "" {
		var err error
		if sinceID, err = strconv.ParseUint(raw, 10, 64); err != nil {
			h.abort(c, http.StatusBadRequest, "error.bad_request")
			return
		}
	}

	messages, err := h.Lounge.History(currentUser(c), uint(sinceID))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"messages": messages})
}

func (h *Handler) LoungeSend(c *gin.Context) {
	var req messageRequest
	if !h.bind(c, &req) {
		return
	}
	msg, trigger, err := h.Lounge.Send(c.Request.Context(), currentUser(c), req.text())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"message": msg, "trigger_ai": trigger})
}

func (h *Handler) LoungeCallAI(c *gin.Context) {
	reply, err := h.Lounge.CallAI(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"reply": reply})
}

func (h *Handler) LoungeCallAIStream(c *gin.Context) {
	h.streamFrames(c, func(send chat.FrameSink) error {
		return h.Lounge.CallAIStream(c.Request.Context(), currentUser(c), send)
	})
}
