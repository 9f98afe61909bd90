package handler

import (
	"betweenus/backend/internal/chat"

	"github.com/gin-gonic/gin"
)

type messageRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
}

// text returns whichever of the two accepted body fields is set.
func (r messageRequest) text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Content
}

func (h *Handler) CoachChat(c *gin.Context) {
	var req messageRequest
	if !h.bind(c, &req) {
		return
	}
	reply, err := h.Coach.Chat(c.Request.Context(), currentUser(c), req.text())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"reply": reply, "message": reply})
}

func (h *Handler) CoachChatStream(c *gin.Context) {
	var req messageRequest
	if !h.bind(c, &req) {
		return
	}
	h.streamFrames(c, func(send chat.FrameSink) error {
		return h.Coach.ChatStream(c.Request.Context(), currentUser(c), req.text(), send)
	})
}

func (h *Handler) CoachHistory(c *gin.Context) {
	messages, err := h.Coach.History(currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"messages": messages})
}

func (h *Handler) CoachClear(c *gin.Context) {
	if err := h.Coach.Clear(currentUser(c)); err != nil {
		h.fail(c, err)
		return
	}
	h.okMessage(c, "coach.cleared")
}
