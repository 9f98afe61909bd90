package handler

import (
	"github.com/gin-gonic/gin"
)

// BindingCode returns the caller's code, creating one on first use.
func (h *Handler) BindingCode(c *gin.Context) {
	code, err := h.Binding.Code(currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"binding_code": code})
}

func (h *Handler) RegenerateBindingCode(c *gin.Context) {
	code, err := h.Binding.Regenerate(currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"binding_code": code})
}

func (h *Handler) Bind(c *gin.Context) {
	var req struct {
		BindingCode string `json:"binding_code"`
		Code        string `json:"code"`
	}
	if !h.bind(c, &req) {
		return
	}
	code := req.BindingCode
	if code == "" {
		code = req.Code
	}

	res, err := h.Binding.Bind(currentUser(c).ID, code)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{
		"message": h.text("binding.bound"),
		"partner": res.Partner.Public(),
		"room_id": res.Relationship.RoomID,
	})
}

func (h *Handler) Unbind(c *gin.Context) {
	at, err := h.Binding.Unbind(currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"message": h.text("binding.unbind_started"), "unbind_at": at})
}

func (h *Handler) CancelUnbind(c *gin.Context) {
	if err := h.Binding.CancelUnbind(currentUser(c).ID); err != nil {
		h.fail(c, err)
		return
	}
	h.okMessage(c, "binding.unbind_cancelled")
}
