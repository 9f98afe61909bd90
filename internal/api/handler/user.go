package handler

import (
	"strconv"

	"betweenus/backend/internal/apperr"

	"github.com/gin-gonic/gin"
)

// Info returns the caller's profile, with the partner's public view when bound.
func (h *Handler) Info(c *gin.Context) {
	user := currentUser(c)
	body := gin.H{"user": user.Profile()}
	if user.HasPartner() {
		if partner, err := h.Accounts.GetUser(*user.PartnerID); err == nil {
			body["partner"] = partner.Public()
		}
	}
	h.ok(c, body)
}

func (h *Handler) UpdateNickname(c *gin.Context) {
	var req struct {
		Nickname string `json:"nickname"`
	}
	if !h.bind(c, &req) {
		return
	}
	user, err := h.Accounts.UpdateNickname(currentUser(c).ID, req.Nickname)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"message": h.text("account.nickname_updated"), "user": user.Profile()})
}

// PublicUser returns another account's public fields.
func (h *Handler) PublicUser(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		h.fail(c, apperr.NotFound("user.not_found"))
		return
	}
	user, err := h.Accounts.GetUser(uint(id))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"user": user.Public()})
}
