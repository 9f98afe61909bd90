package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"betweenus/backend/internal/account"
	"betweenus/backend/internal/apperr"
	"betweenus/backend/internal/binding"
	"betweenus/backend/internal/chat"
	"betweenus/backend/internal/chathub"
	"betweenus/backend/internal/localization"
	"betweenus/backend/internal/session"
	"betweenus/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

// Deps are the collaborators the HTTP handlers share.
type Deps struct {
	Accounts  *account.Service
	Binding   *binding.Service
	Coach     *chat.CoachService
	Lounge    *chat.LoungeService
	Hub       *chathub.ManagerService
	Sessions  session.Store
	Tokens    *session.TokenIssuer
	Localizer *localization.Localizer
	Lang      string

	SessionTTL   time.Duration
	CookieSecure bool
}

// Handler holds the services behind the HTTP and WebSocket endpoints.
type Handler struct {
	Deps
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d}
}

func (h *Handler) text(key string) string {
	return h.Localizer.GetString(h.Lang, key)
}

// ok writes a 200 response with success set.
func (h *Handler) ok(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(http.StatusOK, body)
}

// okMessage writes a 200 response carrying a localized message.
func (h *Handler) okMessage(c *gin.Context, key string) {
	h.ok(c, gin.H{"message": h.text(key)})
}

func (h *Handler) abort(c *gin.Context, status int, key string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": h.text(key)})
}

// fail maps err to a status code. Unclassified errors are logged and reported as 500.
func (h *Handler) fail(c *gin.Context, err error) {
	key := apperr.KeyOf(err)
	switch {
	case errors.Is(err, apperr.ErrValidation):
		h.abort(c, http.StatusBadRequest, key)
	case errors.Is(err, apperr.ErrUnauthorized):
		h.abort(c, http.StatusUnauthorized, key)
	case errors.Is(err, apperr.ErrForbidden):
		h.abort(c, http.StatusForbidden, key)
	case errors.Is(err, apperr.ErrNotFound):
		h.abort(c, http.StatusNotFound, key)
	case errors.Is(err, storage.ErrNotFound):
		h.abort(c, http.StatusNotFound, "user.not_found")
	default:
		log.Printf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
		h.abort(c, http.StatusInternalServerError, "error.internal")
	}
}

// bind decodes the JSON body into dst, answering 400 when it is malformed.
func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.abort(c, http.StatusBadRequest, "error.bad_request")
		return false
	}
	return true
}
