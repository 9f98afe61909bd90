package handler

import (
	"net/http"
	"strings"

	"betweenus/backend/internal/config"
	"betweenus/backend/internal/models"

	"github.com/gin-gonic/gin"
)

const userKey = "user"

type credentials struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if !h.bind(c, &req) {
		return
	}
	user, err := h.Accounts.Register(req.Phone, req.Password, req.Nickname)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"message": h.text("account.registered"), "user": user.Profile()})
}

// Login opens a server-side session (cookie) and also returns a bearer
// token for clients that cannot keep cookies.
func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if !h.bind(c, &req) {
		return
	}
	user, err := h.Accounts.Authenticate(req.Phone, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}

	sessionID, err := h.Sessions.Create(c.Request.Context(), user.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	token, err := h.Tokens.Issue(user.ID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(config.SessionCookieName, sessionID, int(h.SessionTTL.Seconds()), "/", "", h.CookieSecure, true)
	h.ok(c, gin.H{"message": h.text("account.logged_in"), "user": user.Profile(), "token": token})
}

func (h *Handler) Logout(c *gin.Context) {
	if sessionID, err := c.Cookie(config.SessionCookieName); err == nil && sessionID != "" {
		if err := h.Sessions.Delete(c.Request.Context(), sessionID); err != nil {
			h.fail(c, err)
			return
		}
	}
	c.SetCookie(config.SessionCookieName, "", -1, "/", "", h.CookieSecure, true)
	h.okMessage(c, "account.logged_out")
}

// RequireUser resolves the caller from the session cookie or a bearer token
// and stores the user in the context. Browsers cannot set headers on a
// WebSocket handshake, so a token query parameter is accepted too.
func (h *Handler) RequireUser(c *gin.Context) {
	userID, ok := h.identify(c)
	if !ok {
		h.abort(c, http.StatusUnauthorized, "auth.required")
		return
	}
	user, err := h.Accounts.GetUser(userID)
	if err != nil {
		h.abort(c, http.StatusUnauthorized, "auth.required")
		return
	}
	c.Set(userKey, user)
	c.Next()
}

func (h *Handler) identify(c *gin.Context) (uint, bool) {
	if sessionID, err := c.Cookie(config.SessionCookieName); err == nil && sessionID != "" {
		if id, err := h.Sessions.Lookup(c.Request.Context(), sessionID); err == nil {
			return id, true
		}
	}

	token := c.Query("token")
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		return 0, false
	}
	id, err := h.Tokens.Parse(token)
	return id, err == nil
}

func currentUser(c *gin.Context) *models.User {
	return c.MustGet(userKey).(*models.User)
}
