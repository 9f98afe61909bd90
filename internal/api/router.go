// Package api wires the HTTP routes onto the handlers.
package api

import (
	"net/http"

	"betweenus/backend/internal/api/handler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the gin engine. Several routes have a second path kept
// for the mini-program client.
func NewRouter(h *handler.Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.Default()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)

	auth := api.Group("", h.RequireUser)
	{
		auth.GET("/user/info", h.Info)
		auth.GET("/user/profile", h.Info)
		auth.PUT("/user/nickname", h.UpdateNickname)
		auth.GET("/user/:id", h.PublicUser)

		auth.GET("/binding/code", h.BindingCode)
		auth.POST("/bindcode/generate", h.RegenerateBindingCode)
		auth.POST("/binding/bind", h.Bind)
		auth.POST("/bind", h.Bind)
		auth.POST("/binding/unbind", h.Unbind)
		auth.POST("/unbind", h.Unbind)
		auth.POST("/binding/cancel_unbind", h.CancelUnbind)

		auth.POST("/coach/chat", h.CoachChat)
		auth.POST("/coach/chat/stream", h.CoachChatStream)
		auth.GET("/coach/history", h.CoachHistory)
		auth.POST("/coach/clear", h.CoachClear)

		auth.GET("/lounge/room", h.LoungeRoom)
		auth.GET("/lounge/history", h.LoungeHistory)
		auth.GET("/lounge/messages", h.LoungeHistory)
		auth.POST("/lounge/send", h.LoungeSend)
		auth.POST("/lounge/call_ai", h.LoungeCallAI)
		auth.POST("/lounge/call_ai/stream", h.LoungeCallAIStream)
	}

	r.GET("/ws/lounge/:room_id", h.RequireUser, h.ServeLounge)

	return r
}
