package handler

import (
	"net/http"

	"betweenus/backend/internal/chat"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

// streamFrames runs fn with a sink that writes each frame as an SSE data
// event. Headers are only committed by the first frame, so an error returned
// before anything was streamed still gets a regular JSON response.
func (h *Handler) streamFrames(c *gin.Context, fn func(send chat.FrameSink) error) {
	started := false
	send := func(f chat.Frame) {
		if !started {
			started = true
			c.Header("Content-Type", sse.ContentType)
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Header("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
		}
		c.Render(-1, sse.Event{Data: f})
		c.Writer.Flush()
	}

	if err := fn(send); err != nil && !started {
		h.fail(c, err)
	}
}
