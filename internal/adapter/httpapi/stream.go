package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"cronagent/internal/agent"
)

type runResponse struct {
	Report agent.Report `json:"report"`
	Error  string       `json:"error,omitempty"`
}

// run executes one non-streaming batch and returns its report.
func (s *Server) run(c *gin.Context) {
	items, err := queryInt(c, "items")
	if err != nil {
		s.fail(c, err)
		return
	}
	report, err := s.agent.Run(c.Request.Context(), agent.RunOptions{Items: items})
	if err != nil {
		s.log.Error("run ended fatally", "token", report.Token.String(), "error", err)
		c.JSON(statusOf(err), runResponse{Report: report, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, runResponse{Report: report})
}

// sseStream forwards agent notifications as server-sent events.
type sseStream struct {
	ctx context.Context
	c   *gin.Context
}

func (s *sseStream) Emit(n agent.Notification) error {
	s.c.Render(-1, sse.Event{
		Event: n.Kind,
		Retry: uint(n.Retry.Milliseconds()),
		Data:  n,
	})
	s.c.Writer.Flush()
	return s.ctx.Err()
}

func (s *sseStream) Alive() bool { return s.ctx.Err() == nil }

// stream runs the agent as a streaming caller. The loop stops when the
// client disconnects.
func (s *Server) stream(c *gin.Context) {
	items, err := queryInt(c, "items")
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	st := &sseStream{ctx: ctx, c: c}
	report, err := s.agent.Run(ctx, agent.RunOptions{Items: items, Stream: st})
	if ctx.Err() != nil {
		s.log.Debug("stream client gone", "token", report.Token.String())
		return
	}
	resp := runResponse{Report: report}
	if err != nil {
		resp.Error = err.Error()
	}
	c.Render(-1, sse.Event{Event: "report", Data: resp})
	c.Writer.Flush()
}
