package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// stream pushes realtime events to one browser over SSE. Each open stream
// holds a poller subscription.
func (s *Server) stream(c *gin.Context) {
	if s.deps.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Realtime push is not enabled"})
		return
	}

	id, events := s.deps.Hub.Subscribe()
	defer s.deps.Hub.Unsubscribe(id)

	subscribers := s.deps.Poller.Connect()
	defer s.deps.Poller.Disconnect()

	log := s.log.With(zap.String("client_id", id))
	log.Info("realtime client connected", zap.Int("subscribers", subscribers))
	defer log.Info("realtime client disconnected")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{"client_id": id, "subscribers": subscribers})
	c.Writer.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(msg.Event, msg.Data)
			return true
		case t := <-keepAlive.C:
			c.SSEvent("ping", gin.H{"timestamp": t.UTC().Format(time.RFC3339)})
			return true
		}
	})
}
