package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mobility-feed/internal/events"
	"mobility-feed/internal/hub"
)

// pollWait bounds a long-poll request.
const pollWait = 25 * time.Second

// /api/v1/health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

// /api/v1/connection
func (s *Server) handleConnection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": s.sess.Info()})
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.sess.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true, "data": s.sess.Info()})
}

func (s *Server) handleStop(c *gin.Context) {
	s.sess.Stop()
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": s.sess.Info()})
}

// /api/v1/streams/:kind
func (s *Server) handleStream(c *gin.Context) {
	kind, err := events.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": err.Error()})
		return
	}
	pub := s.sess.Publisher()
	// version first: a concurrent append can only make data newer than it
	version := pub.Version(kind)
	data := pub.Snapshot(kind)
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"kind":    kind,
		"version": version,
		"state":   pub.State(),
		"data":    data,
	})
}

func (s *Server) handleReset(c *gin.Context) {
	s.sess.Reset()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": s.sess.Diagnostics()})
}

func topics(c *gin.Context) []string {
	raw := c.Query("topics")
	if raw == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// /api/v1/events/stream: SSE with one "update" event per change
func (s *Server) handleEventsStream(c *gin.Context) {
	sub, err := s.sess.Publisher().Subscribe(topics(c)...)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
		return
	}
	defer s.sess.Publisher().Unsubscribe(sub.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	_, _ = c.Writer.WriteString(": welcome\n\n")
	c.SSEvent("update", hub.Update{Topic: hub.TopicState, State: s.sess.Publisher().State()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("sse: client gone", "subscription", sub.ID)
			return
		case <-heartbeat.C:
			_, _ = c.Writer.WriteString(": ping\n\n")
			c.Writer.Flush()
		case u, ok := <-sub.C:
			if !ok {
				return
			}
			c.SSEvent("update", u)
			c.Writer.Flush()
		}
	}
}

// /api/v1/events/poll: waits for the next batch of updates
func (s *Server) handleEventsPoll(c *gin.Context) {
	sub, err := s.sess.Publisher().Subscribe(topics(c)...)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
		return
	}
	defer s.sess.Publisher().Unsubscribe(sub.ID)

	wait := pollWait
	if d, err := time.ParseDuration(c.Query("wait")); err == nil && d > 0 && d < pollWait {
		wait = d
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	ups := sub.Poll(ctx)
	if ups == nil {
		ups = []hub.Update{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "ts": time.Now().Unix(), "updates": ups})
}
