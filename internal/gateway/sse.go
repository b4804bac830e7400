// ABOUTME: Server-Sent Events transport for the update stream
// ABOUTME: Adapts an http.ResponseWriter into an updates.EventSink

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/helpdesk-gateway/internal/auth"
)

// sseSink writes stream events as SSE frames and flushes after each one.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// formatSSEEvent formats an SSE event with the standard layout:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType string, data []byte) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// Send marshals payload and writes it as one event. A write error means the
// client went away.
func (s *sseSink) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}
	if _, err := fmt.Fprint(s.w, formatSSEEvent(event, data)); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}

// Close is a no-op; the connection ends when the handler returns.
func (s *sseSink) Close() error { return nil }

// handleStream handles GET /api/updates/stream.
// The stream runs until the client disconnects or the server shuts down.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	userID := auth.MustFromContext(r.Context()).UserID

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(g.streamCtx, cancel)
	defer stop()

	if err := g.stream.Run(ctx, userID, &sseSink{w: w, flusher: flusher}); err != nil {
		g.logger.Debug("update stream ended", "user_id", userID, "error", err)
	}
}
