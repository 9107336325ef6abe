package socket

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"partnerhub/pkg/requestcontext"
)

const defaultHeartbeat = 25 * time.Second

// StreamHandler serves GET /events/stream as Server-Sent Events.
//
// Query parameters: affiliate_id filters to one affiliate's orders. Clients
// resume with the Last-Event-ID header (or last_event_id parameter).
type StreamHandler struct {
	hub       *Hub
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewStreamHandler(hub *Hub, heartbeat time.Duration, logger *slog.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &StreamHandler{hub: hub, heartbeat: heartbeat, logger: logger}
}

func (h *StreamHandler) Register(r chi.Router) {
	r.Get("/events/stream", h.HandleStream)
}

func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	lastSeq, err := lastEventID(r)
	if err != nil {
		http.Error(w, "invalid Last-Event-ID", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	c, missed := h.hub.subscribe(r.URL.Query().Get("affiliate_id"), lastSeq)
	defer h.hub.unsubscribe(c)

	h.logger.InfoContext(ctx, "event stream opened",
		"request_id", requestcontext.RequestID(ctx),
		"replayed", len(missed),
	)

	for _, f := range missed {
		if err := writeFrame(w, f); err != nil {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case f, ok := <-c.frames:
			if !ok {
				return
			}
			if err := writeFrame(w, f); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, f Frame) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", f.Seq, f.EventType, f.Data)
	return err
}

func lastEventID(r *http.Request) (uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
