package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fswalk/internal/event"
	"fswalk/internal/logging"

	"github.com/gorilla/websocket"
)

// maxReplay caps the replay query parameter.
const maxReplay = 256

// PathEventsHandler streams walk matches and change notifications to
// websocket clients as JSON. The optional types query parameter narrows the
// stream ("types=changed"); replay=N first sends up to N recent events.
type PathEventsHandler struct {
	Bus            *event.Bus[event.PathEvent]
	AuthToken      string
	AllowedOrigins []string
	Logger         *logging.Logger
}

type pathEventPayload struct {
	Type      string    `json:"type"`
	Rule      string    `json:"rule,omitempty"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *PathEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		refuseStream(w, r, h.Logger, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if h.Bus == nil {
		refuseStream(w, r, h.Logger, http.StatusServiceUnavailable, "event stream unavailable", nil)
		return
	}

	types := parseEventTypes(r.URL.Query().Get("types"))
	replay, err := parseReplay(r.URL.Query().Get("replay"))
	if err != nil {
		refuseStream(w, r, h.Logger, http.StatusBadRequest, "invalid replay", err)
		return
	}

	var filter func(event.PathEvent) bool
	if len(types) > 0 {
		filter = func(value event.PathEvent) bool {
			return typeAllowed(value.Type(), types)
		}
	}
	history, output, cancel := h.Bus.SubscribeWithHistory(filter)
	defer cancel()
	if len(history) > replay {
		history = history[len(history)-replay:]
	}

	streamJSON(w, r, streamOptions[event.PathEvent]{
		AllowedOrigins: h.AllowedOrigins,
		Source:         output,
		Encode:         buildPathEventPayload,
		Logger:         h.Logger,
		Before: func(conn *websocket.Conn) error {
			return writeReplay(conn, history)
		},
	})
}

// writeReplay sends history, oldest first, before any live event.
func writeReplay(conn *websocket.Conn, history []event.PathEvent) error {
	for _, value := range history {
		payload, _ := buildPathEventPayload(value)
		if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
			return err
		}
		if err := conn.WriteJSON(payload); err != nil {
			return err
		}
	}
	return nil
}

func buildPathEventPayload(value event.PathEvent) (any, bool) {
	payload := pathEventPayload{
		Type:      value.Type(),
		Rule:      value.Rule,
		Path:      value.Path,
		Timestamp: value.Timestamp(),
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	return payload, true
}

func parseEventTypes(raw string) []string {
	var types []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			types = append(types, trimmed)
		}
	}
	return types
}

func parseReplay(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, nil
	}
	if count > maxReplay {
		count = maxReplay
	}
	return count, nil
}

func typeAllowed(eventType string, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, allowed := range types {
		if allowed == eventType {
			return true
		}
	}
	return false
}
