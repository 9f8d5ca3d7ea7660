package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/1enterprisesight/agent-profiler/internal/event"
)

const (
	// streamTimeout bounds how long a live stream waits for a terminal
	// event before sending the timeout sentinel.
	streamTimeout = 5 * time.Minute
	// rescanInterval is the store re-poll cadence backing up live bus
	// delivery, so a dropped publish never loses an event for the stream.
	rescanInterval = time.Second
)

// sentinel is the terminal frame on every stream variant.
type sentinel struct {
	Type        string `json:"type"` // complete | timeout | error
	SessionID   string `json:"session_id"`
	TotalEvents int    `json:"total_events"`
	Response    string `json:"response,omitempty"`
}

// handleSSE streams the session's transparency events as they happen.
// Stored events replay first, then live ones; content and order are
// identical to the poll endpoint. Ends with a complete or timeout sentinel.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	uid := userID(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeFrame := func(name string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
		flusher.Flush()
	}

	end := func(kind string, total int) {
		writeFrame("complete", sentinel{
			Type:        kind,
			SessionID:   sessionID,
			TotalEvents: total,
			Response:    s.finalAnswer(sessionID, uid),
		})
	}

	seen := map[string]struct{}{}
	emitNew := func(events []*event.Event) bool {
		terminal := false
		for _, e := range events {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			writeFrame("event", e)
			if e.Terminal() {
				terminal = true
			}
		}
		return terminal
	}

	// Replay what is already stored.
	stored, err := s.events.BySession(sessionID, uid)
	if err != nil {
		writeFrame("error", map[string]string{"type": "error", "message": err.Error()})
		return
	}
	if emitNew(stored) {
		end("complete", len(seen))
		return
	}

	var live <-chan *event.Event
	if s.bus != nil {
		ch, cancel := s.bus.Subscribe(r.Context(), sessionID)
		defer cancel()
		live = ch
	}

	deadline := time.NewTimer(streamTimeout)
	defer deadline.Stop()
	rescan := time.NewTicker(rescanInterval)
	defer rescan.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			end("timeout", len(seen))
			return
		case e, ok := <-live:
			if !ok {
				live = nil
				continue
			}
			if e.UserID != uid {
				continue
			}
			if emitNew([]*event.Event{e}) {
				end("complete", len(seen))
				return
			}
		case <-rescan.C:
			events, err := s.events.BySession(sessionID, uid)
			if err != nil {
				continue
			}
			if emitNew(events) {
				end("complete", len(seen))
				return
			}
		}
	}
}

type pollResponse struct {
	SessionID   string         `json:"session_id"`
	Events      []*event.Event `json:"events"`
	IsComplete  bool           `json:"is_complete"`
	TotalEvents int            `json:"total_events"`
	Response    string         `json:"response,omitempty"`
}

// handlePoll is the pull variant of the stream: events after after_id, in
// the same content and order the SSE stream delivers them.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	uid := userID(r)
	afterID := r.URL.Query().Get("after_id")

	events, err := s.events.AfterID(sessionID, uid, afterID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	all, err := s.events.BySession(sessionID, uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := pollResponse{
		SessionID:   sessionID,
		Events:      events,
		TotalEvents: len(all),
	}
	if resp.Events == nil {
		resp.Events = []*event.Event{}
	}
	for _, e := range events {
		if e.Terminal() {
			resp.IsComplete = true
			resp.Response = s.finalAnswer(sessionID, uid)
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// wsFrame wraps each websocket message so the client can tell events from
// the terminal sentinel.
type wsFrame struct {
	Kind     string       `json:"kind"` // event | complete
	Event    *event.Event `json:"event,omitempty"`
	Sentinel *sentinel    `json:"sentinel,omitempty"`
}

// handleWebSocket is the websocket variant: same payloads and ordering as
// SSE, one JSON frame per event, a sentinel frame, then a normal close.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	uid := userID(r)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	seen := map[string]struct{}{}

	sendNew := func(events []*event.Event) (bool, error) {
		for _, e := range events {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			if err := wsjson.Write(ctx, conn, wsFrame{Kind: "event", Event: e}); err != nil {
				return false, err
			}
			if e.Terminal() {
				return true, nil
			}
		}
		return false, nil
	}

	finish := func(kind string) {
		_ = wsjson.Write(ctx, conn, wsFrame{Kind: "complete", Sentinel: &sentinel{
			Type:        kind,
			SessionID:   sessionID,
			TotalEvents: len(seen),
			Response:    s.finalAnswer(sessionID, uid),
		}})
		conn.Close(websocket.StatusNormalClosure, "")
	}

	stored, err := s.events.BySession(sessionID, uid)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "event store unavailable")
		return
	}
	if terminal, err := sendNew(stored); err != nil {
		return
	} else if terminal {
		finish("complete")
		return
	}

	var live <-chan *event.Event
	if s.bus != nil {
		ch, cancel := s.bus.Subscribe(ctx, sessionID)
		defer cancel()
		live = ch
	}

	deadline := time.NewTimer(streamTimeout)
	defer deadline.Stop()
	rescan := time.NewTicker(rescanInterval)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			finish("timeout")
			return
		case e, ok := <-live:
			if !ok {
				live = nil
				continue
			}
			if e.UserID != uid {
				continue
			}
			if terminal, err := sendNew([]*event.Event{e}); err != nil {
				return
			} else if terminal {
				finish("complete")
				return
			}
		case <-rescan.C:
			events, err := s.events.BySession(sessionID, uid)
			if err != nil {
				continue
			}
			if terminal, err := sendNew(events); err != nil {
				return
			} else if terminal {
				finish("complete")
				return
			}
		}
	}
}

// finalAnswer returns the most recent assistant message for the session as
// seen by userID, empty when none exists yet. The user filter keeps the
// sentinel from handing one user's answer to another who guessed a session
// id.
func (s *Server) finalAnswer(sessionID, userID string) string {
	history, err := s.messages.History(sessionID, userID, 0)
	if err != nil {
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			return history[i].Content
		}
	}
	return ""
}
