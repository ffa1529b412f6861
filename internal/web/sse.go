package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/planbot-dev/planbot"
)

// handleSSE streams the orchestrator's event feed to a single client as
// Server-Sent Events until the client disconnects.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := make(chan planbot.Event, 32)
	s.sseMu.Lock()
	s.sseClients[ch] = true
	s.sseMu.Unlock()

	defer func() {
		s.sseMu.Lock()
		delete(s.sseClients, ch)
		s.sseMu.Unlock()
		close(ch)
	}()

	fmt.Fprint(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(sseEvent(ev))
			if err != nil {
				s.logger.Warn("web: marshal sse event failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// sseEventPayload is the wire shape of a planbot.Event sent over SSE
// (built by sseEvent): errors don't marshal to JSON on their own, so they
// are flattened to a string.
type sseEventPayload struct {
	Type       planbot.EventType `json:"type"`
	TicketID   string            `json:"ticketId,omitempty"`
	Plan       string            `json:"plan,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	SessionID  string            `json:"sessionId,omitempty"`
	CostUSD    float64           `json:"costUsd,omitempty"`
	Output     string            `json:"output,omitempty"`
	DriverType string            `json:"driverType,omitempty"`
	QuestionID string            `json:"questionId,omitempty"`
	Text       string            `json:"text,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func sseEvent(ev planbot.Event) sseEventPayload {
	p := sseEventPayload{
		Type: ev.Type, TicketID: ev.TicketID, Plan: ev.Plan, Reason: ev.Reason,
		SessionID: ev.SessionID, CostUSD: ev.CostUSD, Output: ev.Output,
		DriverType: ev.DriverType, QuestionID: ev.QuestionID, Text: ev.Text,
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	return p
}
