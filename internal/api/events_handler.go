package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/convoy/internal/events"
)

const keepAliveInterval = 15 * time.Second

// sseStream writes hub events in text/event-stream framing. It drops events
// it has already written so replay and live delivery can overlap.
type sseStream struct {
	w       io.Writer
	flusher http.Flusher
	types   map[string]bool
	lastID  int64
}

func (s *sseStream) send(ev events.Event) error {
	if ev.ID <= s.lastID {
		return nil
	}
	s.lastID = ev.ID
	if len(s.types) > 0 && !s.types[ev.Type] {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", ev.ID)
	if ev.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	// Payloads are single-line JSON.
	fmt.Fprintf(&b, "data: %s\n\n", ev.Data)
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) ping() error {
	if _, err := io.WriteString(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleEvents streams hub events. Last-Event-ID replays buffered events newer
// than that id; ?type=a,b limits the stream to those event types.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before taking the snapshot so nothing published in between
	// is lost.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{
		w:       w,
		flusher: flusher,
		types:   parseTypeFilter(r.URL.Query().Get("type")),
		lastID:  parseLastEventID(r.Header.Get("Last-Event-ID")),
	}
	for _, ev := range s.events.SnapshotSince(stream.lastID) {
		if err := stream.send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			err = stream.send(ev)
		case <-keepAlive.C:
			err = stream.ping()
		}
		if err != nil {
			s.logger.Debug("event stream closed", "error", err)
			return
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseTypeFilter(v string) map[string]bool {
	var out map[string]bool
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			if out == nil {
				out = make(map[string]bool)
			}
			out[t] = true
		}
	}
	return out
}
