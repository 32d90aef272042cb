package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/dispatch"
)

const maxInboundBody = 1 << 20

type streamStats interface {
	Subscribers() int
	Dropped() uint64
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.dispatcher.State()
	resp := HealthzResponse{
		Status:        "ok",
		Dispatcher:    st.String(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		PluginsLoaded: len(s.dispatcher.Plugins()),
		Conversations: len(s.dispatcher.Conversations()),
	}
	if hs, ok := s.events.(streamStats); ok {
		subs, dropped := hs.Subscribers(), hs.Dropped()
		resp.Subscribers, resp.EventsDropped = &subs, &dropped
	}
	code := http.StatusOK
	if st != dispatch.Running {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, resp)
}

// handlePlugins handles GET /plugins.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, PluginsResponse{Plugins: s.dispatcher.Plugins()})
}

// handleConversations handles GET /conversations.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	resp := ConversationsResponse{Conversations: []ConversationStatus{}}
	for _, key := range s.dispatcher.Conversations() {
		conv, err := chat.ParseConversationID(key)
		if err != nil {
			s.logger.Warn("skipping unparsable conversation", "conversation", key, "error", err)
			continue
		}
		resp.Conversations = append(resp.Conversations, ConversationStatus{
			Conversation: key,
			Plugins:      s.dispatcher.Enabled(conv),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleMessages handles GET /messages?conversation=<key>&limit=<n>.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.messages == nil {
		s.writeError(w, http.StatusServiceUnavailable, "message log not configured")
		return
	}
	q := r.URL.Query()
	conversation := q.Get("conversation")
	if conversation != "" {
		if _, err := chat.ParseConversationID(conversation); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid conversation: "+err.Error())
			return
		}
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := s.messages.List(r.Context(), conversation, limit)
	if err != nil {
		s.logger.Error("failed to list messages", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	respondJSON(w, http.StatusOK, MessagesResponse{Messages: entries})
}

// handleInbound handles POST /inbound. It feeds one event through the
// dispatcher as if the transport had delivered it.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req InboundRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInboundBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.acceptInbound(w, r, req)
}

func (s *Server) acceptInbound(w http.ResponseWriter, r *http.Request, req InboundRequest) {
	if strings.TrimSpace(req.Sender) == "" {
		s.writeError(w, http.StatusBadRequest, "sender is required")
		return
	}
	var groupID []byte
	if req.GroupID != "" {
		raw, err := base64.StdEncoding.DecodeString(req.GroupID)
		if err != nil || len(raw) == 0 {
			s.writeError(w, http.StatusBadRequest, "group_id must be non-empty standard base64")
			return
		}
		groupID = raw
	}
	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	ev := chat.NewEvent(ts, req.Sender, groupID, req.Text, req.Attachments)
	if err := s.dispatcher.HandleInbound(r.Context(), ev); err != nil {
		if errors.Is(err, dispatch.ErrNotRunning) {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, InboundResponse{
		Conversation: ev.Conversation.String(),
		Status:       "accepted",
	})
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
