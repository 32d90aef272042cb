package api

import (
	"time"

	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/state"
)

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	Dispatcher    string `json:"dispatcher"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	PluginsLoaded int    `json:"plugins_loaded"`
	Conversations int    `json:"conversations"`
	// Stream counters, present when the event source reports them.
	Subscribers   *int    `json:"subscribers,omitempty"`
	EventsDropped *uint64 `json:"events_dropped,omitempty"`
}

// PluginsResponse is returned by GET /plugins.
type PluginsResponse struct {
	Plugins []dispatch.PluginStatus `json:"plugins"`
}

// ConversationStatus is one entry of GET /conversations.
type ConversationStatus struct {
	Conversation string   `json:"conversation"`
	Plugins      []string `json:"plugins"`
}

// ConversationsResponse is returned by GET /conversations.
type ConversationsResponse struct {
	Conversations []ConversationStatus `json:"conversations"`
}

// MessagesResponse is returned by GET /messages.
type MessagesResponse struct {
	Messages []state.Entry `json:"messages"`
}

// InboundRequest is the JSON body for POST /inbound. GroupID is the base64
// (standard encoding) group id; leave it empty for a direct chat.
type InboundRequest struct {
	Sender      string     `json:"sender"`
	GroupID     string     `json:"group_id,omitempty"`
	Text        string     `json:"text"`
	Attachments []string   `json:"attachments,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// InboundResponse is returned once an inbound event was accepted.
type InboundResponse struct {
	Conversation string `json:"conversation"`
	Status       string `json:"status"`
}
