package events

// Event types published by the dispatcher, handlers and gates.
const (
	DispatchStarted   = "dispatch.started"
	DispatchStopped   = "dispatch.stopped"
	DispatchInbound   = "dispatch.inbound"
	DispatchCommand   = "dispatch.command"
	DispatchDuplicate = "dispatch.duplicate"

	PluginEnabled  = "plugin.enabled"
	PluginDisabled = "plugin.disabled"

	WorkerStarted  = "worker.started"
	WorkerFinished = "worker.finished"
	WorkerFailed   = "worker.failed"

	GateAcquired = "gate.acquired"
	GateDenied   = "gate.denied"
	GateReleased = "gate.released"

	ScheduleFired = "schedule.fired"
)

// WorkerData is the payload of worker.* events.
type WorkerData struct {
	WorkerID     string `json:"worker_id"`
	Plugin       string `json:"plugin"`
	Conversation string `json:"conversation"`
	Error        string `json:"error,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
}

// GateData is the payload of gate.* events.
type GateData struct {
	WorkerID     string `json:"worker_id"`
	Plugin       string `json:"plugin"`
	Conversation string `json:"conversation"`
}

// PluginData is the payload of plugin.* events.
type PluginData struct {
	Plugin       string `json:"plugin"`
	Conversation string `json:"conversation"`
}

// InboundData is the payload of dispatch.inbound and dispatch.command events.
type InboundData struct {
	Conversation string   `json:"conversation"`
	Sender       string   `json:"sender"`
	Plugins      []string `json:"plugins,omitempty"`
	Command      string   `json:"command,omitempty"`
}
