package conv

// SSE event type constants for message streaming
const (
	SSEEventStart    = "message_start"    // Streaming has begun
	SSEEventDelta    = "message_delta"    // Incremental content
	SSEEventCatchup  = "message_catchup"  // Replaying accumulated content (reconnection)
	SSEEventComplete = "message_complete" // Message finished successfully
	SSEEventStopped  = "message_stopped"  // Message stopped by user
	SSEEventError    = "message_error"    // Message encountered an error
)

// StreamEvent is one event broadcast to SSE subscribers of a message.
type StreamEvent struct {
	Event string      `json:"-"`
	Data  interface{} `json:"data"`
}

// StartEvent signals that streaming has begun
type StartEvent struct {
	MessageID string `json:"message_id"`
	Model     string `json:"model"`
	// ResponseID is set when this stream belongs to one slot of a
	// multi-model message
	ResponseID string `json:"response_id,omitempty"`
}

// DeltaEvent contains one incremental content fragment
type DeltaEvent struct {
	MessageID  string     `json:"message_id"`
	ResponseID string     `json:"response_id,omitempty"`
	Sequence   int        `json:"sequence"`
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations,omitempty"`
}

// CatchupEvent replays accumulated content for reconnecting clients
type CatchupEvent struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Status    string `json:"status"`
}

// CompleteEvent signals successful completion
type CompleteEvent struct {
	MessageID  string `json:"message_id"`
	ResponseID string `json:"response_id,omitempty"`
	Model      string `json:"model"`
	Content    string `json:"content"`
}

// StoppedEvent signals user-initiated cancellation. Content ends with the
// truncation marker rather than an error.
type StoppedEvent struct {
	MessageID  string `json:"message_id"`
	ResponseID string `json:"response_id,omitempty"`
	Content    string `json:"content"`
}

// ErrorEvent signals a terminal failure after all fallback strategies were
// exhausted.
type ErrorEvent struct {
	MessageID  string `json:"message_id"`
	ResponseID string `json:"response_id,omitempty"`
	Error      string `json:"error"`
}
