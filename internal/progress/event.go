// Package progress carries live events from running ingestion handlers to
// any number of observers. Handlers publish fire-and-forget; whether zero or
// many clients are watching never affects execution.
package progress

// EventType enumerates the streamed event kinds.
type EventType string

const (
	EventConnected EventType = "connected"
	EventInfo      EventType = "info"
	EventProgress  EventType = "progress"
	EventWarning   EventType = "warning"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// Event is one streamed progress update for a task.
type Event struct {
	Type    EventType      `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Summary is the outcome a handler reports on success; it rides on the
// terminal done event and is persisted into the task metadata.
type Summary struct {
	TermsInserted  int `json:"termsInserted"`
	TermsUpdated   int `json:"termsUpdated"`
	FieldsInserted int `json:"fieldsInserted"`
}

// Map converts the summary for event payloads and task metadata.
func (s Summary) Map() map[string]any {
	return map[string]any{
		"termsInserted":  s.TermsInserted,
		"termsUpdated":   s.TermsUpdated,
		"fieldsInserted": s.FieldsInserted,
	}
}
