package progress

import "context"

// Sink is the callback surface a running handler reports through. Terminal
// done/error events are emitted by the executor, never by handlers.
type Sink interface {
	Info(msg string)
	Progress(msg string, data map[string]any)
	Warning(msg string)
}

// LogAppender persists one chronological log line for a task.
type LogAppender interface {
	AppendTaskLog(ctx context.Context, taskID, line string) error
}

// TaskSink publishes handler progress to the hub and mirrors every event
// into the task's append-only log so late readers see the same history
// live viewers saw.
type TaskSink struct {
	ctx    context.Context
	hub    *Hub
	logs   LogAppender
	taskID string
}

// NewTaskSink builds the sink the executor hands to a handler.
func NewTaskSink(ctx context.Context, hub *Hub, logs LogAppender, taskID string) *TaskSink {
	return &TaskSink{ctx: ctx, hub: hub, logs: logs, taskID: taskID}
}

func (s *TaskSink) Info(msg string) {
	s.emit(Event{Type: EventInfo, Message: msg})
}

func (s *TaskSink) Progress(msg string, data map[string]any) {
	s.emit(Event{Type: EventProgress, Message: msg, Data: data})
}

func (s *TaskSink) Warning(msg string) {
	s.emit(Event{Type: EventWarning, Message: msg})
}

func (s *TaskSink) emit(ev Event) {
	// The sink keeps its own context so log lines still land after the
	// handler context is cancelled.
	s.hub.Publish(s.ctx, s.taskID, ev)
	_ = s.logs.AppendTaskLog(s.ctx, s.taskID, string(ev.Type)+": "+ev.Message)
}

// NopSink discards all progress. Used in tests and for handlers run inline.
type NopSink struct{}

func (NopSink) Info(string)                     {}
func (NopSink) Progress(string, map[string]any) {}
func (NopSink) Warning(string)                  {}
