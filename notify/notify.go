// Package notify is the outcome sink for mutations. Implementations
// surface one success or one error signal per mutation; the default sink
// writes structured log records.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier receives mutation outcomes. Error carries optional field-level
// detail from validation failures so a UI can highlight inputs.
type Notifier interface {
	Success(ctx context.Context, message string)
	Error(ctx context.Context, message string, fields map[string][]string)
}

type slogNotifier struct {
	logger *slog.Logger
}

// NewSlogNotifier returns a Notifier that logs outcomes through logger.
// A nil logger falls back to slog.Default().
func NewSlogNotifier(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogNotifier{logger: logger}
}

func (n *slogNotifier) Success(ctx context.Context, message string) {
	n.logger.InfoContext(ctx, "mutation succeeded", slog.String("message", message))
}

func (n *slogNotifier) Error(ctx context.Context, message string, fields map[string][]string) {
	attrs := []any{slog.String("message", message)}
	if len(fields) > 0 {
		attrs = append(attrs, slog.Any("fields", fields))
	}
	n.logger.ErrorContext(ctx, "mutation failed", attrs...)
}

type nopNotifier struct{}

func (nopNotifier) Success(context.Context, string)                     {}
func (nopNotifier) Error(context.Context, string, map[string][]string) {}

// Nop returns a Notifier that discards everything.
func Nop() Notifier {
	return nopNotifier{}
}

// Event is one recorded notification.
type Event struct {
	Kind    string // "success" or "error"
	Message string
	Fields  map[string][]string
}

// Recorder is a Notifier that captures events for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Success(_ context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Kind: "success", Message: message})
}

func (r *Recorder) Error(_ context.Context, message string, fields map[string][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Kind: "error", Message: message, Fields: fields})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Successes returns only the recorded success events.
func (r *Recorder) Successes() []Event {
	return r.filter("success")
}

// Errors returns only the recorded error events.
func (r *Recorder) Errors() []Event {
	return r.filter("error")
}

func (r *Recorder) filter(kind string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
