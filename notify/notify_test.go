package notify

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogNotifierWritesRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	notifier := NewSlogNotifier(logger)

	notifier.Success(context.Background(), "order created")
	notifier.Error(context.Background(), "order rejected", map[string][]string{
		"quantity": {"must be positive"},
	})

	out := buf.String()
	if !strings.Contains(out, "mutation succeeded") {
		t.Errorf("expected success record, got: %s", out)
	}
	if !strings.Contains(out, "order created") {
		t.Errorf("expected success message, got: %s", out)
	}
	if !strings.Contains(out, "mutation failed") {
		t.Errorf("expected error record, got: %s", out)
	}
	if !strings.Contains(out, "quantity") {
		t.Errorf("expected field detail in error record, got: %s", out)
	}
}

func TestSlogNotifierNilLogger(t *testing.T) {
	notifier := NewSlogNotifier(nil)
	// Must not panic.
	notifier.Success(context.Background(), "ok")
	notifier.Error(context.Background(), "bad", nil)
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()

	rec.Success(context.Background(), "first")
	rec.Error(context.Background(), "second", map[string][]string{"name": {"required"}})
	rec.Success(context.Background(), "third")

	if got := len(rec.Events()); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
	if got := rec.Successes(); len(got) != 2 || got[0].Message != "first" || got[1].Message != "third" {
		t.Errorf("unexpected successes: %v", got)
	}
	errs := rec.Errors()
	if len(errs) != 1 || errs[0].Message != "second" {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if errs[0].Fields["name"][0] != "required" {
		t.Errorf("expected field detail preserved, got %v", errs[0].Fields)
	}

	rec.Reset()
	if got := len(rec.Events()); got != 0 {
		t.Errorf("expected empty recorder after reset, got %d events", got)
	}
}

func TestRecorderEventsIsolated(t *testing.T) {
	rec := NewRecorder()
	rec.Success(context.Background(), "one")

	events := rec.Events()
	events[0].Message = "mutated"

	if rec.Events()[0].Message != "one" {
		t.Error("expected Events to return a copy")
	}
}

func TestNop(t *testing.T) {
	n := Nop()
	n.Success(context.Background(), "ignored")
	n.Error(context.Background(), "ignored", nil)
}
