package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"yakgreen/irrigation-server/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// memEventStore is an in-memory EventStore honoring the de-duplication key.
type memEventStore struct {
	mu         sync.Mutex
	events     []model.TelemetryEvent
	insertErr  error
	existsErr  error
	checkCalls int
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameKey(a, b model.EventKey) bool {
	return a.SerialNumber == b.SerialNumber &&
		a.TimestampHW.Equal(b.TimestampHW) &&
		a.StatusCode == b.StatusCode &&
		intPtrEqual(a.ValveID, b.ValveID) &&
		intPtrEqual(a.ProgramIndex, b.ProgramIndex)
}

func (s *memEventStore) HasTelemetryEvent(_ context.Context, key model.EventKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCalls++
	if s.existsErr != nil {
		return false, s.existsErr
	}
	for _, ev := range s.events {
		if sameKey(ev.Key(), key) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memEventStore) InsertTelemetryEvent(_ context.Context, ev model.TelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memEventStore) all() []model.TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TelemetryEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestHandleMessageIngestsBatch(t *testing.T) {
	store := &memEventStore{}
	p := NewPipeline(testLogger(), store)

	payload := []byte(`[
		{"timestamp": 1700000000, "status_code": 1, "valve_id": 1, "program_index": 0},
		{"timestamp": 1700000030, "status_code": 2, "valve_id": 1, "program_index": 0}
	]`)
	p.HandleMessage(context.Background(), "server/HW-1/post/log", payload)

	events := store.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first.SerialNumber != "HW-1" {
		t.Errorf("serial = %q, want HW-1 from the topic", first.SerialNumber)
	}
	if !first.TimestampHW.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("hardware timestamp = %v, want unix 1700000000", first.TimestampHW)
	}
	if first.DetailStatus != model.StatusLabel(1) {
		t.Errorf("detail status = %q, want lookup of code 1", first.DetailStatus)
	}
	if first.TimestampServer.IsZero() {
		t.Errorf("server timestamp not set")
	}
}

func TestHandleMessageIsIdempotent(t *testing.T) {
	store := &memEventStore{}
	p := NewPipeline(testLogger(), store)

	payload := []byte(`[{"timestamp": 1700000000, "status_code": 1, "valve_id": 1, "program_index": 0}]`)
	p.HandleMessage(context.Background(), "server/HW-1/post/log", payload)
	p.HandleMessage(context.Background(), "server/HW-1/post/log", payload)

	if got := len(store.all()); got != 1 {
		t.Fatalf("re-delivered payload produced %d events, want 1", got)
	}
}

func TestHandleMessageIgnoresWrongTopicShape(t *testing.T) {
	store := &memEventStore{}
	p := NewPipeline(testLogger(), store)

	payload := []byte(`[{"timestamp": 1700000000, "status_code": 1}]`)
	for _, topic := range []string{
		"server/HW-1/get/log",
		"server/HW-1/post/status",
		"server/HW-1",
		"server/HW-1/log/post",
	} {
		p.HandleMessage(context.Background(), topic, payload)
	}

	if got := len(store.all()); got != 0 {
		t.Fatalf("wrong-shape topics produced %d events, want 0", got)
	}
	if store.checkCalls != 0 {
		t.Fatalf("store consulted %d times for rejected topics", store.checkCalls)
	}
}

func TestHandleMessageRejectsNonArrayPayload(t *testing.T) {
	store := &memEventStore{}
	p := NewPipeline(testLogger(), store)

	p.HandleMessage(context.Background(), "server/HW-1/post/log", []byte(`{"timestamp": 1700000000, "status_code": 1}`))
	p.HandleMessage(context.Background(), "server/HW-1/post/log", []byte(`not json`))
	if got := len(store.all()); got != 0 {
		t.Fatalf("non-array payloads produced %d events, want 0", got)
	}

	// The next well-formed message must still be processed.
	p.HandleMessage(context.Background(), "server/HW-1/post/log", []byte(`[{"timestamp": 1700000000, "status_code": 1}]`))
	if got := len(store.all()); got != 1 {
		t.Fatalf("valid message after malformed ones produced %d events, want 1", got)
	}
}

func TestHandleMessagePreservesFieldAbsence(t *testing.T) {
	store := &memEventStore{}
	p := NewPipeline(testLogger(), store)

	payload := []byte(`[
		{"timestamp": 1700000000, "status_code": 6},
		{"timestamp": 1700000001, "status_code": 1, "valve_id": 0, "program_index": 0}
	]`)
	p.HandleMessage(context.Background(), "server/HW-1/post/log", payload)

	events := store.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	if events[0].ValveID != nil || events[0].ProgramIndex != nil {
		t.Errorf("omitted fields coerced to values: %+v", events[0])
	}
	if events[1].ValveID == nil || *events[1].ValveID != 0 {
		t.Errorf("explicit valve 0 lost: %+v", events[1])
	}
	if events[1].ProgramIndex == nil || *events[1].ProgramIndex != 0 {
		t.Errorf("explicit program 0 lost: %+v", events[1])
	}
}

func TestHandleMessageElementFailuresAreIndependent(t *testing.T) {
	store := &memEventStore{}
	p := NewPipeline(testLogger(), store)

	payload := []byte(`[
		{"status_code": 1},
		{"timestamp": "not a number", "status_code": 2},
		{"timestamp": 1700000002, "status_code": 2, "valve_id": 1}
	]`)
	p.HandleMessage(context.Background(), "server/HW-1/post/log", payload)

	events := store.all()
	if len(events) != 1 {
		t.Fatalf("expected only the valid element persisted, got %d", len(events))
	}
	if events[0].StatusCode != 2 || events[0].ValveID == nil {
		t.Errorf("wrong element survived: %+v", events[0])
	}
}

func TestHandleMessageSwallowsStoreErrors(t *testing.T) {
	store := &memEventStore{insertErr: errors.New("disk full")}
	p := NewPipeline(testLogger(), store)

	p.HandleMessage(context.Background(), "server/HW-1/post/log",
		[]byte(`[{"timestamp": 1700000000, "status_code": 1}]`))

	store.mu.Lock()
	store.insertErr = nil
	store.mu.Unlock()

	p.HandleMessage(context.Background(), "server/HW-1/post/log",
		[]byte(`[{"timestamp": 1700000001, "status_code": 2}]`))

	if got := len(store.all()); got != 1 {
		t.Fatalf("expected pipeline to keep consuming after a store error, got %d events", got)
	}
}

func TestHandleMessageUnknownStatusCodeStored(t *testing.T) {
	store := &memEventStore{}
	p := NewPipeline(testLogger(), store)

	p.HandleMessage(context.Background(), "server/HW-1/post/log",
		[]byte(`[{"timestamp": 1700000000, "status_code": 99}]`))

	events := store.all()
	if len(events) != 1 {
		t.Fatalf("expected unknown code to be stored, got %d events", len(events))
	}
	if events[0].DetailStatus != model.UnknownStatus {
		t.Errorf("detail status = %q, want %q", events[0].DetailStatus, model.UnknownStatus)
	}
}
