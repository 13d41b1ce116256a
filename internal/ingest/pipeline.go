package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"time"

	"yakgreen/irrigation-server/internal/metrics"
	"yakgreen/irrigation-server/internal/model"
)

// EventStore is the persistence surface the pipeline writes through.
type EventStore interface {
	HasTelemetryEvent(ctx context.Context, key model.EventKey) (bool, error)
	InsertTelemetryEvent(ctx context.Context, ev model.TelemetryEvent) error
}

const storeTimeout = 2 * time.Second

// Pipeline turns raw broker messages into persisted telemetry events. It is
// best-effort: malformed input and store failures are logged and dropped so
// one bad message never blocks the stream.
type Pipeline struct {
	logger *slog.Logger
	store  EventStore
	now    func() time.Time
}

// NewPipeline constructs an ingestion pipeline over the given store.
func NewPipeline(logger *slog.Logger, store EventStore) *Pipeline {
	return &Pipeline{logger: logger, store: store, now: func() time.Time { return time.Now().UTC() }}
}

// logBatchEntry mirrors one element of a device's log payload. Pointer fields
// distinguish an omitted key from an explicit zero.
type logBatchEntry struct {
	Timestamp    *float64 `json:"timestamp"`
	StatusCode   *int     `json:"status_code"`
	ValveID      *int     `json:"valve_id"`
	ProgramIndex *int     `json:"program_index"`
}

// HandleMessage processes one broker message. The topic must have the shape
// server/{serialNumber}/post/log and the payload must be a JSON array of log
// entries; anything else is discarded. Elements are handled independently so
// one bad element never aborts the rest of its batch.
func (p *Pipeline) HandleMessage(ctx context.Context, topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[2] != "post" || parts[3] != "log" {
		p.logger.Warn("ignoring unknown topic format", "topic", topic)
		metrics.MessageDiscarded(metrics.ReasonBadTopic)
		return
	}
	serialNumber := parts[1]

	var batch []json.RawMessage
	if err := json.Unmarshal(payload, &batch); err != nil {
		p.logger.Warn("log payload is not a JSON array", "topic", topic, "error", err)
		metrics.MessageDiscarded(metrics.ReasonBadPayload)
		return
	}

	for _, raw := range batch {
		p.ingestEntry(ctx, serialNumber, raw)
	}
}

func (p *Pipeline) ingestEntry(ctx context.Context, serialNumber string, raw json.RawMessage) {
	var entry logBatchEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		p.logger.Warn("log entry decode failed", "serial", serialNumber, "error", err)
		metrics.EntryDiscarded(metrics.ReasonBadEntry)
		return
	}

	if entry.Timestamp == nil || entry.StatusCode == nil {
		p.logger.Warn("log entry missing required fields", "serial", serialNumber)
		metrics.EntryDiscarded(metrics.ReasonMissingFields)
		return
	}

	sec, frac := math.Modf(*entry.Timestamp)
	hwTS := time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()

	event := model.TelemetryEvent{
		SerialNumber:    serialNumber,
		TimestampServer: p.now(),
		TimestampHW:     hwTS,
		StatusCode:      *entry.StatusCode,
		DetailStatus:    model.StatusLabel(*entry.StatusCode),
		ValveID:         entry.ValveID,
		ProgramIndex:    entry.ProgramIndex,
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	exists, err := p.store.HasTelemetryEvent(storeCtx, event.Key())
	if err != nil {
		p.logger.Error("duplicate check failed", "serial", serialNumber, "error", err)
		metrics.StoreError()
		return
	}
	if exists {
		p.logger.Debug("duplicate log entry skipped", "serial", serialNumber, "status", event.StatusCode)
		metrics.EventDuplicate()
		return
	}

	if err := p.store.InsertTelemetryEvent(storeCtx, event); err != nil {
		p.logger.Error("failed to persist log entry", "serial", serialNumber, "error", err)
		metrics.StoreError()
		return
	}

	metrics.EventIngested()
	p.logger.Info("ingested log entry",
		"serial", serialNumber,
		"status", event.StatusCode,
		"detail", event.DetailStatus,
	)
}
