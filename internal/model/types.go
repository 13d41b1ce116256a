package model

import "time"

// Status codes reported by irrigation controllers in log batches.
const (
	StatusValveOpened   = 1
	StatusValveClosed   = 2
	StatusOpenFailed    = 3
	StatusCloseFailed   = 4
	StatusProgramSkip   = 5
	StatusUserCancelled = 6
)

var statusLabels = map[int]string{
	StatusValveOpened:   "Valve opened",
	StatusValveClosed:   "Valve closed",
	StatusOpenFailed:    "Valve open failed",
	StatusCloseFailed:   "Valve close failed",
	StatusProgramSkip:   "Program skipped because another valve is open",
	StatusUserCancelled: "Cancelled by user during watering",
}

// UnknownStatus is recorded for status codes outside the known enumeration.
const UnknownStatus = "Unknown Status"

// StatusLabel maps a device status code to its human-readable description.
func StatusLabel(code int) string {
	if label, ok := statusLabels[code]; ok {
		return label
	}
	return UnknownStatus
}

// TelemetryEvent is one durable log record reported by a device. ValveID and
// ProgramIndex are nil when the device omitted the field; absence is distinct
// from an explicit zero and both forms round-trip through the store.
type TelemetryEvent struct {
	SerialNumber    string    `json:"serialNumber"`
	TimestampServer time.Time `json:"timestamp_server"`
	TimestampHW     time.Time `json:"timestamp_hw"`
	StatusCode      int       `json:"status_code"`
	DetailStatus    string    `json:"detail_status"`
	ValveID         *int      `json:"valve_id,omitempty"`
	ProgramIndex    *int      `json:"program_index,omitempty"`
}

// EventKey is the de-duplication identity of a telemetry event: the fields a
// device cannot report twice for two distinct physical events.
type EventKey struct {
	SerialNumber string
	TimestampHW  time.Time
	StatusCode   int
	ValveID      *int
	ProgramIndex *int
}

// Key extracts the de-duplication identity from an event.
func (e TelemetryEvent) Key() EventKey {
	return EventKey{
		SerialNumber: e.SerialNumber,
		TimestampHW:  e.TimestampHW,
		StatusCode:   e.StatusCode,
		ValveID:      e.ValveID,
		ProgramIndex: e.ProgramIndex,
	}
}

// ValveSetting describes one valve configured on a controller.
type ValveSetting struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Detail string `json:"detail"`
}

// Hardware is a registered irrigation controller.
type Hardware struct {
	SerialNumber  string         `json:"serialNumber"`
	Model         string         `json:"model"`
	CreatedAt     time.Time      `json:"createdAt"`
	ValveSettings []ValveSetting `json:"valveSettings"`
}

// IntPtr is a convenience for building optional valve/program values.
func IntPtr(v int) *int { return &v }
