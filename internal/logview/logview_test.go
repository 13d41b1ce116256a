package logview

import (
	"testing"
	"time"

	"yakgreen/irrigation-server/internal/model"
)

func mustLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func event(t time.Time, status int, valve, program *int) model.TelemetryEvent {
	return model.TelemetryEvent{
		SerialNumber: "HW-1",
		TimestampHW:  t,
		StatusCode:   status,
		DetailStatus: model.StatusLabel(status),
		ValveID:      valve,
		ProgramIndex: program,
	}
}

func TestGroupedPairsOpenAndClose(t *testing.T) {
	loc := mustLocation(t)
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	events := []model.TelemetryEvent{
		event(base.Add(10*time.Second), model.StatusValveOpened, model.IntPtr(1), model.IntPtr(0)),
		event(base.Add(20*time.Second), model.StatusValveClosed, model.IntPtr(1), model.IntPtr(0)),
	}

	out := Grouped(events, loc)
	if len(out) != 1 {
		t.Fatalf("expected 1 session, got %d: %+v", len(out), out)
	}

	got := out[0]
	wantOpen := base.Add(10 * time.Second).In(loc).Format("15:04:05")
	wantClose := base.Add(20 * time.Second).In(loc).Format("15:04:05")
	if got.OpenTime != wantOpen || got.CloseTime != wantClose {
		t.Errorf("open/close = %s/%s, want %s/%s", got.OpenTime, got.CloseTime, wantOpen, wantClose)
	}
	if got.Status != WateringCompleted {
		t.Errorf("status = %q, want %q", got.Status, WateringCompleted)
	}
	if got.ProgramIndex != "1" {
		t.Errorf("program index = %q, want 1-based display \"1\"", got.ProgramIndex)
	}
	if got.ValveID != "1" {
		t.Errorf("valve = %q, want \"1\"", got.ValveID)
	}
}

func TestGroupedOrphanClose(t *testing.T) {
	loc := mustLocation(t)
	ts := time.Date(2026, 3, 10, 0, 0, 5, 0, time.UTC)

	out := Grouped([]model.TelemetryEvent{
		event(ts, model.StatusValveClosed, model.IntPtr(2), model.IntPtr(1)),
	}, loc)

	if len(out) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(out))
	}
	if out[0].OpenTime != Placeholder {
		t.Errorf("open time = %q, want placeholder", out[0].OpenTime)
	}
	if want := ts.In(loc).Format("15:04:05"); out[0].CloseTime != want {
		t.Errorf("close time = %q, want %s", out[0].CloseTime, want)
	}
}

func TestGroupedUnmatchedOpenDropped(t *testing.T) {
	loc := mustLocation(t)
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	out := Grouped([]model.TelemetryEvent{
		event(ts, model.StatusValveOpened, model.IntPtr(1), model.IntPtr(0)),
	}, loc)

	if len(out) != 0 {
		t.Fatalf("expected pending open to be dropped, got %+v", out)
	}
}

func TestGroupedAbsentProgramDoesNotCollideWithZero(t *testing.T) {
	loc := mustLocation(t)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	// An open with program 0 and a close with no program must not pair.
	out := Grouped([]model.TelemetryEvent{
		event(base, model.StatusValveOpened, model.IntPtr(1), model.IntPtr(0)),
		event(base.Add(time.Minute), model.StatusValveClosed, model.IntPtr(1), nil),
	}, loc)

	if len(out) != 1 {
		t.Fatalf("expected only the orphan close, got %+v", out)
	}
	if out[0].OpenTime != Placeholder {
		t.Errorf("orphan close picked up the pending open: %+v", out[0])
	}
	if out[0].ProgramIndex != Placeholder {
		t.Errorf("absent program displayed as %q, want placeholder", out[0].ProgramIndex)
	}
}

func TestGroupedReOpenOverwritesPending(t *testing.T) {
	loc := mustLocation(t)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	valve := model.IntPtr(1)
	prog := model.IntPtr(2)

	out := Grouped([]model.TelemetryEvent{
		event(base, model.StatusValveOpened, valve, prog),
		event(base.Add(time.Minute), model.StatusValveOpened, valve, prog),
		event(base.Add(2*time.Minute), model.StatusValveClosed, valve, prog),
	}, loc)

	if len(out) != 1 {
		t.Fatalf("expected 1 session, got %d", len(out))
	}
	if want := base.Add(time.Minute).In(loc).Format("15:04:05"); out[0].OpenTime != want {
		t.Errorf("open time = %q, want the later open %s", out[0].OpenTime, want)
	}
}

func TestGroupedStandaloneCategories(t *testing.T) {
	loc := mustLocation(t)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	events := []model.TelemetryEvent{
		event(base.Add(1*time.Minute), model.StatusUserCancelled, nil, nil),
		event(base.Add(2*time.Minute), model.StatusProgramSkip, model.IntPtr(0), model.IntPtr(1)),
		event(base.Add(3*time.Minute), model.StatusOpenFailed, model.IntPtr(2), model.IntPtr(0)),
		event(base.Add(4*time.Minute), model.StatusValveOpened, model.IntPtr(1), model.IntPtr(0)),
		event(base.Add(5*time.Minute), model.StatusValveClosed, model.IntPtr(1), model.IntPtr(0)),
	}

	out := Grouped(events, loc)
	if len(out) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(out), out)
	}

	// Category order: paired, failed, skipped, cancelled.
	if out[0].Status != WateringCompleted {
		t.Errorf("entry 0 status = %q, want paired session first", out[0].Status)
	}
	if out[1].Status != model.StatusLabel(model.StatusOpenFailed) {
		t.Errorf("entry 1 status = %q, want failure detail", out[1].Status)
	}
	if out[2].Status != "Program skipped (valve 0 reported a fault)" {
		t.Errorf("entry 2 status = %q, valve zero must be named, not a placeholder", out[2].Status)
	}
	if out[3].Status != CancelledByUser {
		t.Errorf("entry 3 status = %q, want cancellation", out[3].Status)
	}
	if out[3].ValveID != Placeholder {
		t.Errorf("cancellation valve = %q, want placeholder", out[3].ValveID)
	}
}

func TestRawViewColumnsAndOrdering(t *testing.T) {
	loc := mustLocation(t)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	events := []model.TelemetryEvent{
		event(base, model.StatusValveOpened, model.IntPtr(0), model.IntPtr(0)),
		event(base.Add(time.Minute), model.StatusValveClosed, model.IntPtr(0), model.IntPtr(0)),
		event(base.Add(2*time.Minute), model.StatusUserCancelled, nil, nil),
	}

	out := Raw(events, loc)
	if len(out) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(out))
	}

	// Most recent first.
	if out[0].Status != model.StatusLabel(model.StatusUserCancelled) {
		t.Errorf("row 0 = %+v, want the cancellation first", out[0])
	}

	closeRow := out[1]
	if closeRow.OpenTime != Placeholder {
		t.Errorf("close row open time = %q, want placeholder", closeRow.OpenTime)
	}
	if closeRow.CloseTime == Placeholder {
		t.Errorf("close row close time missing")
	}
	if closeRow.ValveID != "0" {
		t.Errorf("valve 0 displayed as %q, explicit zero must be preserved", closeRow.ValveID)
	}
	if closeRow.ProgramIndex != "1" {
		t.Errorf("program 0 displayed as %q, want 1-based \"1\"", closeRow.ProgramIndex)
	}

	cancelRow := out[0]
	if cancelRow.ValveID != Placeholder || cancelRow.ProgramIndex != Placeholder {
		t.Errorf("absent valve/program displayed as %q/%q, want placeholders", cancelRow.ValveID, cancelRow.ProgramIndex)
	}
}

func TestRawViewUnknownStatus(t *testing.T) {
	loc := mustLocation(t)
	ts := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	out := Raw([]model.TelemetryEvent{event(ts, 42, nil, nil)}, loc)
	if len(out) != 1 {
		t.Fatalf("expected 1 row, got %d", len(out))
	}
	if out[0].Status != model.UnknownStatus {
		t.Errorf("status = %q, want %q", out[0].Status, model.UnknownStatus)
	}
	if out[0].OpenTime != Placeholder || out[0].CloseTime != Placeholder {
		t.Errorf("unknown status must not fill time columns: %+v", out[0])
	}
}
