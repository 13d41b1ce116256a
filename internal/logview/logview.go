// Package logview derives read-only display views from a device's persisted
// telemetry history. Both views are pure functions over an event slice, so
// they are testable without any store or broker.
package logview

import (
	"fmt"
	"sort"
	"time"

	"yakgreen/irrigation-server/internal/model"
)

// Placeholder marks a field with no value in a display entry.
const Placeholder = "-"

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Entry is one row of either display view. Program indices are 1-based for
// display; absent valve or program values render as the placeholder.
type Entry struct {
	Date         string `json:"date"`
	OpenTime     string `json:"openTime"`
	CloseTime    string `json:"closeTime"`
	Status       string `json:"status"`
	ProgramIndex string `json:"program_index"`
	ValveID      string `json:"valve_id"`
}

// displayProgram converts a persisted 0-based program index to its 1-based
// display form. Absence stays the placeholder, never "1".
func displayProgram(programIndex *int) string {
	if programIndex == nil {
		return Placeholder
	}
	return fmt.Sprintf("%d", *programIndex+1)
}

// displayValve renders a valve id, preserving an explicit zero.
func displayValve(valveID *int) string {
	if valveID == nil {
		return Placeholder
	}
	return fmt.Sprintf("%d", *valveID)
}

// Raw formats a device's events most recent first: one row per event, with
// the open or close time column filled according to the status code.
func Raw(events []model.TelemetryEvent, loc *time.Location) []Entry {
	sorted := make([]model.TelemetryEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampHW.After(sorted[j].TimestampHW)
	})

	entries := make([]Entry, 0, len(sorted))
	for _, ev := range sorted {
		local := ev.TimestampHW.In(loc)

		openTime := Placeholder
		closeTime := Placeholder
		switch ev.StatusCode {
		case model.StatusValveOpened:
			openTime = local.Format(timeLayout)
		case model.StatusValveClosed:
			closeTime = local.Format(timeLayout)
		}

		status := ev.DetailStatus
		if status == "" {
			status = "N/A"
		}

		entries = append(entries, Entry{
			Date:         local.Format(dateLayout),
			OpenTime:     openTime,
			CloseTime:    closeTime,
			Status:       status,
			ProgramIndex: displayProgram(ev.ProgramIndex),
			ValveID:      displayValve(ev.ValveID),
		})
	}

	return entries
}

// WateringCompleted is the status text of a fully paired open/close session.
const WateringCompleted = "Watering completed"

// CancelledByUser is the status text of a user-initiated cancellation.
const CancelledByUser = "Cancelled by user"

// pairKey identifies a pending open awaiting its close. ProgramSet keeps an
// absent program index from colliding with program index 0.
type pairKey struct {
	ValveID    int
	Program    int
	ProgramSet bool
}

func keyFor(ev model.TelemetryEvent) pairKey {
	k := pairKey{}
	if ev.ValveID != nil {
		k.ValveID = *ev.ValveID
	}
	if ev.ProgramIndex != nil {
		k.Program = *ev.ProgramIndex
		k.ProgramSet = true
	}
	return k
}

// Grouped reconciles a device's events into watering sessions in a single
// ascending pass. Opens start a pending pair; a close completes its pending
// pair exactly once or, unmatched, becomes an orphan close row. Failures,
// skips, and cancellations become standalone rows. Pending opens with no
// observed close are dropped. Output concatenates the categories in order:
// paired sessions, failures, skipped programs, cancellations.
func Grouped(events []model.TelemetryEvent, loc *time.Location) []Entry {
	sorted := make([]model.TelemetryEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampHW.Before(sorted[j].TimestampHW)
	})

	var (
		paired    []Entry
		failed    []Entry
		skipped   []Entry
		cancelled []Entry
	)
	pending := make(map[pairKey]Entry)

	for _, ev := range sorted {
		local := ev.TimestampHW.In(loc)
		date := local.Format(dateLayout)
		timeOfDay := local.Format(timeLayout)

		switch ev.StatusCode {
		case model.StatusValveOpened:
			// A re-open before the previous close overwrites the
			// stale pending entry.
			pending[keyFor(ev)] = Entry{
				Date:         date,
				OpenTime:     timeOfDay,
				CloseTime:    Placeholder,
				Status:       WateringCompleted,
				ProgramIndex: displayProgram(ev.ProgramIndex),
				ValveID:      displayValve(ev.ValveID),
			}

		case model.StatusValveClosed:
			key := keyFor(ev)
			if entry, ok := pending[key]; ok {
				entry.CloseTime = timeOfDay
				paired = append(paired, entry)
				delete(pending, key)
			} else {
				paired = append(paired, Entry{
					Date:         date,
					OpenTime:     Placeholder,
					CloseTime:    timeOfDay,
					Status:       WateringCompleted,
					ProgramIndex: displayProgram(ev.ProgramIndex),
					ValveID:      displayValve(ev.ValveID),
				})
			}

		case model.StatusOpenFailed, model.StatusCloseFailed:
			failed = append(failed, Entry{
				Date:         date,
				OpenTime:     timeOfDay,
				CloseTime:    Placeholder,
				Status:       ev.DetailStatus,
				ProgramIndex: displayProgram(ev.ProgramIndex),
				ValveID:      displayValve(ev.ValveID),
			})

		case model.StatusProgramSkip:
			skipped = append(skipped, Entry{
				Date:         date,
				OpenTime:     timeOfDay,
				CloseTime:    Placeholder,
				Status:       fmt.Sprintf("Program skipped (valve %s reported a fault)", displayValve(ev.ValveID)),
				ProgramIndex: displayProgram(ev.ProgramIndex),
				ValveID:      displayValve(ev.ValveID),
			})

		case model.StatusUserCancelled:
			cancelled = append(cancelled, Entry{
				Date:         date,
				OpenTime:     timeOfDay,
				CloseTime:    Placeholder,
				Status:       CancelledByUser,
				ProgramIndex: displayProgram(ev.ProgramIndex),
				ValveID:      Placeholder,
			})
		}
	}

	out := make([]Entry, 0, len(paired)+len(failed)+len(skipped)+len(cancelled))
	out = append(out, paired...)
	out = append(out, failed...)
	out = append(out, skipped...)
	out = append(out, cancelled...)
	return out
}
