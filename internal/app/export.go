package app

import (
	"fmt"
	"net/http"

	"github.com/xuri/excelize/v2"

	"yakgreen/irrigation-server/internal/logview"
	"yakgreen/irrigation-server/internal/model"
)

// serveLogExport streams a device's history as a spreadsheet with one sheet
// per view: the chronological log and the paired watering sessions.
func (a *App) serveLogExport(w http.ResponseWriter, serialNumber string, events []model.TelemetryEvent) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	const logSheet = "Log"
	const sessionSheet = "Sessions"

	if err := f.SetSheetName("Sheet1", logSheet); err != nil {
		a.logger.Error("export: rename sheet failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export logs")
		return
	}
	if _, err := f.NewSheet(sessionSheet); err != nil {
		a.logger.Error("export: add sheet failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export logs")
		return
	}

	header := []any{"Date", "Open Time", "Close Time", "Status", "Program", "Valve"}

	writeSheet := func(sheet string, entries []logview.Entry) error {
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return err
		}
		for i, entry := range entries {
			row := []any{entry.Date, entry.OpenTime, entry.CloseTime, entry.Status, entry.ProgramIndex, entry.ValveID}
			cell := fmt.Sprintf("A%d", i+2)
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeSheet(logSheet, logview.Raw(events, a.location)); err != nil {
		a.logger.Error("export: write log sheet failed", "serial", serialNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export logs")
		return
	}
	if err := writeSheet(sessionSheet, logview.Grouped(events, a.location)); err != nil {
		a.logger.Error("export: write session sheet failed", "serial", serialNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export logs")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_logs.xlsx", serialNumber))

	if _, err := f.WriteTo(w); err != nil {
		a.logger.Error("export: write response failed", "serial", serialNumber, "error", err)
	}
}
