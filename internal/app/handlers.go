package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"yakgreen/irrigation-server/internal/logview"
	"yakgreen/irrigation-server/internal/model"
	"yakgreen/irrigation-server/internal/store"
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/logs/", a.handleLogs)
	mux.HandleFunc("/api/hardware", a.handleHardwareCollection)
	mux.HandleFunc("/api/hardware/", a.handleHardwareItem)

	// Caller-identity middleware (bearer tokens etc) attaches here; the
	// query layer itself only cares about serial numbers.

	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || a.client == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleLogs serves /api/logs/{serialNumber}, its /grouped variant, and the
// /export spreadsheet download.
func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/logs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	serialNumber := parts[0]
	if serialNumber == "" {
		writeError(w, http.StatusBadRequest, "missing serial number")
		return
	}

	view := ""
	if len(parts) > 1 {
		view = parts[1]
	}
	if len(parts) > 2 || (view != "" && view != "grouped" && view != "export") {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// The grouped pass and the export consume events oldest first; the raw
	// view is served most recent first.
	descending := view == ""
	events, err := a.store.EventsBySerial(ctx, serialNumber, descending)
	if err != nil {
		a.logger.Error("failed to load telemetry events", "serial", serialNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch logs")
		return
	}

	// An empty result is an explicit not-found, never an empty 200: a
	// device with no history is indistinguishable from a wrong serial.
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "no logs found for this device")
		return
	}

	switch view {
	case "":
		writeJSON(w, http.StatusOK, logview.Raw(events, a.location))
	case "grouped":
		writeJSON(w, http.StatusOK, logview.Grouped(events, a.location))
	case "export":
		a.serveLogExport(w, serialNumber, events)
	}
}

func (a *App) handleHardwareCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listHardware(w, r)
	case http.MethodPost:
		a.registerHardware(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *App) listHardware(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	list, err := a.store.ListHardware(ctx)
	if err != nil {
		a.logger.Error("failed to load hardware list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve hardware list")
		return
	}
	if list == nil {
		list = []model.Hardware{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *App) registerHardware(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SerialNumber string `json:"serialNumber"`
		Model        string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	req.SerialNumber = strings.TrimSpace(req.SerialNumber)
	req.Model = strings.TrimSpace(req.Model)
	if req.SerialNumber == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "serialNumber and model are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	hw := model.Hardware{
		SerialNumber:  req.SerialNumber,
		Model:         req.Model,
		ValveSettings: []model.ValveSetting{},
	}
	if err := a.store.RegisterHardware(ctx, hw); err != nil {
		if errors.Is(err, store.ErrHardwareExists) {
			writeError(w, http.StatusBadRequest, "hardware already exists")
			return
		}
		a.logger.Error("failed to register hardware", "serial", req.SerialNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add hardware")
		return
	}

	a.logger.Info("hardware registered", "serial", req.SerialNumber, "model", req.Model)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "hardware added successfully",
		"hardware": hw,
	})
}

// handleHardwareItem serves /api/hardware/{serialNumber} and the valve
// settings subresources beneath it.
func (a *App) handleHardwareItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/hardware/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	serialNumber := parts[0]
	if serialNumber == "" {
		writeError(w, http.StatusBadRequest, "missing serial number")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			w.Header().Set("Allow", http.MethodDelete)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		a.deleteHardware(w, r, serialNumber)

	case len(parts) == 2 && parts[1] == "settings":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		a.serveValveSettings(w, r, serialNumber)

	case len(parts) == 3 && parts[1] == "settings":
		if r.Method != http.MethodPut {
			w.Header().Set("Allow", http.MethodPut)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		valveID, err := strconv.Atoi(parts[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid valve id")
			return
		}
		a.updateValveSetting(w, r, serialNumber, valveID)

	default:
		http.NotFound(w, r)
	}
}

func (a *App) deleteHardware(w http.ResponseWriter, r *http.Request, serialNumber string) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.DeleteHardware(ctx, serialNumber); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "hardware not found")
			return
		}
		a.logger.Error("failed to delete hardware", "serial", serialNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete hardware")
		return
	}

	a.logger.Info("hardware deleted", "serial", serialNumber)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) serveValveSettings(w http.ResponseWriter, r *http.Request, serialNumber string) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	hw, err := a.store.GetHardware(ctx, serialNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "hardware not found")
			return
		}
		a.logger.Error("failed to load valve settings", "serial", serialNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve valve settings")
		return
	}

	writeJSON(w, http.StatusOK, hw.ValveSettings)
}

func (a *App) updateValveSetting(w http.ResponseWriter, r *http.Request, serialNumber string, valveID int) {
	var req struct {
		Name   string `json:"name"`
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	setting := model.ValveSetting{ID: valveID, Name: req.Name, Detail: req.Detail}
	if err := a.store.UpdateValveSetting(ctx, serialNumber, setting); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "hardware not found")
			return
		}
		a.logger.Error("failed to update valve setting", "serial", serialNumber, "valve", valveID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update valve setting")
		return
	}

	writeJSON(w, http.StatusOK, setting)
}
