package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/rtr-telemetry/internal/store"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

// FrequencyRequest is the body of POST /devices/{id}/frequency.
type FrequencyRequest struct {
	FrequencyHz *float64 `json:"frequency_hz"`
}

// EnabledRequest is the body of PUT /devices/{id}/enabled.
type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleListDevices returns every configured device with its buffer state.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.backend.Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}
	for _, d := range s.backend.Devices() {
		if d.DeviceID == id {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	writeNotFound(w, "device not found")
}

// handleDeviceSnapshot returns the device's buffers, oldest first.
// ?limit=N keeps only the newest N values per field.
func (s *Server) handleDeviceSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}

	var (
		snap store.DeviceSnapshot
		err  error
	)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil || limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		snap, err = s.backend.SnapshotLast(id, limit)
	} else {
		snap, err = s.backend.Snapshot(id)
	}
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSetFrequency publishes a frequency update for the scheduler.
// The response is 202: the scheduler applies or rejects the change
// asynchronously.
func (s *Server) handleSetFrequency(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}
	if !s.knownDevice(id) {
		writeNotFound(w, "device not found")
		return
	}

	var req FrequencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.FrequencyHz == nil {
		writeValidationError(w, "frequency_hz is required")
		return
	}
	if math.IsNaN(*req.FrequencyHz) || math.IsInf(*req.FrequencyHz, 0) {
		writeValidationError(w, "frequency_hz must be a finite number")
		return
	}

	msg := telemetry.NewFrequencyUpdate(id, *req.FrequencyHz, time.Now())
	if err := s.backend.RelayControl(msg); err != nil {
		s.logger.Warn("frequency update not relayed", "device", id.String(), "error", err)
		writeUnavailable(w, "control channel unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, msg)
}

// handleSetEnabled turns buffering for a device on or off.
func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}

	var req EnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeValidationError(w, "enabled is required")
		return
	}

	if err := s.backend.SetEnabled(id, *req.Enabled); err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"enabled":   *req.Enabled,
	})
}

func (s *Server) knownDevice(id telemetry.DeviceID) bool {
	for _, d := range s.backend.Devices() {
		if d.DeviceID == id {
			return true
		}
	}
	return false
}

// deviceParam parses the {id} path segment ("0x100" or decimal).
func deviceParam(w http.ResponseWriter, r *http.Request) (telemetry.DeviceID, bool) {
	id, err := telemetry.ParseDeviceID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return 0, false
	}
	return id, true
}

func writeBackendError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrUnknownDevice) {
		writeNotFound(w, "device not found")
		return
	}
	writeInternalError(w, "internal server error")
}
