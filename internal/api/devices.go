package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yenshow/ba-backend-sub000/internal/device"
)

// handleListDevices returns every registered device.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		s.writeDeviceError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleCreateDevice registers a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var d device.Device
	if err := decodeBody(r, &d); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.registry.CreateDevice(r.Context(), &d); err != nil {
		s.writeDeviceError(w, err, d.ID)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// deviceUpdateRequest holds the mutable device fields for PATCH.
// Pointer fields distinguish "not supplied" from zero values.
type deviceUpdateRequest struct {
	Name           *string `json:"name"`
	Location       *string `json:"location"`
	Host           *string `json:"host"`
	Port           *int    `json:"port"`
	UnitID         *int    `json:"unit_id"`
	PollInterval   *int    `json:"poll_interval"`
	ErrorThreshold *int    `json:"error_threshold"`
	Enabled        *bool   `json:"enabled"`
}

// handleUpdateDevice applies a partial update to a device.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		s.writeDeviceError(w, err, id)
		return
	}

	var req deviceUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if req.Name != nil {
		d.Name = *req.Name
	}
	if req.Location != nil {
		d.Location = *req.Location
	}
	if req.Host != nil {
		d.Host = *req.Host
	}
	if req.Port != nil {
		d.Port = *req.Port
	}
	if req.UnitID != nil {
		if *req.UnitID < 0 || *req.UnitID > 255 {
			writeBadRequest(w, "unit_id must be between 0 and 255")
			return
		}
		d.UnitID = uint8(*req.UnitID)
	}
	if req.PollInterval != nil {
		d.PollInterval = req.PollInterval
	}
	if req.ErrorThreshold != nil {
		d.ErrorThreshold = req.ErrorThreshold
	}
	if req.Enabled != nil {
		d.Enabled = *req.Enabled
	}

	if err := s.registry.UpdateDevice(r.Context(), d); err != nil {
		s.writeDeviceError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice removes a device from the registry.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.registry.DeleteDevice(r.Context(), id); err != nil {
		s.writeDeviceError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// writeDeviceError maps registry errors onto HTTP responses.
func (s *Server) writeDeviceError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found: "+id)
	case errors.Is(err, device.ErrDeviceExists):
		writeConflict(w, "device already exists: "+id)
	case errors.Is(err, device.ErrInvalidDevice):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error("device operation failed", "device_id", id, "error", err)
		writeInternalError(w, "device operation failed")
	}
}
