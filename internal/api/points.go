package api

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/parkflow/parkflow-core/internal/fieldbus"
	"github.com/parkflow/parkflow-core/internal/pointcache"
)

// fieldbusTarget selects the device of a live fieldbus request: either a
// configured device by id, or an ad hoc definition.
type fieldbusTarget struct {
	DeviceID string           `json:"device_id"`
	Device   *fieldbus.Device `json:"device"`
}

// fieldbusReadRequest is the body of POST /api/fieldbus/read. A positive
// count reads that many points from start instead of the device's
// configured input and output blocks.
type fieldbusReadRequest struct {
	fieldbusTarget
	Function fieldbus.Function `json:"function"`
	Start    uint16            `json:"start"`
	Count    int               `json:"count"`
}

// fieldbusWriteRequest is the body of POST /api/fieldbus/write.
type fieldbusWriteRequest struct {
	fieldbusTarget
	Address *uint16 `json:"address"`
	Value   *bool   `json:"value"`
}

// handleGetPoints returns the cached point row of one device.
func (s *Server) handleGetPoints(w http.ResponseWriter, r *http.Request) {
	if s.points == nil {
		writeUnavailable(w, "point cache not configured")
		return
	}

	device := chi.URLParam(r, "device")
	row, err := s.points.Get(r.Context(), device)
	if errors.Is(err, pointcache.ErrNotFound) {
		writeNotFound(w, "no cached points for device")
		return
	}
	if err != nil {
		s.logger.Error("failed to read point cache", "device", device, "error", err)
		writeInternalError(w, "failed to read point cache")
		return
	}

	writeJSON(w, http.StatusOK, row)
}

// handleResetPoints zeroes the cached row of one device.
func (s *Server) handleResetPoints(w http.ResponseWriter, r *http.Request) {
	if s.points == nil {
		writeUnavailable(w, "point cache not configured")
		return
	}

	device := chi.URLParam(r, "device")
	if err := s.points.Reset(r.Context(), device); err != nil {
		s.logger.Error("failed to reset point cache", "device", device, "error", err)
		writeInternalError(w, "failed to reset point cache")
		return
	}

	s.logger.Info("point cache reset", "device", device)
	writeJSON(w, http.StatusOK, map[string]any{"device": device, "reset": true})
}

// handleListDevices lists the configured fieldbus devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := make([]fieldbus.Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleFieldbusRead performs a live read of one device without touching the cache.
func (s *Server) handleFieldbusRead(w http.ResponseWriter, r *http.Request) {
	if s.fieldbus == nil {
		writeUnavailable(w, "fieldbus gateway not configured")
		return
	}

	var req fieldbusReadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	dev, ok := s.resolveDevice(w, req.fieldbusTarget)
	if !ok {
		return
	}
	if req.Count > 0 {
		s.readRange(w, r, dev, req)
		return
	}

	snap, err := s.fieldbus.Read(r.Context(), dev)
	if err != nil {
		s.logger.Warn("live fieldbus read failed", "device", dev.ID, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}

	resp := map[string]any{
		"device":  dev.ID,
		"inputs":  snap.Inputs,
		"outputs": snap.Outputs,
	}
	if snap.InputErr != nil {
		resp["input_error"] = snap.InputErr.Error()
	}
	if snap.OutputErr != nil {
		resp["output_error"] = snap.OutputErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// readRange answers a range read with an explicit function, defaulting to
// the device's own.
func (s *Server) readRange(w http.ResponseWriter, r *http.Request, dev fieldbus.Device, req fieldbusReadRequest) {
	fn := req.Function
	if fn == "" {
		fn = dev.Function
	}

	values, err := s.fieldbus.ReadRange(r.Context(), dev, fn, req.Start, req.Count)
	if errors.Is(err, fieldbus.ErrInvalidDevice) {
		writeValidationError(w, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("live fieldbus range read failed", "device", dev.ID, "function", string(fn), "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":   dev.ID,
		"function": fn,
		"start":    req.Start,
		"values":   values,
	})
}

// handleFieldbusWrite writes a single coil.
func (s *Server) handleFieldbusWrite(w http.ResponseWriter, r *http.Request) {
	if s.fieldbus == nil {
		writeUnavailable(w, "fieldbus gateway not configured")
		return
	}

	var req fieldbusWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Address == nil || req.Value == nil {
		writeValidationError(w, "address and value are required")
		return
	}
	dev, ok := s.resolveDevice(w, req.fieldbusTarget)
	if !ok {
		return
	}

	if err := s.fieldbus.WriteCoil(r.Context(), dev, *req.Address, *req.Value); err != nil {
		s.logger.Warn("fieldbus coil write failed", "device", dev.ID, "address", *req.Address, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}

	s.logger.Info("fieldbus coil written", "device", dev.ID, "address", *req.Address, "value", *req.Value)
	writeJSON(w, http.StatusOK, map[string]any{
		"device":  dev.ID,
		"address": *req.Address,
		"value":   *req.Value,
	})
}

// resolveDevice finds the device a fieldbus request targets. It writes the
// error response itself and reports whether the caller may continue.
func (s *Server) resolveDevice(w http.ResponseWriter, req fieldbusTarget) (fieldbus.Device, bool) {
	if req.DeviceID != "" {
		dev, ok := s.devices[req.DeviceID]
		if !ok {
			writeNotFound(w, "unknown device "+req.DeviceID)
			return fieldbus.Device{}, false
		}
		return dev, true
	}

	if req.Device == nil {
		writeValidationError(w, "device_id or device is required")
		return fieldbus.Device{}, false
	}
	dev := *req.Device
	if dev.ID == "" {
		dev.ID = dev.Address
	}
	if dev.Function == "" {
		dev.Function = fieldbus.ReadCoils
	}
	if dev.SlaveID == 0 {
		dev.SlaveID = 1
	}
	if err := dev.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return fieldbus.Device{}, false
	}
	return dev, true
}

// PointObserver returns a pointcache.Observer that streams refreshed rows to
// WebSocket clients subscribed to the points channel.
func (s *Server) PointObserver() pointcache.Observer {
	return func(ctx context.Context, row pointcache.Row) {
		if s.hub != nil {
			s.hub.PublishPoints(ctx, row)
		}
	}
}
