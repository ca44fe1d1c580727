package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleListDevices returns the device list.
//
// Query parameters:
//   - refresh: "true" clears the cache and rescans before answering
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh")) //nolint:errcheck // absent or invalid means false
	devices := s.devices.Discover(r.Context(), force)
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one cached device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.devices.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.GetStats())
}
