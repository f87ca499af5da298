package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vbus/internal/audit"
	"github.com/nerrad567/vbus/internal/bus"
	"github.com/nerrad567/vbus/internal/hotplug"
)

// hotplugResponse reports the outcome of a hotplug add.
type hotplugResponse struct {
	Device   string `json:"device"`
	Driver   string `json:"driver,omitempty"`
	ProbeErr string `json:"probe_error,omitempty"`
}

func (s *Server) handleHotplug(w http.ResponseWriter, r *http.Request) {
	if s.hotplug == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "hotplug is not enabled")
		return
	}

	var req hotplug.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	name := chi.URLParam(r, "name")
	reg, err := s.hotplug.Apply(req.Action, name)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Action == hotplug.ActionRemove {
		s.auditLog(r, audit.ActionHotplugRemove, bus.KindDevice, name, nil)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := hotplugResponse{Device: name}
	if reg.Driver != nil {
		resp.Driver = reg.Driver.Name()
	}
	if reg.ProbeErr != nil {
		resp.ProbeErr = reg.ProbeErr.Error()
	}
	s.auditLog(r, audit.ActionHotplugAdd, bus.KindDevice, name, map[string]any{
		"driver": resp.Driver,
	})
	writeJSON(w, http.StatusCreated, resp)
}
