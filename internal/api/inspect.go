package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vbus/internal/audit"
	"github.com/nerrad567/vbus/internal/bus"
	"github.com/nerrad567/vbus/internal/component"
)

// busResponse describes the bus itself.
type busResponse struct {
	Name      string    `json:"name"`
	Root      string    `json:"root"`
	Version   string    `json:"version"`
	Autoprobe bool      `json:"autoprobe"`
	Stats     bus.Stats `json:"stats"`
}

func (s *Server) handleGetBus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, busResponse{
		Name:      s.bus.Name(),
		Root:      s.bus.Root().Name(),
		Version:   s.bus.Version(),
		Autoprobe: s.bus.Autoprobe(),
		Stats:     s.bus.Stats(),
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bus.Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	info, err := s.bus.DeviceInfo(chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListDrivers(w http.ResponseWriter, _ *http.Request) {
	drivers := s.bus.Drivers()
	writeJSON(w, http.StatusOK, map[string]any{
		"drivers": drivers,
		"count":   len(drivers),
	})
}

// driverResponse adds the owning component module, if any, to DriverInfo.
type driverResponse struct {
	bus.DriverInfo
	Module     string `json:"module,omitempty"`
	ModuleUses int    `json:"module_uses,omitempty"`
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := s.bus.DriverInfo(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := driverResponse{DriverInfo: info}
	if drv, err := s.bus.LookupDriver(name); err == nil {
		if m, ok := component.OwnerOf(drv); ok {
			resp.Module = m.Name
			resp.ModuleUses = m.Uses()
		}
		drv.Put()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAttributes(kind bus.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := s.bus.Attributes(kind, chi.URLParam(r, "name"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attributes": names})
	}
}

func (s *Server) handleReadAttribute(kind bus.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, err := s.bus.ReadAttribute(kind, chi.URLParam(r, "name"), chi.URLParam(r, "attr"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeText(w, value)
	}
}

// handleWriteAttribute stores the raw request body. A single trailing
// newline is stripped, as `echo 0 > attr` would send one.
func (s *Server) handleWriteAttribute(kind bus.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeBadRequest(w, "reading request body: "+err.Error())
			return
		}
		value := strings.TrimSuffix(string(body), "\n")

		name, attr := chi.URLParam(r, "name"), chi.URLParam(r, "attr")
		if err := s.bus.WriteAttribute(kind, name, attr, value); err != nil {
			writeDomainError(w, err)
			return
		}

		s.logger.Info("attribute written",
			"kind", kind,
			"name", name,
			"attribute", attr,
			"subject", subjectFrom(r.Context()),
		)
		s.auditLog(r, audit.ActionAttributeWrite, kind, name, map[string]any{
			"attribute": attr,
			"value":     value,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	bound := s.bus.Rescan()
	s.logger.Info("rescan requested", "bound", bound, "subject", subjectFrom(r.Context()))
	s.auditLog(r, audit.ActionRescan, bus.KindBus, "", map[string]any{"bound": bound})
	writeJSON(w, http.StatusOK, map[string]int{"bound": bound})
}
