package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/vbus/internal/journal"
	"github.com/nerrad567/vbus/internal/uevent"
)

// handleListEvents queries the journal.
//
// Query parameters: bus, device, driver, action, after_seq, limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event journal is not enabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Bus:    q.Get("bus"),
		Device: q.Get("device"),
		Driver: q.Get("driver"),
		Action: uevent.Action(q.Get("action")),
	}

	var err error
	if filter.AfterSeq, err = parseUint(q.Get("after_seq")); err != nil {
		writeBadRequest(w, "after_seq must be a non-negative integer")
		return
	}
	if filter.Limit, err = parseInt(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = parseInt(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	res, err := s.journal.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
