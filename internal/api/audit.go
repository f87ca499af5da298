package api

import (
	"context"
	"net/http"

	"github.com/nerrad567/vbus/internal/audit"
	"github.com/nerrad567/vbus/internal/bus"
)

// auditChanSize bounds the backlog of unwritten audit entries. Entries
// beyond it are dropped.
const auditChanSize = 256

// auditLog enqueues an entry for asynchronous write. It never blocks.
func (s *Server) auditLog(r *http.Request, action audit.Action, kind bus.Kind, name string, details map[string]any) {
	if s.auditRepo == nil {
		return
	}
	if kind == bus.KindBus && name == "" {
		name = s.bus.Name()
	}

	entry := &audit.Entry{
		Action:  action,
		Kind:    kind,
		Name:    name,
		Subject: subjectFrom(r.Context()),
		Source:  "api",
		Details: details,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"kind", kind,
			"name", name,
		)
	}
}

// drainAuditLog writes queued entries serially until ctx is cancelled,
// then flushes what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	write := func(entry *audit.Entry) {
		if err := s.auditRepo.Create(context.Background(), entry); err != nil {
			s.logger.Error("audit log write failed",
				"action", entry.Action,
				"name", entry.Name,
				"error", err,
			)
		}
	}

	for {
		select {
		case entry := <-s.auditCh:
			write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					write(entry)
				default:
					return
				}
			}
		}
	}
}

// handleListAuditLogs returns audit entries, newest first.
//
// Query parameters: action, kind, name, subject, limit, offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:  audit.Action(q.Get("action")),
		Kind:    bus.Kind(q.Get("kind")),
		Name:    q.Get("name"),
		Subject: q.Get("subject"),
	}

	var err error
	if filter.Limit, err = parseInt(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = parseInt(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	res, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
