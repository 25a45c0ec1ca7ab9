package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
)

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handlePrincipalStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := readJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	d := decision(r)
	id := chi.URLParam(r, "principalID")
	if err := s.engine.SetPrincipalStatus(r.Context(), d.Identity, d.Scope.TenantID, id, store.Status(req.Status)); err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, map[string]string{"id": id, "status": req.Status})
}

// handleAuditEvents lists the admitted tenant's audit trail, newest first.
func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	repo := s.engine.AuditRepository()
	if repo == nil {
		writeData(w, []audit.Event{})
		return
	}
	q := r.URL.Query()
	events, err := repo.List(r.Context(), audit.Filter{
		TenantID: decision(r).Scope.TenantID,
		ActorID:  q.Get("actor"),
		Type:     q.Get("type"),
		Limit:    limit,
	})
	if err != nil {
		WriteError(w, r, storeError(err))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeData(w, events)
}
