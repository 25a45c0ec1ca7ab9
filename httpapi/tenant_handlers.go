package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/fraud"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBulkRecords   = 200
)

type bulkRecord struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
}

type bulkRequest struct {
	Records []bulkRecord `json:"records"`
}

type overrideRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

func toPrincipalResponse(p store.Principal) principalResponse {
	return principalResponse{
		ID:         p.ID,
		TenantID:   p.TenantID,
		Identifier: p.Identifier,
		Role:       string(p.Role),
		BranchID:   p.BranchID,
	}
}

func listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, ErrBadRequest.WithFields(map[string]string{"limit": "must be a positive integer"})
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

// handleListCustomers lists customers of the admitted tenant. Whatever the
// request asked for, the query is rewritten to the decision's scope.
func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	d := decision(r)
	q := d.Scope.Rewrite(store.Query{Role: store.RoleCustomer, Limit: limit})

	list, err := s.engine.Directory().ListPrincipals(r.Context(), q)
	if err != nil {
		WriteError(w, r, storeError(err))
		return
	}
	out := make([]principalResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPrincipalResponse(p))
	}
	writeData(w, out)
}

// handleBulkCustomers resolves a batch of customer records. One foreign or
// unknown record fails the whole batch.
func (s *Server) handleBulkCustomers(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := readJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if len(req.Records) > maxBulkRecords {
		WriteError(w, r, ErrBadRequest.WithFields(map[string]string{"records": "too many records"}))
		return
	}
	d := decision(r)
	tenants := make([]string, 0, len(req.Records))
	for _, rec := range req.Records {
		tenants = append(tenants, rec.TenantID)
	}
	if err := d.Scope.CheckBulk(tenants); err != nil {
		WriteError(w, r, err)
		return
	}

	out := make([]principalResponse, 0, len(req.Records))
	for _, rec := range req.Records {
		p, err := s.engine.Directory().GetPrincipal(r.Context(), d.Scope.TenantID, rec.ID)
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, r, authkernel.ErrForbidden)
			return
		}
		if err != nil {
			WriteError(w, r, storeError(err))
			return
		}
		if d.Scope.BranchID != "" && p.BranchID != d.Scope.BranchID {
			WriteError(w, r, authkernel.ErrForbidden)
			return
		}
		out = append(out, toPrincipalResponse(*p))
	}
	writeData(w, out)
}

func (s *Server) handleFraudReviews(w http.ResponseWriter, r *http.Request) {
	p := s.engine.Fraud()
	if p == nil {
		writeData(w, []fraud.Event{})
		return
	}
	events, err := p.PendingReviews(r.Context(), decision(r).Scope.TenantID)
	if err != nil {
		WriteError(w, r, storeError(err))
		return
	}
	if events == nil {
		events = []fraud.Event{}
	}
	writeData(w, events)
}

func (s *Server) handleFraudOverride(w http.ResponseWriter, r *http.Request) {
	p := s.engine.Fraud()
	if p == nil {
		WriteError(w, r, ErrNotFound)
		return
	}
	var req overrideRequest
	if err := readJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	dec, err := fraud.ParseDecision(req.Decision)
	if err != nil {
		WriteError(w, r, ErrBadRequest.WithFields(map[string]string{"decision": "unknown decision"}))
		return
	}

	d := decision(r)
	id := chi.URLParam(r, "eventID")
	ev, err := p.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, fraudError(err))
		return
	}
	if ev.TenantID != d.Scope.TenantID {
		WriteError(w, r, authkernel.ErrForbidden)
		return
	}
	ev, err = p.Override(r.Context(), id, fraud.Override{
		Reviewer: d.Identity.PrincipalID,
		Decision: dec,
		Reason:   req.Reason,
	})
	if err != nil {
		WriteError(w, r, fraudError(err))
		return
	}
	writeData(w, ev)
}

func fraudError(err error) error {
	switch {
	case errors.Is(err, fraud.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, fraud.ErrAlreadyReviewed):
		return ErrConflict.WithCause(err)
	}
	return storeError(err)
}

func storeError(err error) error {
	if errors.Is(err, store.ErrUnscopedQuery) {
		return ErrInternal.WithCause(err)
	}
	return ErrStoreUnavailable.WithCause(err)
}
