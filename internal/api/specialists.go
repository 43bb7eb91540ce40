package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skillmarket/points/internal/app/limits"
	"github.com/skillmarket/points/internal/domain"
)

// ─── Specialist API ─────────────────────────────────────────────────────────
//
// GET  /api/specialists                      - visible specialists (category, q, limit, offset)
// GET  /api/specialists/{id}                 - profile
// PUT  /api/specialists/{id}                 - create or update profile flags
// GET  /api/specialists/{id}/limits          - quotas derived from balance
// GET  /api/specialists/{id}/usage           - CanUse* checks
// GET  /api/specialists/{id}/visibility      - search visibility
// POST /api/specialists/{id}/contact-views   - charge one contact view
// POST /api/specialists/{id}/requests        - charge one received request

// SpecialistAPI exposes the limits gate.
type SpecialistAPI struct {
	Gate *limits.Gate
}

type profileRequest struct {
	AccountID        string `json:"account_id"`
	Name             string `json:"name"`
	Category         string `json:"category"`
	Blocked          bool   `json:"blocked"`
	AcceptingClients *bool  `json:"accepting_clients,omitempty"`
	Verified         bool   `json:"verified"`
}

// HandleList returns visible specialists.
func (a *SpecialistAPI) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := a.Gate.GetVisibleSpecialists(r.Context(), domain.ProfileFilter{
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []domain.SpecialistProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"specialists": list})
}

// HandleGet returns one profile.
func (a *SpecialistAPI) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := a.Gate.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleUpsert creates or updates a profile. accepting_clients defaults to true.
func (a *SpecialistAPI) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p := &domain.SpecialistProfile{
		ID:               chi.URLParam(r, "id"),
		AccountID:        req.AccountID,
		Name:             req.Name,
		Category:         req.Category,
		Blocked:          req.Blocked,
		AcceptingClients: req.AcceptingClients == nil || *req.AcceptingClients,
		Verified:         req.Verified,
	}
	if err := a.Gate.SaveProfile(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	saved, err := a.Gate.Profile(r.Context(), p.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleLimits returns the specialist's quotas.
func (a *SpecialistAPI) HandleLimits(w http.ResponseWriter, r *http.Request) {
	l := a.Gate.GetLimits(r.Context(), chi.URLParam(r, "id"))
	if l == nil {
		writeError(w, http.StatusNotFound, "not_found", "specialist or account not found")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// HandleUsage returns whether each incoming action is allowed.
func (a *SpecialistAPI) HandleUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]domain.UsageCheck{
		"contact_view": a.Gate.CanUseContactView(r.Context(), id),
		"request":      a.Gate.CanUseRequest(r.Context(), id),
	})
}

// HandleVisibility reports search visibility.
func (a *SpecialistAPI) HandleVisibility(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"visible": a.Gate.IsProfileVisible(r.Context(), chi.URLParam(r, "id")),
	})
}

// HandleContactView charges one contact view.
func (a *SpecialistAPI) HandleContactView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"success": a.Gate.ConsumeContactView(r.Context(), chi.URLParam(r, "id")),
	})
}

// HandleRequest charges one received request.
func (a *SpecialistAPI) HandleRequest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"success": a.Gate.ConsumeRequest(r.Context(), chi.URLParam(r, "id")),
	})
}
