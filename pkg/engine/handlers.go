package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tollgate-io/tollgate/pkg/audit"
	"github.com/tollgate-io/tollgate/pkg/permissions"
	"github.com/tollgate-io/tollgate/pkg/tenancy"
)

// Handlers is the boundary HTTP adapter over Engine. Authentication is the
// deployment's concern; this adapter only lifts the already-authenticated
// principal from headers into the request context.
type Handlers struct {
	engine *Engine
}

// NewHandlers creates the HTTP adapter.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// RegisterRoutes registers all engine routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Evaluation
	router.HandleFunc("/tenants/{tenant}/users/{user}/views", h.ResolveViews).Methods("GET")
	router.HandleFunc("/tenants/{tenant}/users/{user}/features/{feature}/{action}", h.ResolveFeatureAction).Methods("GET")
	router.HandleFunc("/tenants/{tenant}/users/{user}/navigation", h.GetNavigation).Methods("GET")

	// Level administration
	router.HandleFunc("/tenants/{tenant}/levels", h.CreateUserLevel).Methods("POST")
	router.HandleFunc("/tenants/{tenant}/levels", h.ListUserLevels).Methods("GET")
	router.HandleFunc("/tenants/{tenant}/levels/{id}", h.UpdateUserLevel).Methods("PUT")
	router.HandleFunc("/tenants/{tenant}/levels/{id}", h.DeleteUserLevel).Methods("DELETE")

	// Permission matrix
	router.HandleFunc("/tenants/{tenant}/levels/{id}/views", h.GetViewPermissions).Methods("GET")
	router.HandleFunc("/tenants/{tenant}/levels/{id}/views", h.SetViewPermissions).Methods("PUT")
	router.HandleFunc("/tenants/{tenant}/levels/{id}/features", h.GetFeaturePermissions).Methods("GET")
	router.HandleFunc("/tenants/{tenant}/levels/{id}/features", h.SetFeaturePermissions).Methods("PUT")

	// Assignments
	router.HandleFunc("/tenants/{tenant}/users/{user}/levels", h.SetUserLevelAssignments).Methods("PUT")

	// Audit
	router.HandleFunc("/tenants/{tenant}/audit", h.QueryAuditLog).Methods("GET")

	router.Use(principalMiddleware)
}

// principalMiddleware lifts the authenticated identity from headers set by
// the deployment's auth layer into the request context.
func principalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := tenancy.Principal{
			UserID:   r.Header.Get("X-User-ID"),
			TenantID: r.Header.Get("X-Tenant-ID"),
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithPrincipal(r.Context(), p)))
	})
}

// ResolveViews returns the visible view IDs for a user.
func (h *Handlers) ResolveViews(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	views, err := h.engine.ResolveViews(r.Context(), vars["tenant"], vars["user"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"views": views})
}

// ResolveFeatureAction returns the decision for one (feature, action).
func (h *Handlers) ResolveFeatureAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	decision, err := h.engine.ResolveFeatureAction(r.Context(),
		vars["tenant"], vars["user"], vars["feature"], permissions.Action(vars["action"]))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// GetNavigation serves the permission-filtered menu with ETag semantics.
func (h *Handlers) GetNavigation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ifMatch := trimQuotes(r.Header.Get("If-None-Match"))

	result, err := h.engine.GetNavigation(r.Context(), vars["tenant"], vars["user"], ifMatch)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("ETag", `"`+result.ETag+`"`)
	if result.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Body)
}

// CreateUserLevel creates a level.
func (h *Handlers) CreateUserLevel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	level, err := h.engine.CreateUserLevel(r.Context(), vars["tenant"], req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, level)
}

// ListUserLevels lists the tenant's levels.
func (h *Handlers) ListUserLevels(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	levels, err := h.engine.ListUserLevels(r.Context(), vars["tenant"])
	if err != nil {
		writeError(w, err)
		return
	}
	if levels == nil {
		levels = []*permissions.UserLevel{}
	}
	writeJSON(w, http.StatusOK, levels)
}

// UpdateUserLevel renames a level or changes its description.
func (h *Handlers) UpdateUserLevel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	level, err := h.engine.UpdateUserLevel(r.Context(), vars["tenant"], vars["id"], req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

// DeleteUserLevel deletes a level without assignments.
func (h *Handlers) DeleteUserLevel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.engine.DeleteUserLevel(r.Context(), vars["tenant"], vars["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetViewPermissions returns a level's explicit view decisions.
func (h *Handlers) GetViewPermissions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rows, err := h.engine.GetViewPermissions(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []permissions.ViewPermission{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// SetViewPermissions replaces a level's decisions for the given views.
func (h *Handlers) SetViewPermissions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req map[string]permissions.ViewState
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.engine.SetViewPermissions(r.Context(), vars["tenant"], vars["id"], req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFeaturePermissions returns a level's explicit feature decisions.
func (h *Handlers) GetFeaturePermissions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rows, err := h.engine.GetFeaturePermissions(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []permissions.FeaturePermission{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// SetFeaturePermissions replaces a level's decisions for the given feature
// actions.
func (h *Handlers) SetFeaturePermissions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req []permissions.FeaturePermission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.engine.SetFeaturePermissions(r.Context(), vars["tenant"], vars["id"], req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetUserLevelAssignments replaces a user's level set.
func (h *Handlers) SetUserLevelAssignments(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		LevelIDs []string `json:"level_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.engine.SetUserLevelAssignments(r.Context(), vars["tenant"], vars["user"], req.LevelIDs); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueryAuditLog returns the tenant's audit entries, optionally exported as
// CSV or NDJSON via the format query parameter.
func (h *Handlers) QueryAuditLog(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	q := r.URL.Query()

	filter := audit.Filter{
		EntityType:  audit.EntityType(q.Get("entity_type")),
		Action:      audit.Action(q.Get("action")),
		EntityID:    q.Get("entity_id"),
		ActorUserID: q.Get("actor_user_id"),
	}
	if raw := q.Get("start"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.Start = &t
		}
	}
	if raw := q.Get("end"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.End = &t
		}
	}

	page := audit.Page{}
	if raw := q.Get("offset"); raw != "" {
		page.Offset, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("limit"); raw != "" {
		page.Limit, _ = strconv.Atoi(raw)
	}

	entries, err := h.engine.QueryAuditLog(r.Context(), vars["tenant"], filter, page)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}

	if format := audit.ExportFormat(q.Get("format")); format == audit.ExportFormatCSV || format == audit.ExportFormatNDJSON {
		body, err := audit.Export(entries, format)
		if err != nil {
			writeError(w, err)
			return
		}
		if format == audit.ExportFormatCSV {
			w.Header().Set("Content-Type", "text/csv")
		} else {
			w.Header().Set("Content-Type", "application/x-ndjson")
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// writeError maps engine errors to status codes. Cross-tenant rejections are
// masked first so they deliberately share the not-found response.
func writeError(w http.ResponseWriter, err error) {
	err = tenancy.Mask(err)
	switch {
	case errors.Is(err, permissions.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, permissions.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, permissions.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, permissions.ErrStoreUnavailable):
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
