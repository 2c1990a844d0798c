package httpapi

import (
	"net/http"
	"strconv"
)

func (a *api) handleAdminRateLimitGet(w http.ResponseWriter, r *http.Request) {
	st, err := a.adminSvc.RateLimitStatus(r.Context(), r.PathValue("key"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

func (a *api) handleAdminRateLimitReset(w http.ResponseWriter, r *http.Request) {
	if err := a.adminSvc.ResetRateLimit(r.Context(), r.PathValue("key")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleAdminRateLimitClear(w http.ResponseWriter, r *http.Request) {
	a.adminSvc.ClearRateLimits(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleAdminActivity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	items, err := a.adminSvc.ListActivity(r.Context(), limit, offset)
	if err != nil {
		a.logger.Error("list activity failed", "err", err)
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
