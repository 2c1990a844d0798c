package httpapi

import (
	"net/http"

	"MigrationDashboard/internal/domain"
)

func (a *api) handleUsersMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := CurrentSession(r)
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	WriteJSON(w, http.StatusOK, newSessionUserResponse(sess.Data()))
}
