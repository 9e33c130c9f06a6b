package controllers

import (
	"net/http"

	"github.com/ecobricks/rewards-backend/api/middleware"
	"github.com/ecobricks/rewards-backend/api/responses"
	pkgerrors "github.com/ecobricks/rewards-backend/pkg/errors"
	"github.com/ecobricks/rewards-backend/pkg/logger"
)

// requireUser writes 401 and returns false when the request carries no caller.
func requireUser(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return "", false
	}
	return userID, true
}
