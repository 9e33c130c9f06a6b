package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ecobricks/rewards-backend/api/middleware"
	"github.com/ecobricks/rewards-backend/pkg/auth"
	"github.com/ecobricks/rewards-backend/pkg/enums"
)

func withUser(req *http.Request, userID string, role enums.MemberRole) *http.Request {
	ctx := middleware.WithIdentity(req.Context(), auth.Identity{UserID: userID, Role: role})
	return req.WithContext(ctx)
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.RouteContext(req.Context())
	if routeCtx == nil {
		routeCtx = chi.NewRouteContext()
	}
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}
