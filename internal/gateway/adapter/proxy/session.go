package proxy

import (
	"log/slog"
	"net/http"
	"time"

	"consolegate/internal/credential"
	"consolegate/internal/domain"
	gw "consolegate/internal/gateway"
	"consolegate/internal/permission"
	"consolegate/internal/routes"
)

// SessionView is the console's view of the current session.
type SessionView struct {
	Subject         string           `json:"subject"`
	Roles           []string         `json:"roles"`
	Departments     []string         `json:"departments"`
	ExpiresAt       time.Time        `json:"expires_at"`
	LinkStatus      int              `json:"link_status"`
	OrderManagement []domain.Action  `json:"order_management"`
	Navigation      []routes.NavItem `json:"navigation"`
}

// session describes the caller's credential without verifying it. The guard
// does not run for this endpoint, so an expired token is reported rather than
// renewed; the console refreshes through /auth/refresh.
func (r *Router) session(w http.ResponseWriter, req *http.Request) {
	claims, ok := gw.ClaimsFromContext(req.Context())
	if !ok {
		tok := credential.ReadCookies(req).AccessToken
		if tok == "" {
			writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{
				Error:   "unauthorized",
				Message: "no session",
			})
			return
		}
		var err error
		claims, err = credential.DecodeClaims(tok)
		if err != nil {
			slog.Debug("session cookie rejected", "error", err,
				"request_id", gw.RequestIDFromContext(req.Context()))
			writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{
				Error:   "invalid_token",
				Message: "session could not be read",
			})
			return
		}
		if claims.Expired(time.Now()) {
			writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{
				Error:   "token_expired",
				Message: domain.ErrTokenExpired.Error(),
			})
			return
		}
	}

	view := SessionView{
		Subject:         claims.Subject,
		Roles:           claims.RoleNames(),
		Departments:     claims.Departments,
		ExpiresAt:       claims.ExpiresAt.UTC(),
		LinkStatus:      claims.LinkStatus,
		OrderManagement: permission.OrderManagementActions(claims),
		Navigation:      []routes.NavItem{},
	}
	if view.Departments == nil {
		view.Departments = []string{}
	}
	if view.OrderManagement == nil {
		view.OrderManagement = []domain.Action{}
	}
	if r.cfg.Table != nil {
		for _, n := range r.cfg.Table.Navigation() {
			if allowed, _ := r.cfg.Table.Decide(claims, n.Path); allowed {
				view.Navigation = append(view.Navigation, n)
			}
		}
	}

	writeJSON(w, http.StatusOK, view)
}
