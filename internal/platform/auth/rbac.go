package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == RoleAdmin {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// Actor is the authenticated party performing an operation.
type Actor struct {
	ID         string
	Roles      []string
	HospitalID uuid.UUID
}

// Has reports whether the actor holds role.
func (a Actor) Has(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool { return a.Has(RoleAdmin) }

// Role returns the most specific role held, preferring hospital over
// paramedic over admin.
func (a Actor) Role() string {
	for _, r := range []string{RoleHospital, RoleParamedic, RoleAdmin} {
		if a.Has(r) {
			return r
		}
	}
	if len(a.Roles) > 0 {
		return a.Roles[0]
	}
	return ""
}

// ActorFromContext assembles the Actor set by the auth middleware.
func ActorFromContext(ctx context.Context) Actor {
	return Actor{
		ID:         UserIDFromContext(ctx),
		Roles:      RolesFromContext(ctx),
		HospitalID: HospitalIDFromContext(ctx),
	}
}

// WithActor stores a onto ctx the same way the auth middleware does.
func WithActor(ctx context.Context, a Actor) context.Context {
	hid := ""
	if a.HospitalID != uuid.Nil {
		hid = a.HospitalID.String()
	}
	return withClaims(ctx, a.ID, a.Roles, hid)
}
