package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rapidcare/rapidcare/internal/platform/auth"
)

// Logger writes one line per request. Client errors log at warn and server
// errors at error; the actor's role and hospital are included when known.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			status := c.Response().Status
			evt := logger.Info()
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = 500
				}
				if status < 500 {
					evt = logger.Warn().Err(err)
				} else {
					evt = logger.Error().Err(err)
				}
			}

			rid, _ := c.Get("request_id").(string)
			actor := auth.ActorFromContext(req.Context())
			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())
			if actor.ID != "" {
				evt = evt.Str("actor_id", actor.ID).Str("role", actor.Role())
			}
			if actor.HospitalID != uuid.Nil {
				evt = evt.Str("hospital_id", actor.HospitalID.String())
			}
			evt.Msg("request")

			return err
		}
	}
}
