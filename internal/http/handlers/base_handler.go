// README: Base handler utilities (JSON helpers, error mapping, caller checks).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tourdispatch/internal/http/middleware"
	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/modules/fleet"
	"tourdispatch/internal/modules/location"
	"tourdispatch/internal/modules/tour"
	"tourdispatch/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeDomainError maps module sentinels onto HTTP statuses. Anything
// unrecognised is a storage or upstream failure.
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tour.ErrBadRequest), errors.Is(err, demand.ErrBadRequest),
		errors.Is(err, fleet.ErrBadRequest), errors.Is(err, location.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, tour.ErrNotFound), errors.Is(err, demand.ErrNotFound),
		errors.Is(err, fleet.ErrNotFound), errors.Is(err, location.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, tour.ErrInvalidState), errors.Is(err, tour.ErrConflict), errors.Is(err, tour.ErrDriverInactive),
		errors.Is(err, demand.ErrInvalidState), errors.Is(err, demand.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, errForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusServiceUnavailable, "service unavailable")
	}
}

var errForbidden = errors.New("forbidden")

// actingFor checks that the caller may act for driverID: the driver
// themselves, or staff.
func actingFor(c *gin.Context, driverID string) bool {
	if middleware.IsStaff(c) {
		return true
	}
	return middleware.CallerRole(c) == middleware.RoleDriver && middleware.CallerUID(c) == driverID
}

// actorType is recorded in the audit trail.
func actorType(c *gin.Context) string {
	if role := middleware.CallerRole(c); role != "" {
		return role
	}
	return "unknown"
}

func callerID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

// parseDate accepts YYYY-MM-DD; empty means "unset".
func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, v)
}
