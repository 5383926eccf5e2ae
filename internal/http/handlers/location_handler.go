// README: Driver position handlers.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tourdispatch/internal/http/middleware"
	"tourdispatch/internal/modules/location"
	"tourdispatch/internal/types"
)

type LocationService interface {
	Update(ctx context.Context, cmd location.UpdateCommand) error
	Clear(ctx context.Context, driverID types.ID) error
	Nearby(ctx context.Context, origin types.Point, radiusKm float64, limit int) ([]location.DriverLocation, error)
}

type LocationHandler struct {
	location LocationService
}

func NewLocationHandler(svc LocationService) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationReq struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	id := c.Param("id")
	// Only the authenticated driver may update their own location.
	if middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return
	}
	if middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	err := h.location.Update(c.Request.Context(), location.UpdateCommand{
		DriverID: types.ID(id),
		Position: types.Point{Lat: *req.Lat, Lng: *req.Lng},
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *LocationHandler) Clear(c *gin.Context) {
	id := c.Param("id")
	if !actingFor(c, id) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	if err := h.location.Clear(c.Request.Context(), types.ID(id)); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LocationHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := 5.0
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return
		}
		radius = r
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	drivers, err := h.location.Nearby(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius, limit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if drivers == nil {
		drivers = []location.DriverLocation{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": drivers})
}
