// README: Fleet handlers: driver profile lookup, admin upsert, device registration.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"tourdispatch/internal/modules/fleet"
	"tourdispatch/internal/types"
)

type FleetService interface {
	Driver(ctx context.Context, id types.ID) (*fleet.Driver, error)
	List(ctx context.Context, activeOnly bool) ([]fleet.Driver, error)
	Upsert(ctx context.Context, d *fleet.Driver) error
	RegisterDevice(ctx context.Context, id types.ID, token string) error
}

type DriverHandler struct {
	fleet FleetService
}

func NewDriverHandler(svc FleetService) *DriverHandler {
	return &DriverHandler{fleet: svc}
}

func (h *DriverHandler) List(c *gin.Context) {
	drivers, err := h.fleet.List(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if drivers == nil {
		drivers = []fleet.Driver{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": drivers})
}

func (h *DriverHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !actingFor(c, id) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	d, err := h.fleet.Driver(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type upsertDriverReq struct {
	Name            string       `json:"name"`
	Active          *bool        `json:"active"`
	VehicleCapacity float64      `json:"vehicle_capacity"`
	MaxStopsPerTour int          `json:"max_stops_per_tour"`
	MaxDailyTours   int          `json:"max_daily_tours"`
	HomeBase        *types.Point `json:"home_base"`
}

func (h *DriverHandler) Upsert(c *gin.Context) {
	var req upsertDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d := &fleet.Driver{
		ID:              types.ID(c.Param("id")),
		Name:            req.Name,
		Active:          req.Active == nil || *req.Active,
		VehicleCapacity: req.VehicleCapacity,
		MaxStopsPerTour: req.MaxStopsPerTour,
		MaxDailyTours:   req.MaxDailyTours,
		HomeBase:        req.HomeBase,
	}
	if err := h.fleet.Upsert(c.Request.Context(), d); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type deviceReq struct {
	Token string `json:"token"`
}

func (h *DriverHandler) RegisterDevice(c *gin.Context) {
	id := c.Param("id")
	if !actingFor(c, id) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	var req deviceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.fleet.RegisterDevice(c.Request.Context(), types.ID(id), req.Token); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
