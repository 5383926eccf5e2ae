// README: Demand handlers for dispatchers: list, inspect, confirm, cancel.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/types"
)

type DemandService interface {
	Get(ctx context.Context, id types.ID) (*demand.Demand, error)
	List(ctx context.Context, f demand.Filter) ([]demand.Demand, error)
	Confirm(ctx context.Context, cmd demand.StatusCommand) error
	Cancel(ctx context.Context, cmd demand.StatusCommand) error
}

type DemandHandler struct {
	demand DemandService
}

func NewDemandHandler(svc DemandService) *DemandHandler {
	return &DemandHandler{demand: svc}
}

func (h *DemandHandler) List(c *gin.Context) {
	f := demand.Filter{
		Status:   demand.Status(c.Query("status")),
		DriverID: types.ID(c.Query("driver_id")),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	ds, err := h.demand.List(c.Request.Context(), f)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if ds == nil {
		ds = []demand.Demand{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"demands": ds})
}

func (h *DemandHandler) Get(c *gin.Context) {
	d, err := h.demand.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *DemandHandler) Confirm(c *gin.Context) {
	if err := h.demand.Confirm(c.Request.Context(), demand.StatusCommand{DemandID: types.ID(c.Param("id"))}); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": demand.StatusConfirmed})
}

func (h *DemandHandler) Cancel(c *gin.Context) {
	if err := h.demand.Cancel(c.Request.Context(), demand.StatusCommand{DemandID: types.ID(c.Param("id"))}); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": demand.StatusCanceled})
}
