// README: Tour handlers: request, query, start, cancel and per-stop actions.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tourdispatch/internal/http/middleware"
	"tourdispatch/internal/modules/tour"
	"tourdispatch/internal/types"
)

type TourService interface {
	RequestTour(ctx context.Context, cmd tour.RequestCommand) (tour.RequestResult, error)
	Get(ctx context.Context, id types.ID) (*tour.Tour, error)
	Active(ctx context.Context, driverID types.ID, date time.Time) (*tour.Tour, error)
	ListByDate(ctx context.Context, date time.Time) ([]tour.Tour, error)
	StartTour(ctx context.Context, cmd tour.StartCommand) (*tour.Tour, error)
	ArriveStop(ctx context.Context, cmd tour.StopCommand) (*tour.Tour, error)
	CompleteStop(ctx context.Context, cmd tour.StopCommand) (*tour.Tour, error)
	PartialStop(ctx context.Context, cmd tour.StopCommand) (*tour.Tour, error)
	NotReadyStop(ctx context.Context, cmd tour.StopCommand) (*tour.Tour, error)
	ReleaseStop(ctx context.Context, cmd tour.ReleaseCommand) (*tour.Tour, error)
	CancelTour(ctx context.Context, cmd tour.CancelCommand) (*tour.Tour, error)
}

type TourHandler struct {
	tour TourService
}

func NewTourHandler(svc TourService) *TourHandler {
	return &TourHandler{tour: svc}
}

type requestTourReq struct {
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
	Date string   `json:"date"`
}

func (h *TourHandler) Request(c *gin.Context) {
	driverID := c.Param("id")
	if !actingFor(c, driverID) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	var req requestTourReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if (req.Lat == nil) != (req.Lng == nil) {
		writeError(c, http.StatusBadRequest, "lat and lng must be sent together")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	cmd := tour.RequestCommand{DriverID: types.ID(driverID), Date: date}
	if req.Lat != nil {
		cmd.Position = &types.Point{Lat: *req.Lat, Lng: *req.Lng}
	}

	res, err := h.tour.RequestTour(c.Request.Context(), cmd)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	status := http.StatusOK
	if res.Tour != nil && !res.Reused {
		status = http.StatusCreated
	}
	writeJSON(c, status, res)
}

func (h *TourHandler) Active(c *gin.Context) {
	driverID := c.Param("id")
	if !actingFor(c, driverID) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	date, err := parseDate(c.Query("date"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	t, err := h.tour.Active(c.Request.Context(), types.ID(driverID), date)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *TourHandler) Get(c *gin.Context) {
	t, ok := h.ownedTour(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *TourHandler) List(c *gin.Context) {
	date, err := parseDate(c.Query("date"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	tours, err := h.tour.ListByDate(c.Request.Context(), date)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if tours == nil {
		tours = []tour.Tour{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"tours": tours})
}

func (h *TourHandler) Start(c *gin.Context) {
	t, ok := h.ownedTour(c)
	if !ok {
		return
	}
	t, err := h.tour.StartTour(c.Request.Context(), tour.StartCommand{TourID: t.ID, ActorID: callerID(c)})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (h *TourHandler) Cancel(c *gin.Context) {
	t, ok := h.ownedTour(c)
	if !ok {
		return
	}
	var req reasonReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	t, err := h.tour.CancelTour(c.Request.Context(), tour.CancelCommand{
		TourID:    t.ID,
		ActorType: actorType(c),
		ActorID:   callerID(c),
		Reason:    req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

type stopActionReq struct {
	ActualQuantity *float64 `json:"actual_quantity"`
	Notes          string   `json:"notes"`
}

type stopAction func(ctx context.Context, cmd tour.StopCommand) (*tour.Tour, error)

func (h *TourHandler) Arrive(c *gin.Context)   { h.stopAction(c, h.tour.ArriveStop) }
func (h *TourHandler) Complete(c *gin.Context) { h.stopAction(c, h.tour.CompleteStop) }
func (h *TourHandler) Partial(c *gin.Context)  { h.stopAction(c, h.tour.PartialStop) }
func (h *TourHandler) NotReady(c *gin.Context) { h.stopAction(c, h.tour.NotReadyStop) }

func (h *TourHandler) stopAction(c *gin.Context, action stopAction) {
	t, ok := h.ownedTour(c)
	if !ok {
		return
	}
	var req stopActionReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	t, err := action(c.Request.Context(), tour.StopCommand{
		TourID:         t.ID,
		StopID:         types.ID(c.Param("stopId")),
		ActualQuantity: req.ActualQuantity,
		Notes:          req.Notes,
		ActorID:        callerID(c),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *TourHandler) Release(c *gin.Context) {
	t, ok := h.ownedTour(c)
	if !ok {
		return
	}
	var req reasonReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	t, err := h.tour.ReleaseStop(c.Request.Context(), tour.ReleaseCommand{
		TourID:  t.ID,
		StopID:  types.ID(c.Param("stopId")),
		Reason:  req.Reason,
		ActorID: callerID(c),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

// ownedTour loads the tour in the path and checks a driver caller owns it.
// It writes the error response itself when it returns false.
func (h *TourHandler) ownedTour(c *gin.Context) (*tour.Tour, bool) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing tour id")
		return nil, false
	}
	t, err := h.tour.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return nil, false
	}
	if !middleware.IsStaff(c) && !actingFor(c, string(t.DriverID)) {
		writeError(c, http.StatusForbidden, "forbidden: tour belongs to another driver")
		return nil, false
	}
	return t, true
}
