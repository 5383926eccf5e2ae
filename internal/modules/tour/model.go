// README: Tour aggregate, stop child entities and the status machine that couples them.
package tour

import (
	"time"

	"tourdispatch/internal/types"
)

type Status string

const (
	StatusNone       Status = "NONE"
	StatusPlanned    Status = "PLANNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
)

type StopStatus string

const (
	StopScheduled  StopStatus = "SCHEDULED"
	StopInProgress StopStatus = "IN_PROGRESS"
	StopCompleted  StopStatus = "COMPLETED"
	StopPartial    StopStatus = "PARTIAL"
	StopNotReady   StopStatus = "NOT_READY"
)

type Tour struct {
	ID                types.ID    `json:"id"`
	DriverID          types.ID    `json:"driver_id"`
	Date              time.Time   `json:"date"`
	Status            Status      `json:"status"`
	StatusVersion     int         `json:"status_version"`
	VehicleCapacity   float64     `json:"vehicle_capacity"`
	TotalDistanceKm   float64     `json:"total_distance_km"`
	RemainingCapacity float64     `json:"remaining_capacity"`
	StartPosition     types.Point `json:"start_position"`
	Stops             []Stop      `json:"stops"`
	CreatedAt         time.Time   `json:"created_at"`
	StartedAt         *time.Time  `json:"started_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	CanceledAt        *time.Time  `json:"canceled_at,omitempty"`
}

type Stop struct {
	ID                 types.ID    `json:"id"`
	TourID             types.ID    `json:"tour_id"`
	DemandID           types.ID    `json:"demand_id"`
	Order              int         `json:"order"`
	PlannedQuantity    float64     `json:"planned_quantity"`
	ActualQuantity     *float64    `json:"actual_quantity,omitempty"`
	Status             StopStatus  `json:"status"`
	DistanceFromPrevKm float64     `json:"distance_from_prev_km"`
	Position           types.Point `json:"position"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	Notes              string      `json:"notes,omitempty"`
}

type Event struct {
	ID         int64
	TourID     types.ID
	StopID     *types.ID
	FromStatus string
	ToStatus   string
	ActorType  string
	ActorID    *types.ID
	Note       string
	CreatedAt  time.Time
}

// AllowedTransitions represents the tour state flow as code. PLANNED may
// complete directly when every stop is actioned before an explicit start.
var AllowedTransitions = map[Status][]Status{
	StatusPlanned:    {StatusInProgress, StatusCompleted, StatusCanceled},
	StatusInProgress: {StatusCompleted, StatusCanceled},
}

var AllowedStopTransitions = map[StopStatus][]StopStatus{
	StopScheduled:  {StopInProgress, StopCompleted, StopPartial, StopNotReady},
	StopInProgress: {StopCompleted, StopPartial, StopNotReady},
}

func CanTransition(from, to Status) bool {
	return contains(AllowedTransitions[from], to)
}

func CanTransitionStop(from, to StopStatus) bool {
	return contains(AllowedStopTransitions[from], to)
}

func contains[T comparable](list []T, v T) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (s StopStatus) Terminal() bool {
	return s == StopCompleted || s == StopPartial || s == StopNotReady
}

func (s Status) Active() bool {
	return s == StatusPlanned || s == StatusInProgress
}

// DeriveStatus is the tour status implied by its stops once any stop has been actioned.
func DeriveStatus(stops []Stop) Status {
	for _, st := range stops {
		if !st.Status.Terminal() {
			return StatusInProgress
		}
	}
	return StatusCompleted
}

// DateOf normalises t to the calendar day it falls on, as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (t *Tour) stopIndex(id types.ID) int {
	for i := range t.Stops {
		if t.Stops[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Tour) Stop(id types.ID) (*Stop, bool) {
	i := t.stopIndex(id)
	if i < 0 {
		return nil, false
	}
	return &t.Stops[i], true
}

// StopChange is a requested stop transition.
type StopChange struct {
	StopID         types.ID
	To             StopStatus
	ActualQuantity *float64
	Notes          string
}

// StopOutcome describes what ApplyStop changed.
type StopOutcome struct {
	Stop           Stop
	FromStopStatus StopStatus
	FromStatus     Status
	ToStatus       Status
}

// ApplyStop validates and applies a stop transition to t in memory, then
// re-derives the tour status. Nothing is modified when an error is returned.
func (t *Tour) ApplyStop(c StopChange, now time.Time) (StopOutcome, error) {
	if !t.Status.Active() {
		return StopOutcome{}, ErrInvalidState
	}
	i := t.stopIndex(c.StopID)
	if i < 0 {
		return StopOutcome{}, ErrNotFound
	}
	st := t.Stops[i]
	if !CanTransitionStop(st.Status, c.To) {
		return StopOutcome{}, ErrInvalidState
	}

	switch c.To {
	case StopCompleted:
		actual := st.PlannedQuantity
		if c.ActualQuantity != nil {
			actual = *c.ActualQuantity
		}
		if actual < 0 {
			return StopOutcome{}, ErrBadRequest
		}
		st.ActualQuantity = &actual
	case StopPartial:
		if c.ActualQuantity == nil || *c.ActualQuantity < 0 {
			return StopOutcome{}, ErrBadRequest
		}
		actual := *c.ActualQuantity
		st.ActualQuantity = &actual
	}

	out := StopOutcome{FromStopStatus: st.Status, FromStatus: t.Status}
	st.Status = c.To
	if c.To.Terminal() {
		ts := now
		st.CompletedAt = &ts
	}
	if c.Notes != "" {
		st.Notes = c.Notes
	}
	t.Stops[i] = st

	t.Status = DeriveStatus(t.Stops)
	if t.StartedAt == nil {
		ts := now
		t.StartedAt = &ts
	}
	if t.Status == StatusCompleted && t.CompletedAt == nil {
		ts := now
		t.CompletedAt = &ts
	}
	out.Stop = st
	out.ToStatus = t.Status
	return out, nil
}

// NonTerminalDemands lists demands still held by stops that were never actioned to an end state.
func (t *Tour) NonTerminalDemands() []types.ID {
	var ids []types.ID
	for _, st := range t.Stops {
		if !st.Status.Terminal() {
			ids = append(ids, st.DemandID)
		}
	}
	return ids
}
