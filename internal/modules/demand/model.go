// README: Demand aggregate, status definitions and the stop-to-demand status mirror.
package demand

import (
	"time"

	"tourdispatch/internal/types"
)

type Status string

const (
	StatusNew        Status = "NEW"
	StatusConfirmed  Status = "CONFIRMED"
	StatusScheduled  Status = "SCHEDULED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPartial    Status = "PARTIAL"
	StatusCompleted  Status = "COMPLETED"
	StatusNotReady   Status = "NOT_READY"
	StatusExpired    Status = "EXPIRED"
	StatusCanceled   Status = "CANCELED"
)

// EligibleStatuses are the statuses an unassigned demand may have to enter a tour.
var EligibleStatuses = []Status{StatusNew, StatusConfirmed, StatusNotReady}

// Assignment ties a demand to one driver's tour for one day.
type Assignment struct {
	DriverID types.ID  `json:"driver_id"`
	TourID   types.ID  `json:"tour_id"`
	Date     time.Time `json:"date"`
}

type Demand struct {
	ID            types.ID     `json:"id"`
	ExternalID    string       `json:"external_id"`
	SiteID        string       `json:"site_id"`
	SiteName      string       `json:"site_name"`
	ContactPhone  string       `json:"contact_phone,omitempty"`
	Address       string       `json:"address,omitempty"`
	Position      *types.Point `json:"position,omitempty"`
	Quantity      float64      `json:"quantity"`
	RequestedAt   time.Time    `json:"requested_at"`
	DeadlineAt    *time.Time   `json:"deadline_at,omitempty"`
	Priority      int          `json:"priority"`
	Status        Status       `json:"status"`
	StatusVersion int          `json:"status_version"`
	Assignment    *Assignment  `json:"assignment,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// AllowedTransitions covers operator-driven changes. Tour-driven changes go through StatusForStop.
var AllowedTransitions = map[Status][]Status{
	StatusNew:       {StatusConfirmed, StatusCanceled, StatusExpired},
	StatusConfirmed: {StatusCanceled, StatusExpired},
	StatusNotReady:  {StatusConfirmed, StatusCanceled, StatusExpired},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// StatusForStop maps a stop status onto the status of the demand it consumes.
// The second result reports whether the demand keeps its assignment.
func StatusForStop(stopStatus string) (Status, bool) {
	switch stopStatus {
	case "SCHEDULED":
		return StatusScheduled, true
	case "IN_PROGRESS":
		return StatusInProgress, true
	case "COMPLETED":
		return StatusCompleted, true
	case "PARTIAL":
		return StatusPartial, true
	default:
		return StatusNotReady, false
	}
}

func (d Demand) Eligible() bool {
	if d.Assignment != nil || d.Position == nil || d.Quantity <= 0 {
		return false
	}
	for _, s := range EligibleStatuses {
		if d.Status == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// Consistent reports whether the assignment and status agree: SCHEDULED and
// IN_PROGRESS require an assignment, NEW, CONFIRMED and NOT_READY forbid one.
func (d Demand) Consistent() bool {
	switch d.Status {
	case StatusScheduled, StatusInProgress:
		return d.Assignment != nil
	case StatusNew, StatusConfirmed, StatusNotReady:
		return d.Assignment == nil
	}
	return true
}

type Filter struct {
	Status   Status
	DriverID types.ID
	Limit    int
}
