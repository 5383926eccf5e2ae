// README: Wire format of the external demand feed and its mapping onto ingest commands.
package feed

import (
	"strings"
	"time"

	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/types"
)

// Record is one pending collection as published by the upstream feed.
type Record struct {
	ExternalID   string     `json:"id"`
	SiteID       string     `json:"site_id"`
	SiteName     string     `json:"site_name"`
	ContactPhone string     `json:"contact_phone"`
	Address      string     `json:"address"`
	Lat          *float64   `json:"lat"`
	Lng          *float64   `json:"lng"`
	Quantity     float64    `json:"quantity"`
	RequestedAt  time.Time  `json:"requested_at"`
	DeadlineAt   *time.Time `json:"deadline_at"`
	Notes        string     `json:"notes"`
}

type page struct {
	Records []Record `json:"records"`
}

func (r Record) position() *types.Point {
	if r.Lat == nil || r.Lng == nil {
		return nil
	}
	return &types.Point{Lat: *r.Lat, Lng: *r.Lng}
}

func (r Record) command() demand.IngestCommand {
	return demand.IngestCommand{
		ExternalID:   strings.TrimSpace(r.ExternalID),
		SiteID:       strings.TrimSpace(r.SiteID),
		SiteName:     strings.TrimSpace(r.SiteName),
		ContactPhone: strings.TrimSpace(r.ContactPhone),
		Address:      strings.TrimSpace(r.Address),
		Position:     r.position(),
		Quantity:     r.Quantity,
		RequestedAt:  r.RequestedAt,
		DeadlineAt:   r.DeadlineAt,
		Notes:        r.Notes,
	}
}
