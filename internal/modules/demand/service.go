// README: Demand service implements ingest, scoring and operator status changes.
package demand

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tourdispatch/internal/types"
)

var (
	ErrInvalidState = errors.New("invalid demand state transition")
	ErrNotFound     = errors.New("demand not found")
	ErrConflict     = errors.New("demand state conflict")
	ErrBadRequest   = errors.New("bad request")
)

type MaintenanceConfig struct {
	IntervalSeconds int
	RetentionDays   int
	ExpireGraceDays int
}

type Service struct {
	store  *Store
	scorer *Scorer
	cfg    MaintenanceConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewService(store *Store, scorer *Scorer, cfg MaintenanceConfig, log *zap.Logger) *Service {
	if scorer == nil {
		scorer = NewScorer(DefaultWeights())
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, scorer: scorer, cfg: cfg, log: log, now: time.Now}
}

type IngestCommand struct {
	ExternalID   string
	SiteID       string
	SiteName     string
	ContactPhone string
	Address      string
	Position     *types.Point
	Quantity     float64
	RequestedAt  time.Time
	DeadlineAt   *time.Time
	Notes        string
}

type IngestResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Invalid int `json:"invalid"`
}

type StatusCommand struct {
	DemandID types.ID
}

func (cmd IngestCommand) validate() error {
	if cmd.ExternalID == "" || cmd.SiteID == "" {
		return ErrBadRequest
	}
	if cmd.Quantity < 0 {
		return ErrBadRequest
	}
	if cmd.Position != nil && !cmd.Position.Valid() {
		return ErrBadRequest
	}
	return nil
}

// Ingest upserts feed records by external id and scores each as of now.
func (s *Service) Ingest(ctx context.Context, cmds []IngestCommand) (IngestResult, error) {
	var res IngestResult
	now := s.now()
	for _, cmd := range cmds {
		if err := cmd.validate(); err != nil {
			s.log.Warn("rejecting demand record", zap.String("external_id", cmd.ExternalID), zap.Error(err))
			res.Invalid++
			continue
		}
		requestedAt := cmd.RequestedAt
		if requestedAt.IsZero() {
			requestedAt = now
		}
		d := &Demand{
			ID:           types.NewID(),
			ExternalID:   cmd.ExternalID,
			SiteID:       cmd.SiteID,
			SiteName:     cmd.SiteName,
			ContactPhone: cmd.ContactPhone,
			Address:      cmd.Address,
			Position:     cmd.Position,
			Quantity:     cmd.Quantity,
			RequestedAt:  requestedAt,
			DeadlineAt:   cmd.DeadlineAt,
			Status:       StatusNew,
			Notes:        cmd.Notes,
			UpdatedAt:    now,
		}
		d.Priority = s.scorer.Score(*d, now)

		r, err := s.store.Upsert(ctx, d)
		if err != nil {
			return res, err
		}
		if r == UpsertUpdated && !d.RequestedAt.Equal(requestedAt) {
			if p := s.scorer.Score(*d, now); p != d.Priority {
				if err := s.store.UpdatePriorities(ctx, map[types.ID]int{d.ID: p}); err != nil {
					return res, err
				}
			}
		}
		switch r {
		case UpsertCreated:
			res.Created++
		case UpsertUpdated:
			res.Updated++
		default:
			res.Skipped++
		}
	}
	return res, nil
}

// Rescore recomputes priorities of every demand that can still enter a tour.
func (s *Service) Rescore(ctx context.Context, asOf time.Time) (int, error) {
	ds, err := s.store.Scorable(ctx)
	if err != nil {
		return 0, err
	}
	scores := make(map[types.ID]int, len(ds))
	for _, d := range ds {
		if p := s.scorer.Score(d, asOf); p != d.Priority {
			scores[d.ID] = p
		}
	}
	if err := s.store.UpdatePriorities(ctx, scores); err != nil {
		return 0, err
	}
	return len(scores), nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Demand, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Demand, error) {
	return s.store.List(ctx, f)
}

// Eligible is the pool snapshot used to build tours. Rows whose status and
// assignment disagree are logged and left out.
func (s *Service) Eligible(ctx context.Context, limit int) ([]Demand, error) {
	ds, err := s.store.Eligible(ctx, limit)
	if err != nil {
		return nil, err
	}
	pool := ds[:0]
	for _, d := range ds {
		if !d.Consistent() {
			s.log.Error("inconsistent demand row", zap.String("demand_id", string(d.ID)), zap.String("status", string(d.Status)))
			continue
		}
		if d.Eligible() {
			pool = append(pool, d)
		}
	}
	return pool, nil
}

func (s *Service) Confirm(ctx context.Context, cmd StatusCommand) error {
	return s.transition(ctx, cmd.DemandID, StatusConfirmed)
}

func (s *Service) Cancel(ctx context.Context, cmd StatusCommand) error {
	return s.transition(ctx, cmd.DemandID, StatusCanceled)
}

func (s *Service) transition(ctx context.Context, id types.ID, to Status) error {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Assignment != nil || !CanTransition(d.Status, to) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, d.ID, d.Status, to, d.StatusVersion)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// RunMaintenanceTicker rescores, expires and purges demands on a fixed interval.
func (s *Service) RunMaintenanceTicker(ctx context.Context) {
	interval := time.Duration(s.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Maintain(ctx)
		}
	}
}

func (s *Service) Maintain(ctx context.Context) {
	now := s.now()
	if n, err := s.Rescore(ctx, now); err != nil {
		s.log.Error("rescore failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("rescored demands", zap.Int("changed", n))
	}

	grace := time.Duration(s.cfg.ExpireGraceDays) * 24 * time.Hour
	if n, err := s.store.ExpireOverdue(ctx, now.Add(-grace)); err != nil {
		s.log.Error("expire failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("expired overdue demands", zap.Int64("count", n))
	}

	if s.cfg.RetentionDays > 0 {
		cutoff := now.Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if n, err := s.store.PurgeTerminal(ctx, cutoff); err != nil {
			s.log.Error("purge failed", zap.Error(err))
		} else if n > 0 {
			s.log.Info("purged terminal demands", zap.Int64("count", n))
		}
	}
}
