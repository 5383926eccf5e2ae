// README: Tour service coordinates demand assignment and drives the tour/stop state machine.
package tour

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tourdispatch/internal/metrics"
	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/modules/fleet"
	"tourdispatch/internal/types"
)

var (
	ErrInvalidState   = errors.New("invalid tour state transition")
	ErrNotFound       = errors.New("tour not found")
	ErrConflict       = errors.New("tour state conflict")
	ErrBadRequest     = errors.New("bad request")
	ErrDriverInactive = errors.New("driver is inactive")

	// ErrNoStops is returned by the repository when every planned demand was claimed elsewhere.
	ErrNoStops = errors.New("no planned stop could be claimed")
	// ErrActiveTourExists is returned by the repository when another request created the driver's tour first.
	ErrActiveTourExists = errors.New("driver already has an active tour for the date")
)

const maxConflictRetries = 3

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonLimitReached     Reason = "limit_reached"
	ReasonNoEligibleDemand Reason = "no_eligible_demand"
)

// Draft is a built plan ready to be committed for one driver and day.
type Draft struct {
	TourID   types.ID
	DriverID types.ID
	Date     time.Time
	Start    types.Point
	Plan     Plan
	Now      time.Time
}

type Repository interface {
	Get(ctx context.Context, id types.ID) (*Tour, error)
	Active(ctx context.Context, driverID types.ID, date time.Time) (*Tour, error)
	CountForDay(ctx context.Context, driverID types.ID, date time.Time) (int, error)
	ListByDate(ctx context.Context, date time.Time) ([]Tour, error)
	// CreateWithClaims inserts the tour and its stops and assigns every
	// demand in one transaction. Demands claimed elsewhere are dropped.
	CreateWithClaims(ctx context.Context, d Draft) (*Tour, error)
	UpdateStatus(ctx context.Context, t *Tour, from Status, version int, e *Event) (bool, error)
	SaveStopTransition(ctx context.Context, t *Tour, version int, out StopOutcome, e *Event) error
	Cancel(ctx context.Context, t *Tour, from Status, version int, release []types.ID, e *Event) (bool, error)
}

type DemandPool interface {
	Eligible(ctx context.Context, limit int) ([]demand.Demand, error)
}

type Fleet interface {
	Driver(ctx context.Context, id types.ID) (*fleet.Driver, error)
}

type Positions interface {
	LastKnown(ctx context.Context, driverID types.ID) (types.Point, bool, error)
}

type Notifier interface {
	TourCanceled(ctx context.Context, driver *fleet.Driver, t *Tour, reason string) error
}

type Config struct {
	PoolLimit int
	Build     BuildConfig
	LockTTL   time.Duration
	Location  *time.Location
}

type Service struct {
	repo      Repository
	pool      DemandPool
	fleet     Fleet
	positions Positions
	locker    Locker
	notifier  Notifier
	builder   *Builder
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Repo      Repository
	Pool      DemandPool
	Fleet     Fleet
	Positions Positions
	Locker    Locker
	Notifier  Notifier
	Log       *zap.Logger
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.PoolLimit <= 0 {
		cfg.PoolLimit = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:      deps.Repo,
		pool:      deps.Pool,
		fleet:     deps.Fleet,
		positions: deps.Positions,
		locker:    deps.Locker,
		notifier:  deps.Notifier,
		builder:   NewBuilder(cfg.Build),
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

type RequestCommand struct {
	DriverID types.ID
	Position *types.Point
	// Date defaults to today in the service's time zone.
	Date time.Time
}

type RequestResult struct {
	Reused bool   `json:"reused"`
	Tour   *Tour  `json:"tour,omitempty"`
	Reason Reason `json:"reason,omitempty"`
}

type StartCommand struct {
	TourID  types.ID
	ActorID types.ID
}

type StopCommand struct {
	TourID         types.ID
	StopID         types.ID
	ActualQuantity *float64
	Notes          string
	ActorID        types.ID
}

type ReleaseCommand struct {
	TourID  types.ID
	StopID  types.ID
	Reason  string
	ActorID types.ID
}

type CancelCommand struct {
	TourID    types.ID
	ActorType string
	ActorID   types.ID
	Reason    string
}

// RequestTour returns the driver's active tour for the day, or builds and
// commits a new one from the eligible pool. Empty outcomes carry a Reason.
func (s *Service) RequestTour(ctx context.Context, cmd RequestCommand) (res RequestResult, err error) {
	started := s.now()
	defer func() {
		metrics.ObserveTourRequest(outcomeLabel(res, err), time.Since(started))
	}()

	if cmd.DriverID == "" {
		return RequestResult{}, ErrBadRequest
	}
	if cmd.Position != nil && !cmd.Position.Valid() {
		return RequestResult{}, ErrBadRequest
	}
	date := cmd.Date
	if date.IsZero() {
		date = s.now().In(s.cfg.Location)
	}
	date = DateOf(date)

	driver, err := s.fleet.Driver(ctx, cmd.DriverID)
	if errors.Is(err, fleet.ErrNotFound) {
		return RequestResult{}, fmt.Errorf("%w: driver %s", ErrNotFound, cmd.DriverID)
	}
	if err != nil {
		return RequestResult{}, err
	}
	if !driver.Active {
		return RequestResult{}, ErrDriverInactive
	}

	release := s.lock(ctx, fmt.Sprintf("dispatch:lock:request:%s:%s", driver.ID, date.Format(time.DateOnly)))
	defer release()

	active, err := s.repo.Active(ctx, driver.ID, date)
	switch {
	case err == nil:
		return RequestResult{Reused: true, Tour: active}, nil
	case !errors.Is(err, ErrNotFound):
		return RequestResult{}, err
	}

	count, err := s.repo.CountForDay(ctx, driver.ID, date)
	if err != nil {
		return RequestResult{}, err
	}
	if count >= driver.MaxDailyTours {
		return RequestResult{Reason: ReasonLimitReached}, nil
	}

	start, err := s.startPosition(ctx, cmd, driver)
	if err != nil {
		return RequestResult{}, err
	}

	pool, err := s.pool.Eligible(ctx, s.cfg.PoolLimit)
	if err != nil {
		return RequestResult{}, err
	}

	buildStart := time.Now()
	plan := s.builder.Build(start, driver.VehicleCapacity, driver.MaxStopsPerTour, pool)
	metrics.BuildDuration.Observe(time.Since(buildStart).Seconds())

	if len(plan.Stops) == 0 {
		return RequestResult{Reason: ReasonNoEligibleDemand}, nil
	}

	t, err := s.repo.CreateWithClaims(ctx, Draft{
		TourID:   types.NewID(),
		DriverID: driver.ID,
		Date:     date,
		Start:    start,
		Plan:     plan,
		Now:      s.now(),
	})
	switch {
	case errors.Is(err, ErrNoStops):
		return RequestResult{Reason: ReasonNoEligibleDemand}, nil
	case errors.Is(err, ErrActiveTourExists):
		active, err := s.repo.Active(ctx, driver.ID, date)
		if err != nil {
			return RequestResult{}, err
		}
		return RequestResult{Reused: true, Tour: active}, nil
	case err != nil:
		return RequestResult{}, fmt.Errorf("commit tour: %w", err)
	}

	if dropped := len(plan.Stops) - len(t.Stops); dropped > 0 {
		s.log.Info("dropped contested demands", zap.String("tour_id", string(t.ID)), zap.Int("dropped", dropped))
	}
	s.log.Info("tour planned",
		zap.String("tour_id", string(t.ID)),
		zap.String("driver_id", string(driver.ID)),
		zap.Int("stops", len(t.Stops)),
		zap.Float64("distance_km", t.TotalDistanceKm),
	)
	return RequestResult{Tour: t}, nil
}

// startPosition prefers the request position, then the last reported one, then the home base.
func (s *Service) startPosition(ctx context.Context, cmd RequestCommand, d *fleet.Driver) (types.Point, error) {
	if cmd.Position != nil {
		return *cmd.Position, nil
	}
	if s.positions != nil {
		p, ok, err := s.positions.LastKnown(ctx, d.ID)
		if err != nil {
			s.log.Warn("last known position unavailable", zap.String("driver_id", string(d.ID)), zap.Error(err))
		} else if ok {
			return p, nil
		}
	}
	if d.HomeBase != nil {
		return *d.HomeBase, nil
	}
	return types.Point{}, fmt.Errorf("%w: no position for driver %s", ErrBadRequest, d.ID)
}

// lock serialises tour requests per driver and day. It waits up to the lock
// TTL for a concurrent holder and otherwise proceeds; the database still
// guarantees one active tour.
func (s *Service) lock(ctx context.Context, key string) func() {
	if s.locker == nil {
		return func() {}
	}
	deadline := time.Now().Add(s.cfg.LockTTL)
	for {
		release, ok, err := s.locker.Acquire(ctx, key, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("request lock unavailable", zap.String("key", key), zap.Error(err))
			return func() {}
		}
		if ok {
			return release
		}
		if time.Now().After(deadline) {
			return func() {}
		}
		select {
		case <-ctx.Done():
			return func() {}
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Tour, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Active(ctx context.Context, driverID types.ID, date time.Time) (*Tour, error) {
	if date.IsZero() {
		date = s.now().In(s.cfg.Location)
	}
	return s.repo.Active(ctx, driverID, DateOf(date))
}

func (s *Service) ListByDate(ctx context.Context, date time.Time) ([]Tour, error) {
	if date.IsZero() {
		date = s.now().In(s.cfg.Location)
	}
	return s.repo.ListByDate(ctx, DateOf(date))
}

func (s *Service) StartTour(ctx context.Context, cmd StartCommand) (*Tour, error) {
	t, err := s.repo.Get(ctx, cmd.TourID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPlanned {
		return nil, ErrInvalidState
	}
	from, version := t.Status, t.StatusVersion
	now := s.now()
	t.Status = StatusInProgress
	t.StartedAt = &now
	ok, err := s.repo.UpdateStatus(ctx, t, from, version, &Event{
		TourID:     t.ID,
		FromStatus: string(from),
		ToStatus:   string(StatusInProgress),
		ActorType:  "driver",
		ActorID:    optionalID(cmd.ActorID),
		CreatedAt:  now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	t.StatusVersion++
	return t, nil
}

// ArriveStop marks the driver as on site; the stop moves to IN_PROGRESS.
func (s *Service) ArriveStop(ctx context.Context, cmd StopCommand) (*Tour, error) {
	return s.transitionStop(ctx, cmd.TourID, StopChange{StopID: cmd.StopID, To: StopInProgress, Notes: cmd.Notes}, cmd.ActorID)
}

func (s *Service) CompleteStop(ctx context.Context, cmd StopCommand) (*Tour, error) {
	return s.transitionStop(ctx, cmd.TourID, StopChange{
		StopID:         cmd.StopID,
		To:             StopCompleted,
		ActualQuantity: cmd.ActualQuantity,
		Notes:          cmd.Notes,
	}, cmd.ActorID)
}

func (s *Service) PartialStop(ctx context.Context, cmd StopCommand) (*Tour, error) {
	return s.transitionStop(ctx, cmd.TourID, StopChange{
		StopID:         cmd.StopID,
		To:             StopPartial,
		ActualQuantity: cmd.ActualQuantity,
		Notes:          cmd.Notes,
	}, cmd.ActorID)
}

// NotReadyStop closes the stop and hands its demand back to the eligible pool.
func (s *Service) NotReadyStop(ctx context.Context, cmd StopCommand) (*Tour, error) {
	return s.transitionStop(ctx, cmd.TourID, StopChange{StopID: cmd.StopID, To: StopNotReady, Notes: cmd.Notes}, cmd.ActorID)
}

func (s *Service) ReleaseStop(ctx context.Context, cmd ReleaseCommand) (*Tour, error) {
	return s.NotReadyStop(ctx, StopCommand{TourID: cmd.TourID, StopID: cmd.StopID, Notes: cmd.Reason, ActorID: cmd.ActorID})
}

func (s *Service) transitionStop(ctx context.Context, tourID types.ID, change StopChange, actor types.ID) (*Tour, error) {
	if tourID == "" || change.StopID == "" {
		return nil, ErrBadRequest
	}
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		t, err := s.repo.Get(ctx, tourID)
		if err != nil {
			return nil, err
		}
		version := t.StatusVersion
		now := s.now()
		out, err := t.ApplyStop(change, now)
		if err != nil {
			return nil, err
		}
		stopID := out.Stop.ID
		err = s.repo.SaveStopTransition(ctx, t, version, out, &Event{
			TourID:     t.ID,
			StopID:     &stopID,
			FromStatus: string(out.FromStopStatus),
			ToStatus:   string(out.Stop.Status),
			ActorType:  "driver",
			ActorID:    optionalID(actor),
			Note:       change.Notes,
			CreatedAt:  now,
		})
		if errors.Is(err, ErrConflict) {
			s.log.Debug("stop transition conflict, retrying", zap.String("tour_id", string(tourID)), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		t.StatusVersion = version + 1
		metrics.StopTransitions.WithLabelValues(string(out.Stop.Status)).Inc()
		if out.ToStatus == StatusCompleted && out.FromStatus != StatusCompleted {
			s.log.Info("tour completed", zap.String("tour_id", string(t.ID)))
		}
		return t, nil
	}
	return nil, ErrConflict
}

// CancelTour ends an active tour and returns the demands of unfinished stops to CONFIRMED.
func (s *Service) CancelTour(ctx context.Context, cmd CancelCommand) (*Tour, error) {
	t, err := s.repo.Get(ctx, cmd.TourID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, StatusCanceled) {
		return nil, ErrInvalidState
	}
	from, version := t.Status, t.StatusVersion
	now := s.now()
	release := t.NonTerminalDemands()
	t.Status = StatusCanceled
	t.CanceledAt = &now

	actorType := cmd.ActorType
	if actorType == "" {
		actorType = "dispatcher"
	}
	ok, err := s.repo.Cancel(ctx, t, from, version, release, &Event{
		TourID:     t.ID,
		FromStatus: string(from),
		ToStatus:   string(StatusCanceled),
		ActorType:  actorType,
		ActorID:    optionalID(cmd.ActorID),
		Note:       cmd.Reason,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	t.StatusVersion++

	if s.notifier != nil && actorType != "driver" {
		if d, err := s.fleet.Driver(ctx, t.DriverID); err == nil {
			if err := s.notifier.TourCanceled(ctx, d, t, cmd.Reason); err != nil {
				s.log.Warn("cancel notification failed", zap.String("tour_id", string(t.ID)), zap.Error(err))
			}
		}
	}
	return t, nil
}

func optionalID(id types.ID) *types.ID {
	if id == "" {
		return nil
	}
	return &id
}

func outcomeLabel(res RequestResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.Reused:
		return "reused"
	case res.Reason != ReasonNone:
		return string(res.Reason)
	default:
		return "created"
	}
}
