// README: Feed sync: fetch upstream records, fill missing coordinates, ingest into the demand pool.
package feed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tourdispatch/internal/metrics"
	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/types"
)

type Ingester interface {
	Ingest(ctx context.Context, cmds []demand.IngestCommand) (demand.IngestResult, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

type Service struct {
	source   Source
	ingester Ingester
	geocoder Geocoder
	interval time.Duration
	log      *zap.Logger
}

// NewService wires a sync service. geocoder may be nil.
func NewService(source Source, ingester Ingester, geocoder Geocoder, interval time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{source: source, ingester: ingester, geocoder: geocoder, interval: interval, log: log}
}

type SyncResult struct {
	Fetched  int `json:"fetched"`
	Geocoded int `json:"geocoded"`
	demand.IngestResult
}

// Sync runs one fetch and ingest pass.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	records, err := s.source.Fetch(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch feed: %w", err)
	}
	res := SyncResult{Fetched: len(records)}

	cmds := make([]demand.IngestCommand, 0, len(records))
	for _, r := range records {
		cmd := r.command()
		if cmd.Position == nil && cmd.Address != "" && s.geocoder != nil {
			p, err := s.geocoder.Geocode(ctx, cmd.Address)
			if err != nil {
				s.log.Warn("geocoding failed", zap.String("external_id", cmd.ExternalID), zap.Error(err))
			} else {
				cmd.Position = &p
				res.Geocoded++
			}
		}
		cmds = append(cmds, cmd)
	}

	ir, err := s.ingester.Ingest(ctx, cmds)
	res.IngestResult = ir
	metrics.FeedRecords.WithLabelValues("created").Add(float64(ir.Created))
	metrics.FeedRecords.WithLabelValues("updated").Add(float64(ir.Updated))
	metrics.FeedRecords.WithLabelValues("skipped").Add(float64(ir.Skipped))
	metrics.FeedRecords.WithLabelValues("invalid").Add(float64(ir.Invalid))
	if err != nil {
		return res, fmt.Errorf("ingest feed: %w", err)
	}

	s.log.Info("feed synced",
		zap.Int("fetched", res.Fetched),
		zap.Int("created", ir.Created),
		zap.Int("updated", ir.Updated),
		zap.Int("skipped", ir.Skipped),
		zap.Int("invalid", ir.Invalid),
	)
	return res, nil
}

// RunSyncTicker syncs immediately and then on every interval until ctx ends.
func (s *Service) RunSyncTicker(ctx context.Context) {
	interval := s.interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s.syncOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *Service) syncOnce(ctx context.Context) {
	if _, err := s.Sync(ctx); err != nil {
		s.log.Error("feed sync failed", zap.Error(err))
	}
}
