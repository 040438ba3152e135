package ratelimit_metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/database"
	"github.com/mbtc-bridge/oft_service/pkg/metrics"
)

const runTimeout = 30 * time.Second

// StatusSource lists the rate limit state of every configured destination
type StatusSource interface {
	Statuses(ctx context.Context, now time.Time) ([]*entities.RateLimitStatus, error)
}

// Worker publishes rate limit and connection pool gauges on a schedule
type Worker struct {
	limits   StatusSource
	db       *sqlx.DB
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger
	now      func() time.Time
}

// NewWorker creates the worker. db may be nil when storage is in memory.
func NewWorker(limits StatusSource, db *sqlx.DB, schedule string, logger *zap.Logger) *Worker {
	return &Worker{
		limits:   limits,
		db:       db,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("Failed to publish rate limit metrics", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Rate limit metrics worker started", zap.String("schedule", w.schedule))
	return nil
}

// RunOnce reads every rate limit and updates the gauges
func (w *Worker) RunOnce(ctx context.Context) error {
	if w.db != nil {
		database.RecordPoolStats(w.db)
	}

	statuses, err := w.limits.Statuses(ctx, w.now())
	if err != nil {
		return err
	}
	for _, st := range statuses {
		label := metrics.EidLabel(st.DstEid)
		metrics.RateLimitAvailable.WithLabelValues(label).Set(st.Available.Float64())
		metrics.RateLimitInFlight.WithLabelValues(label).Set(st.AmountInFlight.Float64())
	}
	w.logger.Debug("Rate limit metrics published", zap.Int("destinations", len(statuses)))
	return nil
}

func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Rate limit metrics worker stopped")
}
