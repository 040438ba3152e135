package dispatch_reconciler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	runTimeout = 2 * time.Minute
	batchSize  = 100
)

// Resolver confirms sends whose channel dispatch was left unknown
type Resolver interface {
	ResolveDispatches(ctx context.Context, limit int) (int, error)
}

// Worker periodically confirms unknown dispatches against the relayer
type Worker struct {
	resolver Resolver
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger
}

func NewWorker(resolver Resolver, schedule string, logger *zap.Logger) *Worker {
	return &Worker{
		resolver: resolver,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   logger,
	}
}

func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("Failed to reconcile dispatches", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Dispatch reconciler started", zap.String("schedule", w.schedule))
	return nil
}

// RunOnce resolves one batch of unknown dispatches
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	resolved, err := w.resolver.ResolveDispatches(ctx, batchSize)
	if resolved > 0 {
		w.logger.Info("Dispatches confirmed", zap.Int("count", resolved))
	}
	return resolved, err
}

func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Dispatch reconciler stopped")
}
