package loopback_delivery

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mbtc-bridge/oft_service/internal/infrastructure/adapters/channel"
)

const runTimeout = time.Minute

// Network delivers queued loopback packets
type Network interface {
	Deliver(ctx context.Context) (int, error)
	Pending() int
}

// ComposeSource yields compose payloads left behind by inbound credits
type ComposeSource interface {
	Drain() []channel.ComposedMessage
}

// Worker drains the loopback network and the compose queues on a schedule
type Worker struct {
	network  Network
	composes []ComposeSource
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger

	// serializes runs
	mu sync.Mutex
}

func NewWorker(network Network, composes []ComposeSource, schedule string, logger *zap.Logger) *Worker {
	return &Worker{
		network:  network,
		composes: composes,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		w.RunOnce(ctx)
	}); err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Loopback delivery worker started", zap.String("schedule", w.schedule))
	return nil
}

// RunOnce delivers pending packets and reports compose payloads. It returns
// the number of packets delivered.
func (w *Worker) RunOnce(ctx context.Context) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	delivered := 0
	if w.network.Pending() > 0 {
		n, err := w.network.Deliver(ctx)
		delivered = n
		if err != nil {
			w.logger.Warn("Loopback delivery completed with errors",
				zap.Int("delivered", n),
				zap.Int("pending", w.network.Pending()),
				zap.Error(err))
		} else {
			w.logger.Info("Loopback packets delivered", zap.Int("delivered", n))
		}
	}

	for _, src := range w.composes {
		for _, msg := range src.Drain() {
			w.logger.Info("Compose message ready",
				zap.String("guid", msg.GUID.Hex()),
				zap.String("to", msg.To.Hex()),
				zap.Uint16("index", msg.Index),
				zap.Int("payload_bytes", len(msg.Payload)))
		}
	}
	return delivered
}

func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Loopback delivery worker stopped")
}
