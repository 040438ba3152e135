package graceful

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// ShutdownFunc releases one component
type ShutdownFunc func(ctx context.Context) error

type component struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager runs the HTTP server until SIGINT/SIGTERM or the parent
// context ends, then stops the server and the registered components in
// registration order.
type ShutdownManager struct {
	server     *http.Server
	components []component
	timeout    time.Duration
	logger     *logger.Logger
}

func NewShutdownManager(server *http.Server, logger *logger.Logger) *ShutdownManager {
	return &ShutdownManager{
		server:  server,
		timeout: defaultTimeout,
		logger:  logger,
	}
}

// SetTimeout bounds the whole shutdown sequence
func (sm *ShutdownManager) SetTimeout(d time.Duration) {
	if d > 0 {
		sm.timeout = d
	}
}

func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.components = append(sm.components, component{name: name, fn: fn})
}

// Run serves until a signal arrives and returns after shutdown completes
func (sm *ShutdownManager) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sm.logger.Info("Server listening", "addr", sm.server.Addr)
		if err := sm.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return sm.Shutdown()
	})
	return g.Wait()
}

// Shutdown stops the server and every registered component
func (sm *ShutdownManager) Shutdown() error {
	sm.logger.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	if err := sm.server.Shutdown(ctx); err != nil {
		sm.logger.Error("Server forced shutdown", "error", err)
		errs = append(errs, err)
	}

	for _, c := range sm.components {
		if err := c.fn(ctx); err != nil {
			sm.logger.Warn("Component shutdown error", "component", c.name, "error", err)
			errs = append(errs, err)
		}
	}

	sm.logger.Info("Shutdown complete")
	return errors.Join(errs...)
}
