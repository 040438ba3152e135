package graceful

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

func TestRun_StopsComponentsInOrder(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	sm := NewShutdownManager(srv, logger.NewNop())

	var order []string
	sm.Register("workers", func(context.Context) error { order = append(order, "workers"); return nil })
	sm.Register("storage", func(context.Context) error { order = append(order, "storage"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	assert.Equal(t, []string{"workers", "storage"}, order)
}

func TestShutdown_JoinsComponentErrors(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(srv, logger.NewNop())
	sm.SetTimeout(time.Second)

	boom := errors.New("close failed")
	sm.Register("redis", func(context.Context) error { return boom })

	err := sm.Shutdown()
	assert.ErrorIs(t, err, boom)
}
