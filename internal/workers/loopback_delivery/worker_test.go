package loopback_delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/mbtc-bridge/oft_service/internal/infrastructure/adapters/channel"
)

type fakeNetwork struct {
	pending   int
	delivered int
	err       error
	calls     int
}

func (f *fakeNetwork) Pending() int { return f.pending }

func (f *fakeNetwork) Deliver(context.Context) (int, error) {
	f.calls++
	n := f.delivered
	f.pending -= n
	return n, f.err
}

func TestRunOnce_DeliversPendingPackets(t *testing.T) {
	net := &fakeNetwork{pending: 2, delivered: 2}
	w := NewWorker(net, nil, "@every 1s", zap.NewNop())

	assert.Equal(t, 2, w.RunOnce(context.Background()))
	assert.Equal(t, 1, net.calls)
	assert.Equal(t, 0, net.pending)
}

func TestRunOnce_SkipsEmptyNetwork(t *testing.T) {
	net := &fakeNetwork{}
	w := NewWorker(net, nil, "@every 1s", zap.NewNop())

	assert.Equal(t, 0, w.RunOnce(context.Background()))
	assert.Equal(t, 0, net.calls)
}

func TestRunOnce_ReportsPartialFailure(t *testing.T) {
	net := &fakeNetwork{pending: 3, delivered: 1, err: errors.New("receiver paused")}
	w := NewWorker(net, nil, "@every 1s", zap.NewNop())

	assert.Equal(t, 1, w.RunOnce(context.Background()))
	assert.Equal(t, 2, net.pending)
}

func TestRunOnce_DrainsComposeQueues(t *testing.T) {
	q := channel.NewComposeQueue(zap.NewNop())
	err := q.Compose(context.Background(), common.HexToAddress("0x01"), common.HexToHash("0x02"), 0, []byte("hi"))
	assert.NoError(t, err)

	w := NewWorker(&fakeNetwork{}, []ComposeSource{q}, "@every 1s", zap.NewNop())
	w.RunOnce(context.Background())

	assert.Empty(t, q.Drain())
}
