package channel

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ComposedMessage is a compose payload waiting for its target
type ComposedMessage struct {
	To      common.Address
	GUID    common.Hash
	Index   uint16
	Payload []byte
}

// ComposeQueue stores compose payloads for later execution by their
// target. It implements oft.Composer.
type ComposeQueue struct {
	mu     sync.Mutex
	queue  []ComposedMessage
	logger *zap.Logger
}

func NewComposeQueue(logger *zap.Logger) *ComposeQueue {
	return &ComposeQueue{logger: logger}
}

func (q *ComposeQueue) Compose(_ context.Context, to common.Address, guid common.Hash, index uint16, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, ComposedMessage{
		To:      to,
		GUID:    guid,
		Index:   index,
		Payload: append([]byte(nil), payload...),
	})
	q.logger.Debug("Compose message queued", zap.String("guid", guid.Hex()), zap.String("to", to.Hex()))
	return nil
}

// Drain returns and clears queued compose messages
func (q *ComposeQueue) Drain() []ComposedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.queue
	q.queue = nil
	return out
}
