package bus

import (
	"errors"
	"sync"

	"github.com/sat8bit/nexus/message"
)

var ErrClosed = errors.New("bus is closed")

// MemoryBus は bus.Bus のインメモリ実装です。
// 受信が追いつかない購読者へのメッセージはドロップします。
type MemoryBus struct {
	subscribers []chan *message.Message
	mu          sync.RWMutex
	isClosed    bool
	buffer      int
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{buffer: 64}
}

func (b *MemoryBus) Broadcast(m *message.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isClosed {
		return ErrClosed
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- m:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe() <-chan *message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *message.Message, b.buffer)
	if b.isClosed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *MemoryBus) Unsubscribe(sub <-chan *message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, ch := range b.subscribers {
		if ch == sub {
			close(ch)
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Close はバスを閉じ、すべての購読者チャネルをクローズします。
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isClosed {
		b.isClosed = true
		for _, ch := range b.subscribers {
			close(ch)
		}
		b.subscribers = nil
	}
}

var _ Bus = (*MemoryBus)(nil)
