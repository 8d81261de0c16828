package turn

import (
	"context"
	"fmt"
)

// MutexManager は turn.Manager の実装です。
// バッファサイズ1のチャネルをセマフォとして使います。
type MutexManager struct {
	turnCh chan struct{}
}

func NewMutexManager() *MutexManager {
	return &MutexManager{
		turnCh: make(chan struct{}, 1),
	}
}

// Acquire はターンを取得します。
// 既に他の誰かがターンを保持している場合、解放されるかコンテキストが終わるまでブロックします。
func (m *MutexManager) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("turn.MutexManager.Acquire: %w", ctx.Err())
	case m.turnCh <- struct{}{}:
		return nil
	}
}

func (m *MutexManager) TryAcquire() error {
	select {
	case m.turnCh <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

// Release は保持しているターンを解放します。保持していなければ何もしません。
func (m *MutexManager) Release() {
	select {
	case <-m.turnCh:
	default:
	}
}

func (m *MutexManager) InFlight() bool {
	return len(m.turnCh) > 0
}

var _ Manager = (*MutexManager)(nil)
