package turn

import (
	"context"
	"errors"
)

// ErrBusy は別のターンが進行中のため TryAcquire できなかったことを表します。
var ErrBusy = errors.New("a turn is already in progress")

// Manager は会話のターンを管理します。同時に進行できるターンは 1 つだけです。
type Manager interface {
	Acquire(ctx context.Context) error
	// TryAcquire はブロックせず、進行中のターンがあれば ErrBusy を返します。
	TryAcquire() error
	Release()
	InFlight() bool
}
