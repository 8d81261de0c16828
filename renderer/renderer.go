package renderer

import (
	"context"
	"sync"

	"github.com/sat8bit/nexus/bus"
)

// Renderer は、セッションイベントの表示を行うコンポーネントが満たすべきインターフェースです。
type Renderer interface {
	// Render はバスを購読し、ctx が終わるかバスが閉じるまで表示を続けます。
	Render(ctx context.Context, b bus.Bus, wg *sync.WaitGroup) error
}
