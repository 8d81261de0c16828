package bus

import (
	"github.com/sat8bit/nexus/message"
)

// Bus はセッションイベントの送受信責務を持つ
type Bus interface {
	Broadcast(m *message.Message) error
	Subscribe() <-chan *message.Message
	// Unsubscribe は Subscribe で得たチャネルの購読をやめ、チャネルを閉じます。
	Unsubscribe(ch <-chan *message.Message)
	Close()
}
