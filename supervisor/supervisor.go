package supervisor

import (
	"sync"
	"time"

	"github.com/sat8bit/nexus/bus"
	"github.com/sat8bit/nexus/message"
)

// DefaultIdleAfter は無操作とみなすまでの時間です。
const DefaultIdleAfter = 3 * time.Minute

// Supervisor は、セッションの無操作時間を監視し、一定時間が経つと onIdle を呼びます。
// 発火は無操作の期間ごとに1回だけで、次の Touch か SetForeground まで張り直しません。
// フォアグラウンドでないときは発火しません。
type Supervisor struct {
	after  time.Duration
	onIdle func()

	mu         sync.Mutex
	timer      *time.Timer
	seq        uint64
	foreground bool
	stopped    bool
}

func NewSupervisor(after time.Duration, onIdle func()) *Supervisor {
	if after <= 0 {
		after = DefaultIdleAfter
	}
	return &Supervisor{
		after:      after,
		onIdle:     onIdle,
		foreground: true,
	}
}

// Start は、バス上のユーザー発話を操作とみなして監視を開始します。
// 表情の戻りや状態通知などキャラクター側のイベントではリセットしません。
func (s *Supervisor) Start(b bus.Bus) {
	s.Touch()
	if b == nil {
		return
	}
	ch := b.Subscribe()
	go func() {
		for msg := range ch {
			if isUserActivity(msg) {
				s.Touch()
			}
		}
	}()
}

func isUserActivity(m *message.Message) bool {
	return m.Kind == message.KindChat && m.Chat != nil && m.Chat.Role == message.RoleUser
}

// Touch は無操作タイマーをリセットします。
func (s *Supervisor) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked()
}

// SetForeground はチャット画面が前面にあるかどうかを設定し、タイマーをリセットします。
func (s *Supervisor) SetForeground(fg bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foreground = fg
	s.armLocked()
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Supervisor) armLocked() {
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.timer = time.AfterFunc(s.after, func() { s.fire(seq) })
}

func (s *Supervisor) fire(seq uint64) {
	s.mu.Lock()
	if s.stopped || seq != s.seq {
		s.mu.Unlock()
		return
	}
	fg := s.foreground
	s.timer = nil
	s.mu.Unlock()

	if fg && s.onIdle != nil {
		s.onIdle()
	}
}
