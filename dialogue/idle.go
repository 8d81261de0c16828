package dialogue

import (
	"context"
	"strings"

	"github.com/sat8bit/nexus/message"
)

func (o *Orchestrator) onIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), idleTimeout)
	defer cancel()
	o.IdlePing(ctx)
}

// IdlePing は無操作が続いたときにキャラクターから話しかけます。
// チャット画面が前面にない、ターンが進行中、生成中に会話が進んだ、のいずれかなら何もしません。
// 追加したら true を返します。
func (o *Orchestrator) IdlePing(ctx context.Context) bool {
	o.mu.Lock()
	if o.closed || o.view != ViewChat || o.turns.InFlight() {
		o.mu.Unlock()
		return false
	}
	gctx := idlePrompt(o.ch, o.st)
	gctx.History = append([]message.Chat(nil), o.st.ChatHistory...)
	n, epoch := len(o.st.ChatHistory), o.epoch
	o.mu.Unlock()

	text, err := o.gw.SynthesizeText(ctx, gctx)
	if err != nil {
		o.log.WarnContext(ctx, "idle ping failed", "error", err)
		return false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	o.mu.Lock()
	if o.closed || o.epoch != epoch || len(o.st.ChatHistory) != n || o.turns.InFlight() || o.view != ViewChat {
		o.mu.Unlock()
		return false
	}
	msg := message.Chat{Role: message.RoleModel, Text: text, Emotion: message.EmotionNeutral}
	o.st.AppendChat(msg)
	tts := o.st.TTSEnabled
	voice := o.ch.VoicePrompt
	o.mu.Unlock()

	o.publish(&message.Message{Kind: message.KindChat, Chat: &msg, Meta: map[string]string{"idle": "true"}})
	if tts {
		o.speak(ctx, text, voice)
	}
	return true
}

// SetView は表示中の画面を切り替えます。無操作タイマーはここでもリセットされます。
func (o *Orchestrator) SetView(v View) {
	o.mu.Lock()
	o.view = v
	o.mu.Unlock()
	o.idle.SetForeground(v == ViewChat)
}

func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.view
}
