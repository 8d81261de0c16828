package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sat8bit/nexus/message"
	"github.com/sat8bit/nexus/session"
	"github.com/sat8bit/nexus/turn"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// clientFrame はクライアントから届く WebSocket のフレームです。現状は発話のみです。
type clientFrame struct {
	Text string `json:"text"`
}

// handleEvents はセッションのバスを WebSocket にそのまま流します。
// ?diagnostics=1 なら、このセッションのログも KindLog として混ぜます。
// クライアントが {"text": "..."} を送るとターンとして処理します。
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	// ハンドシェイク直後のイベントを取りこぼさないよう、先に購読する
	events := sess.Dialogue.Bus().Subscribe()
	defer sess.Dialogue.Bus().Unsubscribe(events)
	var diag <-chan *message.Message
	if s.diagnostics != nil && r.URL.Query().Get("diagnostics") == "1" {
		ch := s.diagnostics.Subscribe()
		defer s.diagnostics.Unsubscribe(ch)
		diag = ch
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	replies := make(chan *message.Message, 8)
	go s.readFrames(ctx, cancel, conn, sess, replies)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		var msg *message.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-events:
			if !ok {
				return
			}
			msg = m
		case m, ok := <-diag:
			if !ok {
				diag = nil
				continue
			}
			if m.SessionID != sess.ID {
				continue
			}
			msg = m
		case m := <-replies:
			msg = m
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			slog.DebugContext(ctx, "websocket write failed", "session", sess.ID, "error", err)
			return
		}
	}
}

// readFrames はクライアントからのフレームを読み、切断されたら cancel します。
// 書き込みは handleEvents のループだけが行うので、エラー通知は replies に渡します。
func (s *Server) readFrames(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *session.Session, replies chan<- *message.Message) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f clientFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		go func(text string) {
			tctx, tcancel := context.WithTimeout(ctx, generationTimeout)
			defer tcancel()
			_, err := sess.Dialogue.TryHandleTurn(tctx, text)
			if err == nil {
				if err := s.sessions.Save(tctx, sess.ID); err != nil {
					slog.ErrorContext(tctx, "autosave failed", "session", sess.ID, "error", err)
				}
				return
			}
			m := &message.Message{Kind: message.KindError, SessionID: sess.ID, Text: err.Error(), At: s.now()}
			if errors.Is(err, turn.ErrBusy) {
				m.Meta = map[string]string{"code": "busy"}
			}
			select {
			case replies <- m:
			case <-ctx.Done():
			}
		}(f.Text)
	}
}
