package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/dialogue"
	"github.com/sat8bit/nexus/renderer"
	"github.com/sat8bit/nexus/session"
	"github.com/sat8bit/nexus/voice"
)

func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.catalog)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleImportSession(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBody))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	sess, err := s.sessions.Import(r.Context(), data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sess.Summary(s.now()))
}

// session は URL の sessionID からセッションを引きます。見つからなければレスポンスを書いて nil を返します。
func (s *Server) session(w http.ResponseWriter, r *http.Request) *session.Session {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return nil
	}
	return sess
}

// save は変更後の状態を保存します。失敗してもリクエストは成功扱いにします。
func (s *Server) save(r *http.Request, sess *session.Session) {
	if err := s.sessions.Save(r.Context(), sess.ID); err != nil {
		slog.ErrorContext(r.Context(), "autosave failed", "session", sess.ID, "error", err)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	s.respondJSON(w, http.StatusOK, sess.Dialogue.Status())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	s.respondJSON(w, http.StatusOK, sess.Dialogue.History())
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	img := sess.Dialogue.DisplayedImage()
	if img.Empty() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", img.MIMEType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img.Data)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, sess.ID))
	if err := s.sessions.Export(r.Context(), sess.ID, w); err != nil {
		// ヘッダ送信後なのでログだけ残す
		slog.ErrorContext(r.Context(), "export failed", "session", sess.ID, "error", err)
	}
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	md, err := renderer.Markdown(sess.Dialogue.Name(), sess.Dialogue.History(), s.now())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = io.WriteString(w, md)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.runTurn(w, r, sess, req.Text)
}

func (s *Server) runTurn(w http.ResponseWriter, r *http.Request, sess *session.Session, text string) {
	ctx, cancel := generationContext(r)
	defer cancel()
	res, err := sess.Dialogue.TryHandleTurn(ctx, text)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.save(r, sess)
	s.respondJSON(w, http.StatusOK, res)
}

// handleVoiceTurn は音声をそのままボディで受け取り、文字起こししてからターンを進めます。
func (s *Server) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		s.respondError(w, r, errNoTranscriber)
		return
	}
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	enc, err := voice.ParseEncoding(r.Header.Get("Content-Type"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	audio, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBody))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	text, err := s.transcriber.Transcribe(r.Context(), audio, enc)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.runTurn(w, r, sess, text)
}

func (s *Server) handleStartQuest(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := sess.Dialogue.StartQuest(req.Title); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.save(r, sess)
	s.respondJSON(w, http.StatusOK, sess.Dialogue.Status())
}

func (s *Server) handleUnlockReward(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	ctx, cancel := generationContext(r)
	defer cancel()
	reward, err := sess.Dialogue.UnlockReward(ctx, chi.URLParam(r, "rewardID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.save(r, sess)
	s.respondJSON(w, http.StatusOK, reward)
}

func (s *Server) handleModifyImage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req dialogue.ModifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	ctx, cancel := generationContext(r)
	defer cancel()
	img, err := sess.Dialogue.ModifyImage(ctx, req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.save(r, sess)
	s.respondJSON(w, http.StatusOK, img)
}

func (s *Server) handleToggleApparel(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req struct {
		Item string `json:"item"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	removed := sess.Dialogue.ToggleApparel(req.Item)
	s.save(r, sess)
	s.respondJSON(w, http.StatusOK, map[string][]string{"removedApparel": removed})
}

func (s *Server) handleSetEnvironment(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req struct {
		Environment string `json:"environment"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := sess.Dialogue.SetEnvironment(req.Environment); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.save(r, sess)
	s.respondJSON(w, http.StatusOK, sess.Dialogue.Status())
}

type itemRequest struct {
	ItemID string `json:"itemId"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.itemAction(w, r, (*dialogue.Orchestrator).Buy)
}

func (s *Server) handleUse(w http.ResponseWriter, r *http.Request) {
	s.itemAction(w, r, (*dialogue.Orchestrator).Use)
}

func (s *Server) itemAction(w http.ResponseWriter, r *http.Request, act func(*dialogue.Orchestrator, string) error) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := act(sess.Dialogue, req.ItemID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.save(r, sess)
	s.respondJSON(w, http.StatusOK, sess.Dialogue.Status())
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	name := sess.Dialogue.Rename(req.Name)
	s.save(r, sess)
	s.respondJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (s *Server) handleRerollName(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	ctx, cancel := generationContext(r)
	defer cancel()
	name := sess.Dialogue.RerollName(ctx)
	s.save(r, sess)
	s.respondJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req struct {
		View dialogue.View `json:"view"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	switch req.View {
	case dialogue.ViewChat, dialogue.ViewGallery, dialogue.ViewShop, dialogue.ViewVault, dialogue.ViewProfile:
	default:
		s.respondError(w, r, fmt.Errorf("%w: unknown view %q", errBadRequest, req.View))
		return
	}
	sess.Dialogue.SetView(req.View)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTTS(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	sess.Dialogue.SetTTS(req.Enabled)
	s.save(r, sess)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var img character.ImageAsset
	if err := decodeJSONLimit(r, &img, maxUploadBody); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := sess.Dialogue.Pin(img); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	sess.Dialogue.Unpin()
	w.WriteHeader(http.StatusNoContent)
}
