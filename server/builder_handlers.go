package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sat8bit/nexus/builder"
	"github.com/sat8bit/nexus/character"
)

type builderStatus struct {
	Status   builder.Status `json:"status"`
	Error    string         `json:"error,omitempty"`
	Concepts int            `json:"concepts"`
}

func (s *Server) handleBuilderStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.builder.Status()
	resp := builderStatus{Status: st, Concepts: len(s.builder.Concepts())}
	if err != nil {
		resp.Error = err.Error()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSuggestPrompts(w http.ResponseWriter, r *http.Request) {
	n := 3
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 10 {
			s.respondError(w, r, fmt.Errorf("%w: n must be between 1 and 10", errBadRequest))
			return
		}
		n = parsed
	}
	ctx, cancel := generationContext(r)
	defer cancel()
	prompts, err := s.builder.SuggestPrompts(ctx, n)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]string{"prompts": prompts})
}

func (s *Server) handleGenerateConcepts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	ctx, cancel := generationContext(r)
	defer cancel()
	concepts, err := s.builder.GenerateConcepts(ctx, req.Prompt)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]character.ImageAsset{"concepts": concepts})
}

func (s *Server) handleBuildFromConcept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Concept int    `json:"concept"`
		Prompt  string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	concepts := s.builder.Concepts()
	if req.Concept < 0 || req.Concept >= len(concepts) {
		s.respondError(w, r, fmt.Errorf("%w: concept %d out of range", errBadRequest, req.Concept))
		return
	}
	ctx, cancel := generationContext(r)
	defer cancel()
	res, err := s.builder.BuildFromConcept(ctx, concepts[req.Concept], req.Prompt)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.startSession(w, r, res)
}

// handleBuildFromUpload は multipart の file（画像またはパッケージ）と任意の instructions を受け取ります。
func (s *Server) handleBuildFromUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	up := builder.Upload{
		Name:         hdr.Filename,
		Data:         data,
		MIMEType:     hdr.Header.Get("Content-Type"),
		Instructions: r.FormValue("instructions"),
	}
	ctx, cancel := generationContext(r)
	defer cancel()
	res, err := s.builder.BuildFromUpload(ctx, up)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.startSession(w, r, res)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, res *builder.Result) {
	sess, err := s.sessions.Create(r.Context(), res.Prompt, res.Character, res.State)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sess.Summary(s.now()))
}

func (s *Server) handleBuilderReset(w http.ResponseWriter, r *http.Request) {
	s.builder.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBuilderRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.builder.Retry(); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
