package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/legoalpha321/lilypondnotation/engrave"
	"github.com/legoalpha321/lilypondnotation/session"
	"github.com/legoalpha321/lilypondnotation/synth"
)

// pageData feeds the index template.
type pageData struct {
	ToolAvailable  bool
	AudioAvailable bool
	Message        string
	IsError        bool
	State          session.State
	BaseName       string
	HasMIDI        bool
	HasWAV         bool
}

func (s *Server) render(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("template render failed", "err", err)
	}
}

func (s *Server) page(r *http.Request, sess *session.Session) pageData {
	state := sess.Store.Snapshot()
	data := pageData{
		ToolAvailable:  s.converter.Available(r.Context()),
		AudioAvailable: s.renderer.Available(r.Context()),
		State:          state,
		BaseName:       s.cfg.DefaultName,
	}
	if state.Valid && state.Result != nil {
		data.HasMIDI = state.Result.HasMIDI()
		data.HasWAV = len(state.Result.WAV) > 0
	}
	return data
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	s.render(w, http.StatusOK, s.page(r, sess))
}

// allow applies the per-session rate limit to conversion endpoints.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, sess *session.Session) bool {
	if sess.Limiter.Allow() {
		return true
	}
	data := s.page(r, sess)
	data.Message = "Too many requests, slow down a little."
	data.IsError = true
	s.render(w, http.StatusTooManyRequests, data)
	return false
}

// handleConvert handles the free-text input mode.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	if !s.allow(w, r, sess) {
		return
	}

	source := r.FormValue("source")
	baseName := strings.TrimSpace(r.FormValue("name"))
	if baseName == "" {
		baseName = s.cfg.DefaultName
	}

	// Record the text (and invalidate on change) before anything can
	// fail, so stale artifacts are never offered for edited input.
	sess.Store.Dispatch(session.Event{Kind: session.EventTextChanged, Text: source})

	if strings.TrimSpace(source) == "" {
		data := s.page(r, sess)
		data.Message = "Nothing to convert: enter some notation first."
		data.IsError = true
		s.render(w, http.StatusBadRequest, data)
		return
	}

	s.convert(w, r, sess, []byte(source), baseName)
}

// handleUpload handles the file-upload input mode.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	if !s.allow(w, r, sess) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		data := s.page(r, sess)
		data.Message = "Please choose a notation file to upload."
		data.IsError = true
		s.render(w, http.StatusBadRequest, data)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".ly") {
		data := s.page(r, sess)
		data.Message = "Only .ly notation files are accepted."
		data.IsError = true
		s.render(w, http.StatusBadRequest, data)
		return
	}

	source, err := io.ReadAll(file)
	if err != nil {
		data := s.page(r, sess)
		data.Message = "Unable to read the uploaded file: " + err.Error()
		data.IsError = true
		s.render(w, http.StatusBadRequest, data)
		return
	}

	sess.Store.Dispatch(session.Event{Kind: session.EventFileChanged, FileName: header.Filename})

	baseName := strings.TrimSpace(r.FormValue("name"))
	if baseName == "" {
		baseName = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	s.convert(w, r, sess, source, baseName)
}

// convert runs the pipeline for either input mode. Conversions within
// a session run one at a time, start to finish.
func (s *Server) convert(w http.ResponseWriter, r *http.Request, sess *session.Session, source []byte, baseName string) {
	sess.ConvertMu.Lock()
	defer sess.ConvertMu.Unlock()

	res, err := s.converter.Convert(r.Context(), engrave.Request{
		Source:   source,
		BaseName: baseName,
		Scope:    sess.ID,
	})
	if err != nil {
		sess.Store.Dispatch(session.Event{Kind: session.EventConvertFailed})
		data := s.page(r, sess)
		data.IsError = true
		switch {
		case errors.Is(err, engrave.ErrToolNotFound):
			data.Message = "The engraving tool is not installed on this server."
		case errors.Is(err, engrave.ErrEmptySource):
			data.Message = "Nothing to convert: enter some notation first."
		default:
			data.Message = "Engraving failed: " + err.Error()
		}
		s.render(w, http.StatusUnprocessableEntity, data)
		return
	}

	sess.Store.Dispatch(session.Event{Kind: session.EventConvertSucceeded, Result: res})
	data := s.page(r, sess)
	data.Message = "Generated " + res.PDFName + " successfully."
	s.render(w, http.StatusOK, data)
}

// handleSample replaces the source text with the built-in example.
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	sess.Store.Dispatch(session.Event{Kind: session.EventSampleLoaded, Text: SampleScore})
	data := s.page(r, sess)
	data.Message = "Sample loaded. Press convert to engrave it."
	s.render(w, http.StatusOK, data)
}

// handleAudio renders the audio preview for the current artifacts.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	if !s.allow(w, r, sess) {
		return
	}

	state := sess.Store.Snapshot()
	if !state.Valid || state.Result == nil {
		data := s.page(r, sess)
		data.Message = "Convert your notation first, then render audio."
		data.IsError = true
		s.render(w, http.StatusConflict, data)
		return
	}
	if !state.Result.HasMIDI() {
		data := s.page(r, sess)
		data.Message = "This score has no performance data; add a midi block to enable audio."
		data.IsError = true
		s.render(w, http.StatusConflict, data)
		return
	}

	wav, err := s.renderer.Render(r.Context(), state.Result.MIDI)
	if err != nil {
		// Soft failure: the document stays valid and downloadable.
		data := s.page(r, sess)
		if errors.Is(err, synth.ErrUnavailable) {
			data.Message = "Audio preview is unavailable on this server."
		} else {
			data.Message = "Audio rendering failed: " + err.Error()
		}
		s.render(w, http.StatusOK, data)
		return
	}

	wavName := strings.TrimSuffix(state.Result.PDFName, ".pdf") + ".wav"
	sess.Store.Dispatch(session.Event{
		Kind:    session.EventAudioRendered,
		WAV:     wav,
		WAVName: wavName,
	})
	if s.cache != nil {
		if err := s.cache.Put(sess.ID, wavName, wav); err != nil {
			s.logger.Warn("unable to cache audio", "name", wavName, "err", err)
		}
	}

	data := s.page(r, sess)
	data.Message = "Audio preview ready."
	s.render(w, http.StatusOK, data)
}

// handleArtifact serves downloads and inline previews. Artifacts are
// only offered while the session's state is valid.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	state := sess.Store.Snapshot()
	if !state.Valid || state.Result == nil {
		http.Error(w, "no current artifacts", http.StatusGone)
		return
	}

	var (
		name        string
		body        []byte
		contentType string
	)
	switch r.PathValue("kind") {
	case "pdf":
		name, body, contentType = state.Result.PDFName, state.Result.PDF, "application/pdf"
	case "midi":
		name, body, contentType = state.Result.MIDIName, state.Result.MIDI, "audio/midi"
	case "wav":
		name, body, contentType = state.Result.WAVName, state.Result.WAV, "audio/wav"
	default:
		http.NotFound(w, r)
		return
	}
	if len(body) == 0 {
		http.Error(w, "artifact not available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	if r.URL.Query().Get("inline") == "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	}
	_, _ = w.Write(body)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"engraver":    s.converter.Available(r.Context()),
		"synthesizer": s.renderer.Available(r.Context()),
		"sessions":    s.sessions.Len(),
	})
}
