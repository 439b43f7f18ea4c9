// Package server is the web presentation boundary: it reads session
// state to decide which downloads and previews to offer, and feeds
// user input into the conversion pipeline.
package server

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/legoalpha321/lilypondnotation/engrave"
	"github.com/legoalpha321/lilypondnotation/session"
)

//go:embed templates
var templateFS embed.FS

// sessionCookie names the browser session cookie.
const sessionCookie = "lily_session"

// Config holds the web server settings. Fields can be populated from
// the environment before flags and config files overlay them.
type Config struct {
	Listen         string        `env:"LILYWEB_LISTEN"          envDefault:"localhost:8080"`
	MaxUploadBytes int64         `env:"LILYWEB_MAX_UPLOAD"      envDefault:"1048576"`
	RateEvery      time.Duration `env:"LILYWEB_RATE_EVERY"      envDefault:"2s"`
	RateBurst      int           `env:"LILYWEB_RATE_BURST"      envDefault:"3"`
	DefaultName    string        `env:"LILYWEB_DEFAULT_NAME"    envDefault:"my_sheet_music"`
}

// Converter runs the engraving pipeline.
type Converter interface {
	Convert(ctx context.Context, req engrave.Request) (*engrave.Result, error)
	Available(ctx context.Context) bool
}

// AudioRenderer produces the optional audio preview.
type AudioRenderer interface {
	Render(ctx context.Context, midi []byte) ([]byte, error)
	Available(ctx context.Context) bool
}

// Server wires the pipeline, sessions and templates behind an
// http.Handler.
type Server struct {
	cfg       Config
	converter Converter
	renderer  AudioRenderer
	sessions  *session.Manager
	cache     engrave.Cache
	logger    *log.Logger
	tmpl      *template.Template
	mux       *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithArtifactCache lets the server persist rendered audio next to the
// pipeline's artifacts.
func WithArtifactCache(c engrave.Cache) ServerOption {
	return func(s *Server) { s.cache = c }
}

// WithLogger sets the request logger.
func WithLogger(logger *log.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// New creates the Server.
func New(cfg Config, converter Converter, renderer AudioRenderer, sessions *session.Manager, opts ...ServerOption) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"bytes": func(n int) string { return humanize.Bytes(uint64(n)) },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		converter: converter,
		renderer:  renderer,
		sessions:  sessions,
		logger:    log.Default(),
		tmpl:      tmpl,
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /convert", s.handleConvert)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("POST /sample", s.handleSample)
	s.mux.HandleFunc("POST /audio", s.handleAudio)
	s.mux.HandleFunc("GET /artifact/{kind}", s.handleArtifact)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s, nil
}

// Handler returns the routed handler with panic recovery. Nothing from
// a request is allowed to propagate as an unhandled fault.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", rec)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		s.mux.ServeHTTP(w, r)
	})
}

// currentSession resolves the request's session from its cookie,
// creating one (and setting the cookie) as needed.
func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	sess := s.sessions.GetOrCreate(id)
	if sess.ID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess
}
