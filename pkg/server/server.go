// Package server exposes ownership reports over HTTP, as JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tzrikka/revowners/internal/logger"
	"github.com/tzrikka/revowners/pkg/codeowners"
	"github.com/tzrikka/revowners/pkg/ownership"
)

const (
	// MaxEngines limits the number of PRs whose caches are retained in memory.
	MaxEngines = 1024

	requestTimeout = time.Minute
)

// Server resolves ownership reports on demand. Each PR gets its own
// [ownership.Engine], so repeated requests for the same PR are cheap.
type Server struct {
	src         ownership.DataSource
	cp          ownership.ContextProvider
	policy      codeowners.EmptyOwnersPolicy
	defaultUser string

	// AllowedOrigins enables CORS requests from web pages
	// (e.g. "https://github.com"), if it isn't empty.
	AllowedOrigins []string

	// OnReport is called with every successfully resolved report, if it isn't nil.
	OnReport func(context.Context, *ownership.Report)

	mu      sync.Mutex
	engines map[string]*ownership.Engine
}

// NewServer creates a new instance of the HTTP server. The default
// user is optional, it is used when requests don't specify a user.
func NewServer(src ownership.DataSource, cp ownership.ContextProvider, policy codeowners.EmptyOwnersPolicy, defaultUser string) *Server {
	return &Server{
		src:         src,
		cp:          cp,
		policy:      policy,
		defaultUser: defaultUser,
		engines:     map[string]*ownership.Engine{},
	}
}

// Routes sets up the router with all middleware and API endpoints.
func (s *Server) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(requestID)
	mux.Use(logRequest)
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.Timeout(requestTimeout))

	if len(s.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}))
	}

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respond(r, w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Get("/repos/{owner}/{repo}/pulls/{number}/owners", s.getOwners)

	return mux
}

func (s *Server) getOwners(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || n <= 0 {
		respondError(r, w, http.StatusBadRequest, "invalid pull request number")
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		user = s.defaultUser
	}
	if user == "" {
		respondError(r, w, http.StatusBadRequest, "missing user query parameter")
		return
	}

	pr := ownership.PullRequest{Owner: chi.URLParam(r, "owner"), Repo: chi.URLParam(r, "repo"), Number: n}
	report, err := s.engine(pr).Resolve(r.Context(), pr, user)
	switch {
	case errors.Is(err, ownership.ErrStale):
		respondError(r, w, http.StatusConflict, err.Error())
	case err != nil:
		logger.FromContext(r.Context()).Error("failed to resolve PR owners", slog.Any("error", err), slog.String("pr_url", pr.URL()))
		respondError(r, w, http.StatusBadGateway, err.Error())
	default:
		if s.OnReport != nil {
			s.OnReport(r.Context(), report)
		}
		respond(r, w, http.StatusOK, report)
	}
}

// engine returns the [ownership.Engine] of the given PR, and creates it if necessary.
func (s *Server) engine(pr ownership.PullRequest) *ownership.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()

	url := pr.URL()
	if e, ok := s.engines[url]; ok {
		return e
	}

	if len(s.engines) >= MaxEngines {
		for k := range s.engines {
			delete(s.engines, k)
			break
		}
	}

	e := ownership.NewEngine(s.src, s.cp, s.policy)
	s.engines[url] = e
	return e
}

func respond(r *http.Request, w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error("failed to encode response", slog.Any("error", err))
	}
}

func respondError(r *http.Request, w http.ResponseWriter, code int, message string) {
	respond(r, w, code, map[string]string{"error": message})
}
