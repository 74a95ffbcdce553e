// Package httpapi exposes the running strategy (per-bar series, trade ledger,
// report and recent log lines) over HTTP for charting front ends.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ma-crossover-bot-go/internal/models"
	"ma-crossover-bot-go/internal/strategy"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// StateProvider is the read side of the state manager.
type StateProvider interface {
	RunID() string
	LatestSnapshot() (models.BarSnapshot, bool)
	Snapshots() []models.BarSnapshot
	Trades() []models.CompletedTrade
	Report() (models.Report, error)
}

// LogSource returns the newest log messages.
type LogSource interface {
	Tail(n int) []string
}

const defaultLogLines = 100

// Server serves the strategy state.
type Server struct {
	provider StateProvider
	logs     LogSource
	logger   *zap.Logger
	srv      *http.Server
}

// NewServer creates a server listening on addr. logs may be nil.
func NewServer(addr string, provider StateProvider, logs LogSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{provider: provider, logs: logs, logger: logger.Named("http")}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/report", s.handleReport)
		r.Get("/series", s.handleSeries)
		r.Get("/trades", s.handleTrades)
		r.Get("/logs", s.handleLogs)
	})
	return r
}

// Start runs ListenAndServe in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP server starting", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.provider.LatestSnapshot()
	resp := map[string]interface{}{
		"status":    "healthy",
		"run_id":    s.provider.RunID(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if ok {
		resp["last_bar"] = snap.Index
		resp["last_bar_time"] = snap.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.provider.LatestSnapshot()
	if !ok {
		writeError(w, http.StatusNotFound, strategy.ErrNoBars)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.provider.Report()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, strategy.ErrNoBars) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleSeries 返回 from 之后 (含) 的逐K线状态，可用 limit 限制条数
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	from, err := intParam(r, "from", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snaps := s.provider.Snapshots()
	if from > len(snaps) {
		from = len(snaps)
	}
	snaps = snaps[from:]
	if limit > 0 && limit < len(snaps) {
		snaps = snaps[:limit]
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.provider.Trades()
	if trades == nil {
		trades = []models.CompletedTrade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n", defaultLogLines)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lines := []string{}
	if s.logs != nil {
		if tail := s.logs.Tail(n); tail != nil {
			lines = tail
		}
	}
	writeJSON(w, http.StatusOK, lines)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name + ": " + v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
