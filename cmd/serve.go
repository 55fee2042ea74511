package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/qaforge/internal/ingest"
	"github.com/sells-group/qaforge/internal/model"
	"github.com/sells-group/qaforge/internal/monitoring"
	"github.com/sells-group/qaforge/internal/pipeline"
	"github.com/sells-group/qaforge/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for generation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		session := pipeline.NewSession(env.Orchestrator)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		a := newAPI(session, env.Store)
		if cfg.Server.MaxBodyMB > 0 {
			a.maxBody = int64(cfg.Server.MaxBodyMB) << 20
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           a.routes(cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			session.Cancel()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			_ = session.Wait(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runController is the part of pipeline.Session the API drives.
type runController interface {
	Start(ctx context.Context, in pipeline.Input) (string, error)
	Snapshot() pipeline.Snapshot
	Reset() error
	Cancel() bool
}

// defaultMaxBody caps a start request; file sources travel base64-encoded
// in the body.
const defaultMaxBody = 32 << 20

type api struct {
	session runController
	store   store.Store
	maxBody int64
}

func newAPI(session runController, st store.Store) *api {
	return &api{session: session, store: st, maxBody: defaultMaxBody}
}

// routes builds the HTTP handler.
func (a *api) routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/health", a.handleHealth)
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", a.handleStart)
		r.Get("/", a.handleListRuns)
		r.Get("/current", a.handleCurrent)
		r.Get("/current/result", a.handleCurrentResult)
		r.Delete("/current", a.handleClear)
		r.Get("/stats", a.handleStats)
		r.Get("/{id}", a.handleGetRun)
		r.Get("/{id}/pairs", a.handleListPairs)
	})
	return r
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// startRequest is the body of POST /runs. File data is base64 encoded.
type startRequest struct {
	Sources      []ingest.Source `json:"sources"`
	PairCount    int             `json:"pair_count"`
	Augmentation bool            `json:"augmentation"`
	GapFilling   bool            `json:"gap_filling"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	body := http.MaxBytesReader(w, r.Body, a.maxBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if len(req.Sources) == 0 {
		respondError(w, http.StatusBadRequest, "NO_SOURCES", "at least one source is required")
		return
	}
	if req.PairCount < 0 {
		respondError(w, http.StatusBadRequest, "INVALID_PAIR_COUNT", "pair_count must not be negative")
		return
	}

	id, err := a.session.Start(r.Context(), pipeline.Input{
		Sources:      req.Sources,
		PairCount:    req.PairCount,
		Augmentation: req.Augmentation,
		GapFilling:   req.GapFilling,
	})
	if errors.Is(err, pipeline.ErrRunInProgress) {
		respondError(w, http.StatusConflict, "RUN_IN_PROGRESS", "a run is already in progress")
		return
	}
	if err != nil {
		zap.L().Error("start run failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "START_FAILED", "could not start the run")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (a *api) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	snap := a.session.Snapshot()
	snap.Result = nil
	respondJSON(w, http.StatusOK, snap)
}

func (a *api) handleCurrentResult(w http.ResponseWriter, _ *http.Request) {
	snap := a.session.Snapshot()
	if snap.Result == nil {
		respondError(w, http.StatusNotFound, "NO_RESULT", "no completed run")
		return
	}
	respondJSON(w, http.StatusOK, snap.Result)
}

// handleClear cancels the active run, or clears a finished one.
func (a *api) handleClear(w http.ResponseWriter, _ *http.Request) {
	if a.session.Cancel() {
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
		return
	}
	if err := a.session.Reset(); err != nil {
		respondError(w, http.StatusConflict, "RUN_IN_PROGRESS", "a run is still finishing")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.RunFilter{Status: model.RunStatus(q.Get("status"))}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be a non-negative integer")
		return
	}

	runs, err := a.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "could not list runs")
		return
	}
	for i := range runs {
		runs[i].Result = nil
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r.URL.Query().Get("hours"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_HOURS", "hours must be a non-negative integer")
		return
	}
	snap, err := monitoring.NewCollector(a.store).Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("collect stats failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "could not collect stats")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (a *api) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "run not found")
		return
	}
	if err != nil {
		zap.L().Error("get run failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "could not load run")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (a *api) handleListPairs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.store.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "run not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "could not load run")
		return
	}
	pairs, err := a.store.ListPairs(r.Context(), id)
	if err != nil {
		zap.L().Error("list pairs failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "could not list pairs")
		return
	}
	if pairs == nil {
		pairs = []model.QAPair{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"pairs": pairs})
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", s)
	}
	return n, nil
}
