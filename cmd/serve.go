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
	"golang.org/x/sync/errgroup"

	"github.com/teelo/teelo/internal/elo"
	"github.com/teelo/teelo/internal/engine"
	"github.com/teelo/teelo/internal/model"
	"github.com/teelo/teelo/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only ratings API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		params, tag, err := engine.ResolveParameterSet(ctx, st, "")
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(st, params, tag),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port), zap.String("params_version", tag))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func newRouter(st store.Store, params model.Params, paramsTag string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 100)
		states, err := st.Leaderboard(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, states)
	})

	r.Get("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 20)
		runs, err := st.ListRuns(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		pending, err := st.CountPending(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		checkpoints := map[string]*model.Checkpoint{}
		for _, key := range []string{model.CheckpointIncremental, model.CheckpointRebuild} {
			ck, err := st.GetCheckpoint(ctx, key)
			if err != nil {
				writeError(w, err)
				return
			}
			checkpoints[key] = ck
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pending_matches": pending,
			"params_version":  paramsTag,
			"checkpoints":     checkpoints,
		})
	})

	r.Get("/api/probability", func(w http.ResponseWriter, r *http.Request) {
		a, errA := strconv.ParseInt(r.URL.Query().Get("a"), 10, 64)
		b, errB := strconv.ParseInt(r.URL.Query().Get("b"), 10, 64)
		if errA != nil || errB != nil {
			http.Error(w, `{"error":"a and b must be player ids"}`, http.StatusBadRequest)
			return
		}
		level := r.URL.Query().Get("level")
		if level == "" {
			level = "A"
		}
		c, ok := params.Constant(level)
		if !ok {
			http.Error(w, `{"error":"unknown level code"}`, http.StatusBadRequest)
			return
		}

		states, err := st.GetPlayerStates(r.Context(), []int64{a, b})
		if err != nil {
			writeError(w, err)
			return
		}
		ratingOf := func(id int64) float64 {
			if s, ok := states[id]; ok {
				return s.Rating
			}
			return params.InitialRating
		}
		ratingA := ratingOf(a)
		ratingB := ratingOf(b)

		writeJSON(w, http.StatusOK, map[string]any{
			"player_a":      a,
			"player_b":      b,
			"rating_a":      ratingA,
			"rating_b":      ratingB,
			"level":         level,
			"probability_a": elo.WinProbability(ratingA, ratingB, c.S),
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
