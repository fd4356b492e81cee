package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/ParcelDesk/config"
	"github.com/BearBump/ParcelDesk/internal/services/reconcile"
	"github.com/BearBump/ParcelDesk/internal/services/relay"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	relay      *relay.Relay
	reconciler *reconcile.Reconciler
	repo       workerRepo
	cfg        *config.Config
	log        *zap.Logger
}

func workerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := opts.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{"relay": opts.relay.Stats()}
		if n, err := opts.repo.PendingEvents(r.Context()); err == nil {
			out["pendingEvents"] = n
		}
		if last := opts.reconciler.Last(); last != nil {
			out["lastReconcile"] = last
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		pd := opts.cfg.ParcelDesk
		// Operational settings only, never secrets.
		writeJSON(w, http.StatusOK, map[string]any{
			"relayPollIntervalSeconds": pd.RelayPollIntervalSeconds,
			"relayBatchSize":           pd.RelayBatchSize,
			"relayConcurrency":         pd.RelayConcurrency,
			"relayLeaseSeconds":        pd.RelayLeaseSeconds,
			"relayRateLimitPerMinute":  pd.RelayRateLimitPerMinute,
			"relayBackoffJitterMillis": pd.RelayBackoffJitterMillis,
			"reconcileSchedule":        pd.ReconcileSchedule,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		opts.relay.Trigger()
		writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})
	})

	r.Get("/reconcile", func(w http.ResponseWriter, r *http.Request) {
		last := opts.reconciler.Last()
		if last == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no reconcile run yet"})
			return
		}
		writeJSON(w, http.StatusOK, last)
	})
	r.Post("/reconcile", func(w http.ResponseWriter, r *http.Request) {
		rep, err := opts.reconciler.Run(r.Context())
		if err != nil {
			opts.log.Error("manual reconcile failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		status := http.StatusOK
		if !rep.Skipped && !rep.OK() {
			status = http.StatusConflict
		}
		writeJSON(w, status, rep)
	})

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: workerRouter(opts), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	opts.log.Info("worker HTTP listening", zap.String("addr", lis.Addr().String()))
	err = srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
