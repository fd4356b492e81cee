package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/services/catalog"
	"github.com/BearBump/ParcelDesk/internal/services/settlement"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Options struct {
	JWTSecret   []byte
	SwaggerPath string

	// Limiter caps shipment creation per caller per minute. Nil or a zero
	// limit disables it.
	Limiter         RateLimiter
	CreatePerMinute int64

	// Ready backs /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

type Handler struct {
	wf      *settlement.Workflow
	catalog *catalog.Service
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

func New(wf *settlement.Workflow, cat *catalog.Service, opts Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{wf: wf, catalog: cat, opts: opts, log: log, now: time.Now}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if h.opts.Ready != nil {
			if err := h.opts.Ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	if h.opts.SwaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, h.opts.SwaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(h.opts.SwaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	r.Route("/api", func(r chi.Router) {
		// Public tracking page.
		r.Get("/tracking/{code}", h.track)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.opts.JWTSecret))

			r.Post("/quote", h.quote)

			r.Route("/shipments", func(r chi.Router) {
				r.Post("/", h.createShipment)
				r.Get("/", h.listShipments)
				r.Get("/{id}", h.getShipment)
				r.Put("/{id}/expedition", h.assignExpedition)
				r.Put("/{id}/cancel", h.cancelShipment)
			})
			r.Post("/tracking/{code}", h.appendTracking)

			r.Get("/prices", h.listPrices)
			r.Post("/prices", h.savePrice)
			r.Get("/expeditions", h.listExpeditions)
			r.Post("/expeditions", h.createExpedition)
			r.Put("/expeditions/{id}", h.updateExpedition)

			r.Get("/profile", h.profile)
			r.Get("/topups", h.listTopups)
			r.Post("/topups", h.requestTopup)
			r.Put("/topups/{id}/status", h.decideTopup)
		})
	})
	return r
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid id %q", raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	return n
}

// allowCreate applies the per-caller creation limit. Limiter outages let the
// request through.
func (h *Handler) allowCreate(ctx context.Context, userID uint64) bool {
	if h.opts.Limiter == nil || h.opts.CreatePerMinute <= 0 {
		return true
	}
	key := fmt.Sprintf("ratelimit:create_shipment:%d:%d", userID, h.now().Unix()/60)
	ok, _, err := h.opts.Limiter.Allow(ctx, key, h.opts.CreatePerMinute, time.Minute)
	if err != nil {
		h.log.Warn("create rate limiter unavailable", zap.Error(err))
		return true
	}
	return ok
}
