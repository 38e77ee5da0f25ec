package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router wraps a chi mux with the shared middleware stack.
type Router struct {
	mux    chi.Router
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(requestLogger(logger))
	return &Router{
		mux:    mux,
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler registers an http.Handler (promhttp and similar).
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterHealthRoutes adds the liveness probe.
func (r *Router) RegisterHealthRoutes() {
	r.mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeOk(w, map[string]string{"status": "ok"})
	})
}

// RegisterMetricsRoutes exposes g in the Prometheus text format.
func (r *Router) RegisterMetricsRoutes(g prometheus.Gatherer) {
	r.mux.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// RegisterTrackingRoutes mounts the engine API under /api/v1.
func (r *Router) RegisterTrackingRoutes(h *Handler) {
	r.mux.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(30 * time.Second))

		api.Get("/summary", h.GetSummary)

		api.Get("/zones", h.ListZones)
		api.Put("/zones", h.ReloadZones)
		api.Get("/zones/resolve", h.ResolvePoint)
		api.Get("/zones/{zoneID}", h.GetZone)

		api.Get("/subjects", h.ListSubjects)
		api.Get("/subjects/{subjectID}", h.GetSubject)
		api.Post("/positions", h.SubmitPosition)

		api.Get("/alerts", h.ListAlerts)
		api.Get("/alerts/export", h.ExportAlerts)
		api.Get("/alerts/{alertID}", h.GetAlert)
		api.Post("/alerts/{alertID}/dispatch", h.DispatchAlert)
		api.Post("/alerts/{alertID}/respond", h.RespondAlert)
		api.Post("/alerts/{alertID}/resolve", h.ResolveAlert)
		api.Post("/alerts/{alertID}/transition", h.TransitionAlert)

		api.Get("/density", h.ListDensity)
		api.Post("/density", h.SubmitDensity)
		api.Get("/density/{zoneID}", h.GetDensity)
		api.Get("/density/{zoneID}/trend", h.GetDensityTrend)
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
