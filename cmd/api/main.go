package main

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"routeplan/internal/api"
	"routeplan/internal/buildinfo"
	"routeplan/internal/config"
	"routeplan/internal/metrics"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	metrics.RegisterDefault()

	srv, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	mux := http.NewServeMux()

	// Orders
	mux.HandleFunc("/v1/orders", srv.OrdersHandler)
	mux.HandleFunc("/v1/orders/", srv.OrderByIDHandler)

	// Drivers
	mux.HandleFunc("/v1/drivers", srv.DriversHandler)
	mux.HandleFunc("/v1/drivers/", srv.DriverByIDHandler)

	// Depots and parking
	mux.HandleFunc("/v1/depots", srv.DepotsHandler)
	mux.HandleFunc("/v1/parking", srv.ParkingHandler)

	// Planning
	mux.HandleFunc("/v1/plan", srv.PlanHandler)
	mux.HandleFunc("/v1/plan/", srv.PlanByIDHandler)

	// Routes; /v1/routes/ also serves /itinerary, /status, /events/stream
	mux.HandleFunc("/v1/routes", srv.RoutesHandler)
	mux.HandleFunc("/v1/routes/ws", srv.RoutesWSHandler)
	mux.HandleFunc("/v1/routes/", srv.RouteByIDHandler)

	// Drift monitor
	mux.HandleFunc("/v1/drift/check", srv.DriftCheckHandler)
	mux.HandleFunc("/v1/drift/", srv.DriftByIDHandler)

	// Webhook subscriptions
	mux.HandleFunc("/v1/subscriptions", srv.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srv.SubscriptionByIDHandler)

	// Health and observability
	mux.HandleFunc("/healthz", srv.HealthHandler)
	mux.HandleFunc("/readyz", srv.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := ":" + cfg.Port

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(metricsMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("route planning API %s listening on %s", buildinfo.Version, addr)
	srv.NewWebhookWorker().Start()
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// streaming endpoints wrap badly and skew duration buckets
		if r.URL.Path == "/v1/routes/ws" || strings.HasSuffix(r.URL.Path, "/events/stream") {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		labels := []string{r.Method, r.URL.Path, httpStatusClass(rec.status)}
		metrics.HTTPRequests.WithLabelValues(labels...).Inc()
		metrics.HTTPDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

func httpStatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
