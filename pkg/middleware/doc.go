// Package middleware provides net/http middleware for the jetbuild
// development server.
//
// # OpenTelemetry Middleware
//
// OpenTelemetry starts a server span for every request and stores it in the
// request context:
//
//	r := chi.NewRouter()
//	r.Use(middleware.OpenTelemetry(
//	    middleware.WithFilter(func(r *http.Request) bool {
//	        return r.URL.Path != "/metrics"
//	    }),
//	))
//
// # Prometheus Metrics
//
// Metrics records request counts and durations by chi route pattern, plus
// reload broadcasts and connected reload clients:
//
//	reg := prometheus.NewRegistry()
//	m := middleware.NewMetrics(middleware.WithRegistry(reg))
//	r.Use(m.Handler)
//	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package middleware
