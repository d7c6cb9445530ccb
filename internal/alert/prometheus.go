package alert

import (
	"context"
	"errors"
	"net/http"
	"time"

	"hybrid-ids/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusExporter serves the pipeline metrics over HTTP
type PrometheusExporter struct {
	server   *http.Server
	registry *prometheus.Registry
	metrics  *metrics.PrometheusMetrics
	logger   *logrus.Logger
	port     string
}

// CreateCustomRegistry returns a registry carrying the Go runtime and process collectors
func CreateCustomRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return registry
}

// NewPrometheusExporter registers the pipeline metrics on registry and
// prepares the /metrics and /health endpoints.
func NewPrometheusExporter(port string, registry *prometheus.Registry, logger *logrus.Logger) *PrometheusExporter {
	if registry == nil {
		registry = CreateCustomRegistry()
	}
	m := metrics.NewPrometheusMetrics(registry)

	e := &PrometheusExporter{
		registry: registry,
		metrics:  m,
		logger:   logger,
		port:     port,
	}
	e.server = &http.Server{
		Addr:              ":" + port,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return e
}

func (e *PrometheusExporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`
			<h1>Hybrid IDS Exporter</h1>
			<p><a href="/metrics">Metrics</a></p>
			<p><a href="/health">Health Check</a></p>
		`))
	})
	return mux
}

// Start serves until ctx is cancelled
func (e *PrometheusExporter) Start(ctx context.Context) error {
	e.logger.Infof("Starting Prometheus exporter on port %s", e.port)
	e.logger.Infof("Metrics available at: http://localhost:%s/metrics", e.port)

	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			e.logger.Errorf("Failed to start Prometheus exporter: %v", err)
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.logger.Info("Shutting down Prometheus exporter...")
	return e.server.Shutdown(shutdownCtx)
}

func (e *PrometheusExporter) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return e.server.Shutdown(ctx)
}

func (e *PrometheusExporter) GetMetrics() *metrics.PrometheusMetrics {
	return e.metrics
}
