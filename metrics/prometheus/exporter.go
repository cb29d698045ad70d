package prometheus

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Exporter exposes the swap client metrics for scraping. Standing up a
// listener is optional: embedders that already run an HTTP server can mount
// Handler on it instead of calling Serve.
type Exporter struct {
	addr     string
	registry *prometheus.Registry
	runtime  bool
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithRegistry scrapes the given registry instead of building one. The swap
// client collectors are not auto-registered on a caller-owned registry.
func WithRegistry(registry *prometheus.Registry) ExporterOption {
	return func(e *Exporter) {
		e.registry = registry
	}
}

// WithoutRuntimeMetrics omits the Go runtime and process collectors.
func WithoutRuntimeMetrics() ExporterOption {
	return func(e *Exporter) {
		e.runtime = false
	}
}

// NewExporter creates an exporter listening on addr. Unless WithRegistry is
// given, it owns a fresh registry holding the swap client collectors plus
// the runtime collectors.
func NewExporter(addr string, opts ...ExporterOption) *Exporter {
	e := &Exporter{addr: addr, runtime: true}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
		for _, collector := range allMetrics {
			e.registry.MustRegister(collector)
		}
		if e.runtime {
			e.registry.MustRegister(collectors.NewGoCollector())
			e.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		}
	}
	return e
}

// Registry returns the scraped registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Serve answers /metrics and /health on the configured address until ctx is
// canceled, then shuts the listener down gracefully and returns nil. A
// listener failure is returned as-is.
func (e *Exporter) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              e.addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		return err
	}
}

// Handler returns the scrape handler for mounting on an existing server.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Register adds a caller-supplied collector to the scraped registry.
func (e *Exporter) Register(c prometheus.Collector) error {
	return e.registry.Register(c)
}
