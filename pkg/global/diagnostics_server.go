package global

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/buildbarn/bb-treehash/pkg/util"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// DiagnosticsServer is returned by ApplyConfiguration. It exposes
// Prometheus metrics, profiling and health check endpoints over HTTP.
// It can be used by the caller to report whether hashing has started.
type DiagnosticsServer struct {
	listenAddress string
	logger        *zap.Logger
	ready         atomic.Bool
}

// NewDiagnosticsServer creates a DiagnosticsServer. An empty listen
// address disables the HTTP server.
func NewDiagnosticsServer(listenAddress string, logger *zap.Logger) *DiagnosticsServer {
	return &DiagnosticsServer{
		listenAddress: listenAddress,
		logger:        logger,
	}
}

// Handler returns the HTTP handler that serves the diagnostics
// endpoints.
func (ds *DiagnosticsServer) Handler() http.Handler {
	router := mux.NewRouter()
	util.RegisterAdministrativeHTTPEndpoints(router)
	router.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		if ds.ready.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
	return router
}

// Serve HTTP requests until the context is canceled. It may be launched
// as a program.Routine.
func (ds *DiagnosticsServer) Serve(ctx context.Context) error {
	if ds.listenAddress == "" {
		<-ctx.Done()
		return nil
	}

	server := &http.Server{
		Addr:    ds.listenAddress,
		Handler: ds.Handler(),
	}
	go func() {
		<-ctx.Done()
		ds.SetNotServing()
		server.Shutdown(context.WithoutCancel(ctx))
	}()
	ds.logger.Info("Serving diagnostics", zap.String("listen_address", ds.listenAddress))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return util.StatusWrap(err, "Diagnostics server")
	}
	return nil
}

// SetReady updates the readiness endpoint to report healthy and ready.
func (ds *DiagnosticsServer) SetReady() {
	ds.ready.Store(true)
}

// SetNotServing updates the readiness endpoint to report healthy but not ready.
func (ds *DiagnosticsServer) SetNotServing() {
	ds.ready.Store(false)
}
