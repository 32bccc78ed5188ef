package saicache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

// diagnosticsServer exposes metrics, health, and version over a small
// fasthttp listener. It is wired only when metrics HTTP is enabled in
// the config.
type diagnosticsServer struct {
	logger  types.Logger
	metrics types.MetricsManager
	health  types.HealthManager
	server  *fasthttp.Server
	addr    string
	path    string
	started int32
}

func newDiagnosticsServer(logger types.Logger, metrics types.MetricsManager, health types.HealthManager, config types.MetricsHTTPConfig) *diagnosticsServer {
	port := config.Port
	if port <= 0 {
		port = 9090
	}

	path := config.Path
	if path == "" {
		path = "/metrics"
	}

	return &diagnosticsServer{
		logger:  logger,
		metrics: metrics,
		health:  health,
		addr:    fmt.Sprintf(":%d", port),
		path:    path,
	}
}

func (d *diagnosticsServer) Start() error {
	if !atomic.CompareAndSwapInt32(&d.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	d.server = &fasthttp.Server{
		Handler:      d.handler,
		Name:         "sai-cache-diagnostics",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := d.server.ListenAndServe(d.addr); err != nil {
			d.logger.Error("Diagnostics server stopped", zap.Error(err))
		}
	}()

	d.logger.Info("Diagnostics server started",
		zap.String("addr", d.addr),
		zap.String("metrics_path", d.path))

	return nil
}

func (d *diagnosticsServer) Stop() error {
	if !atomic.CompareAndSwapInt32(&d.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	return d.server.Shutdown()
}

func (d *diagnosticsServer) handler(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case d.path:
		d.metrics.Handler()(ctx)

	case "/health":
		if d.health == nil {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		d.health.Handler()(ctx)

	case "/version":
		if d.health == nil {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		d.health.VersionHandler()(ctx)

	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}
