package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"roomview/internal/booking/handler"
	"roomview/pkg/config"
	"roomview/pkg/contracts"
	"roomview/pkg/middleware"

	"github.com/julienschmidt/httprouter"
)

// Application runs two HTTP servers: the booking API with the full middleware
// stack, and the display server carrying the snapshot stream. The display
// server has no write timeout because screens hold their SSE connection open
// indefinitely.
type Application struct {
	cfg           *config.Config
	apiServer     *http.Server
	displayServer *http.Server
	rateLimiter   *middleware.UserRateLimiter
	onShutdown    []func()
}

func NewApplication(cfg *config.Config) *Application {
	return &Application{cfg: cfg}
}

// RegisterShutdown queues fn to run during graceful shutdown, after the
// servers stop accepting requests.
func (a *Application) RegisterShutdown(fn func()) {
	a.onShutdown = append(a.onShutdown, fn)
}

func (a *Application) SetApp(apiHandler, displayHandler contracts.Handler) {
	a.setAPIServer(apiHandler)
	a.setDisplayServer(displayHandler)
}

func (a *Application) setAPIServer(apiHandler contracts.Handler) {
	router := httprouter.New()
	apiHandler.RegisterRoutes(router)

	healthHandler := handler.NewHealthHandler(a.cfg.Client.Mongo, a.cfg.Log)
	healthHandler.RegisterRoutes(router)

	a.rateLimiter = middleware.NewUserRateLimiter(
		a.cfg.RateLimitRequests,
		a.cfg.RateLimitWindow,
		middleware.DefaultUserExtractor,
		a.cfg.Log,
	)

	var h http.Handler = router
	h = middleware.RequestTimeout(a.cfg.RequestTimeout)(h)
	h = middleware.UserRateLimit(a.rateLimiter)(h)
	h = middleware.ContentTypeValidation(a.cfg.Log)(h)
	h = middleware.MaxRequestSize(int64(a.cfg.MaxRequestSize))(h)
	h = middleware.RequestLogging(a.cfg.Log)(h)
	h = middleware.Recovery(a.cfg.Log)(h)

	a.apiServer = &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      h,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		IdleTimeout:  a.cfg.IdleTimeout,
	}

	a.cfg.Log.Info("Booking API server configured", "port", a.cfg.Port)
}

func (a *Application) setDisplayServer(displayHandler contracts.Handler) {
	router := httprouter.New()
	displayHandler.RegisterRoutes(router)

	var h http.Handler = router
	h = middleware.RequestLogging(a.cfg.Log)(h)
	h = middleware.Recovery(a.cfg.Log)(h)

	a.displayServer = &http.Server{
		Addr:        ":" + a.cfg.DisplayPort,
		Handler:     h,
		ReadTimeout: a.cfg.ReadTimeout,
		IdleTimeout: a.cfg.IdleTimeout,
	}

	a.cfg.Log.Info("Display server configured", "port", a.cfg.DisplayPort)
}

func (a *Application) Run() {
	serverErrors := make(chan error, 2)

	go func() {
		a.cfg.Log.Info("Starting booking API server", "address", a.apiServer.Addr)
		serverErrors <- a.apiServer.ListenAndServe()
	}()
	go func() {
		a.cfg.Log.Info("Starting display server", "address", a.displayServer.Addr)
		serverErrors <- a.displayServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		a.cfg.Log.Fatal("HTTP server failed", "error", err)

	case sig := <-shutdown:
		a.cfg.Log.Info("Shutdown signal received", "signal", sig)
		a.gracefulShutdown()
	}
}

func (a *Application) gracefulShutdown() {
	a.cfg.Log.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	for _, server := range []*http.Server{a.displayServer, a.apiServer} {
		if err := server.Shutdown(ctx); err != nil {
			a.cfg.Log.Error("Server shutdown failed", "addr", server.Addr, "error", err)
			if err := server.Close(); err != nil {
				a.cfg.Log.Error("Could not stop server", "addr", server.Addr, "error", err)
			}
		}
	}

	a.cfg.Log.Info("Stopping background workers...")
	a.rateLimiter.Stop()
	for _, fn := range a.onShutdown {
		fn()
	}
	a.cfg.Log.Info("Background workers stopped")

	a.cfg.Client.Close(a.cfg.Log, a.cfg.ShutdownTimeout)
	a.cfg.Log.Info("Server stopped gracefully")
}
