package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/scheduler"
)

const defaultShutdownTimeout = 30 * time.Second

// App is a built application.
type App struct {
	handler         http.Handler
	logger          *zap.Logger
	lifecycle       *plugin.Lifecycle
	deferred        []plugin.DeferredAction
	token           *scheduler.Token
	addr            string
	shutdownTimeout time.Duration

	startOnce sync.Once
	startErr  error

	mu       sync.Mutex
	server   *http.Server
	stopOnce sync.Once
	stopErr  error
}

// Handler returns the fully layered request handler.
func (a *App) Handler() http.Handler { return a.handler }

// Token returns the cancellation token handed to scheduled tasks.
func (a *App) Token() *scheduler.Token { return a.token }

// Start hands the scheduled tasks to the deferred actions and runs the
// startup hooks. It runs once; later calls return the first result.
func (a *App) Start(ctx context.Context) error {
	a.startOnce.Do(func() {
		tasks := a.lifecycle.Tasks()
		for _, action := range a.deferred {
			if action.OnServe != nil {
				action.OnServe(tasks, a.token)
			}
		}
		for _, hook := range a.lifecycle.StartHooks() {
			if err := hook(ctx); err != nil {
				a.startErr = fmt.Errorf("startup hook failed: %w", err)
				return
			}
		}
		a.logger.Info("Application started", zap.Int("tasks", len(tasks)))
	})
	return a.startErr
}

// Serve listens on addr (the configured r2e.server.addr when empty) and
// serves until ctx ends, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx ends.
func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	if err := a.Start(ctx); err != nil {
		ln.Close()
		_ = a.Shutdown(context.Background())
		return err
	}

	srv := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting server", zap.String("address", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("Server failed", zap.Error(err))
			_ = a.Shutdown(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Run serves until SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx, "")
}

// Shutdown cancels scheduled tasks, drains in-flight requests, then runs
// the stop hooks and the deferred shutdown actions. Only the first call
// has an effect.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.logger.Info("Shutting down")
		a.token.Cancel()

		var errs []error
		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				a.logger.Error("Server shutdown error", zap.Error(err))
				errs = append(errs, err)
			}
		}

		for _, hook := range a.lifecycle.StopHooks() {
			if err := hook(ctx); err != nil {
				a.logger.Error("Shutdown hook failed", zap.Error(err))
				errs = append(errs, err)
			}
		}
		for _, action := range a.deferred {
			if action.OnShutdown != nil {
				action.OnShutdown()
			}
		}
		_ = a.logger.Sync()
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
