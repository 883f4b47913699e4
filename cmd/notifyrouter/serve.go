package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/hostelhub/notifyrouter/internal/engine"
	"github.com/hostelhub/notifyrouter/internal/escalation"
	"github.com/hostelhub/notifyrouter/internal/shared/auth"
	"github.com/hostelhub/notifyrouter/internal/shared/metrics"
	secmiddleware "github.com/hostelhub/notifyrouter/internal/shared/middleware"
)

func serveCmd() *cobra.Command {
	var (
		memory     bool
		withTicker bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cmd.Flags().Changed("with-ticker") {
				cfg.Escalation.RunTicker = withTicker
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, log, appOptions{memory: memory})
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Snapshots.Refresh(ctx); err != nil {
				return fmt.Errorf("failed to load routing configuration: %w", err)
			}
			go app.Snapshots.Run(ctx)

			if cfg.Escalation.RunTicker {
				go app.Ticker.Run(ctx)
			}

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      newRouter(app),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				log.Infow("server listening",
					"port", cfg.Server.Port,
					"env", cfg.Server.Env,
					"ticker", cfg.Escalation.RunTicker,
					"storage", map[bool]string{true: "memory", false: "postgres"}[memory],
				)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
			log.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "keep routes and escalations in memory instead of PostgreSQL")
	cmd.Flags().BoolVar(&withTicker, "with-ticker", true, "run the escalation ticker in this process")
	return cmd
}

func newRouter(app *App) http.Handler {
	cfg := app.Config
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(app.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst))
	r.Use(metrics.Middleware)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	secured := cfg.Auth.Enabled || cfg.Server.Env == "production"
	guard := func(read, write auth.Permission) func(http.Handler) http.Handler {
		if !secured {
			return func(next http.Handler) http.Handler { return next }
		}
		return requireByMethod(read, write)
	}

	eventHandler := engine.NewHandler(app.Engine)
	escalationHandler := escalation.NewHandler(app.Escalations)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(secmiddleware.BodyLimit)
		if secured {
			r.Use(auth.Middleware(cfg.Auth))
		}

		r.With(guard(auth.PermEventSubmit, auth.PermEventSubmit)).Mount("/events", eventHandler.EventRoutes())
		r.With(guard(auth.PermRouteRead, auth.PermRouteRead)).Mount("/routes", eventHandler.RouteRoutes())
		r.With(guard(auth.PermEscalationRead, auth.PermEscalationResolve)).Mount("/escalations", escalationHandler.Routes())
	})

	return r
}

// requireByMethod checks read for safe methods and write for everything else
func requireByMethod(read, write auth.Permission) func(http.Handler) http.Handler {
	readCheck := auth.RequirePermission(read)
	writeCheck := auth.RequirePermission(write)
	return func(next http.Handler) http.Handler {
		readNext, writeNext := readCheck(next), writeCheck(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				readNext.ServeHTTP(w, r)
				return
			}
			writeNext.ServeHTTP(w, r)
		})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"server": "ready"}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if _, err := app.Snapshots.Current(r.Context()); err != nil {
			checks["routing_config"] = "not ready: " + err.Error()
		} else {
			checks["routing_config"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
