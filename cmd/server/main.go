/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commission engine server. Handles
  configuration, dependency injection, seeding, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Initialize structured logging
  3. Initialize SQLite store
  4. Seed default settings and the bootstrap operator if absent
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: commission.db, env DB_PATH)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/commission.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/jnavi/commission-engine/api"
	"github.com/jnavi/commission-engine/commission"
	"github.com/jnavi/commission-engine/engine"
	"github.com/jnavi/commission-engine/store/sqlite"
)

func main() {
	// .env is optional; flags override it.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "commission.db"), "SQLite database path")
	flag.Parse()

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := seed(context.Background(), store); err != nil {
		logger.Error("failed to seed database", "error", err)
		os.Exit(1)
	}

	eng := engine.New(store)
	eng.Log = logger

	router := api.NewRouter(api.NewHandler(eng))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", fmt.Sprintf("http://localhost:%d", *port), "db", *dbPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// seed writes the settings singleton and the bootstrap operator on
// first run. Existing rows are left untouched.
func seed(ctx context.Context, store commission.TxStore) error {
	return store.WithTx(ctx, func(s commission.Store) error {
		settings, err := s.GetSettings(ctx)
		if err != nil {
			return err
		}
		if settings == nil {
			if err := s.SaveSettings(ctx, commission.DefaultSettings()); err != nil {
				return err
			}
		}

		operatorID := envStr("OPERATOR_ID", "operator")
		u, err := s.GetUser(ctx, operatorID)
		if err != nil {
			return err
		}
		if u == nil {
			return s.SaveUser(ctx, commission.User{
				ID:        operatorID,
				Name:      envStr("OPERATOR_NAME", "Platform Operator"),
				Email:     envStr("OPERATOR_EMAIL", ""),
				Role:      commission.RoleOperator,
				CreatedAt: time.Now().UTC(),
			})
		}
		return nil
	})
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
