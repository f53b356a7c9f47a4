package admin

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aidesk-labs/kbengine/internal/api/handlers"
	"github.com/aidesk-labs/kbengine/internal/database"
	"github.com/aidesk-labs/kbengine/internal/server"
	"github.com/aidesk-labs/kbengine/internal/service"
	"github.com/aidesk-labs/kbengine/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the knowledge base API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("migrations", "migrations", "Path to migration files")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Migrations must run before bootstrap probes for pgvector.
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	migrationsPath, _ := cmd.Flags().GetString("migrations")

	d, err := bootstrapServe(ctx, noMigrate, migrationsPath)
	if err != nil {
		return err
	}
	defer d.close()
	cfg := d.cfg

	if cfg.SentryDSN != "" {
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			d.logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	scoring := scoringFromConfig(cfg)
	ingestSvc := service.NewIngestService(d.repo, d.embedder, d.logger)
	searchSvc := service.NewSearchService(d.repo, d.embedder, d.backend, scoring, d.logger)
	lifecycleSvc := service.NewLifecycleService(d.repo, d.embedder, d.logger)

	router := server.NewRouter(server.RouterConfig{
		KBHandler: handlers.NewKBHandler(ingestSvc, searchSvc, lifecycleSvc),
		Logger:    d.logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	d.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	d.logger.Info("server exited")
	return nil
}

// bootstrapServe runs migrations between config load and the pgvector
// probe, so a fresh database resolves the right backend on first start.
func bootstrapServe(ctx context.Context, noMigrate bool, migrationsPath string) (*deps, error) {
	if !noMigrate {
		cfg, err := loadForMigrations()
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(cfg.DatabaseURL, migrationsPath); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return bootstrap(ctx)
}
