package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/studyflow/studyflow/internal/config"
	"github.com/studyflow/studyflow/internal/domain/study"
	"github.com/studyflow/studyflow/internal/domain/worklist"
	"github.com/studyflow/studyflow/internal/platform/auth"
	"github.com/studyflow/studyflow/internal/platform/blobstore"
	"github.com/studyflow/studyflow/internal/platform/cache"
	"github.com/studyflow/studyflow/internal/platform/db"
	"github.com/studyflow/studyflow/internal/platform/directory"
	"github.com/studyflow/studyflow/internal/platform/middleware"
	"github.com/studyflow/studyflow/migrations"
)

const (
	version = "0.1.0"
	// exportURLTTL is how long presigned export links stay valid.
	exportURLTTL = time.Hour
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "studyflow",
		Short:        "Radiology study workflow and turnaround-time engine",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationsFS returns the embedded migrations, or dir when one is given.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(c *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
		schema, _ := c.Flags().GetString("schema")
		dir, _ := c.Flags().GetString("dir")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := c.Context()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, migrationsFS(dir), schema))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(c *cobra.Command, args []string) error {
			target, _ := c.Flags().GetInt("to")
			return withMigrator(c, func(ctx context.Context, m *db.Migrator) error {
				fmt.Fprintf(c.OutOrStdout(), "Running migrations on schema: %s\n", m.Schema())
				count, err := m.UpTo(ctx, target)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(c.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies all)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(c *cobra.Command, args []string) error {
			return withMigrator(c, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Fprintf(c.OutOrStdout(), "Migration status for schema: %s\n", m.Schema())
				printMigrationStatus(c.OutOrStdout(), statuses)
				return nil
			})
		},
	}

	for _, sub := range []*cobra.Command{upCmd, statusCmd} {
		sub.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
		sub.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
		cmd.AddCommand(sub)
	}
	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// app holds the services shared by the server and the CLI commands.
type app struct {
	pool     *pgxpool.Pool
	studies  *study.Service
	worklist *worklist.Service
	exporter *worklist.Exporter
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newDirectory(cfg *config.Config, pool *pgxpool.Pool) study.Directory {
	if cfg.DirectoryURL != "" {
		return directory.NewHTTPDirectory(cfg.DirectoryURL, cfg.DirectoryToken, cfg.DirectoryTimeout)
	}
	return directory.NewPGDirectory(pool)
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{pool: pool, closers: []func(){pool.Close}}
	logger.Info().Msg("connected to database")

	var (
		summaries worklist.SummaryCache
		locker    worklist.Locker
	)
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		if cfg.CacheEnabled() {
			summaries = cache.NewJSONStore(client, "studyflow:summary", cfg.SummaryCacheTTL, config.MaxSummaryCacheTTL)
			logger.Info().Dur("ttl", cfg.SummaryCacheTTL).Msg("worklist summary cache enabled")
		}
		locker = cache.NewLocker(client, "studyflow")
	}

	a.studies = study.NewService(study.NewStudyRepoPG(pool), newDirectory(cfg, pool))
	a.worklist = worklist.NewService(worklist.NewRepoPG(pool), summaries, logger)

	if cfg.ExportsEnabled() {
		partSize, err := cfg.PartSizeBytes()
		if err != nil {
			a.Close()
			return nil, err
		}
		store, err := blobstore.NewMinioBlobStore(blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PartSize:  partSize,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.exporter = worklist.NewExporter(a.worklist, store, locker, cfg.ExportLockTTL, exportURLTTL, logger)
		logger.Info().Str("bucket", cfg.MinioBucket).Msg("worklist exports to object storage enabled")
	}
	return a, nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthJWKSURL == "" && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

func newServer(cfg *config.Config, a *app, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.IngestBodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.PoolHealthHandler(a.pool))

	// Streamed CSV downloads are bounded by the client, not the timeout.
	api := e.Group("/api/v1",
		middleware.RequestTimeout(cfg.RequestTimeout, ".csv"),
		authMiddleware(cfg),
		middleware.Audit(logger),
	)
	study.NewHandler(a.studies).RegisterRoutes(api)
	worklist.NewHandler(a.worklist, a.exporter, logger).RegisterRoutes(api)
	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	e := newServer(cfg, a, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
