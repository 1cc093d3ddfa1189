// Package server wires configuration, storage, services and the HTTP API
// together and runs them until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/logging"
	"github.com/dmitrijs2005/freshkeeper/internal/server/config"
	"github.com/dmitrijs2005/freshkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/freshkeeper/internal/server/imagestore"
	"github.com/dmitrijs2005/freshkeeper/internal/server/recognizer"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/freshkeeper/internal/server/services"
)

// uploadsPrefix is where the local image store is served.
const uploadsPrefix = "/uploads"

type App struct {
	config   *config.Config
	logger   logging.Logger
	closeLog func() error
	db       *sql.DB
	users    *services.UserService
	server   *httpapi.Server
}

var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	newRepoManager = repomanager.NewPostgresRepositoryManager
)

// NewApp opens the database, applies migrations and builds every component.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, closeLog, err := logging.NewFromConfig(c.LogFile, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	app, err := build(ctx, c, logger)
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	app.closeLog = closeLog
	return app, nil
}

func build(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := newRepoManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	us, err := services.NewUserService(db, rm, c, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	images, staticDir, err := newImageStore(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("image store: %w", err)
	}

	rec := recognizer.NewKimi(recognizer.Options{
		BaseURL: c.RecognizerBaseURL,
		Model:   c.RecognizerModel,
		Timeout: c.RecognizerTimeout,
		Retries: uint64(max(c.RecognizerRetries, 0)),
	}, logger)

	fs := services.NewFoodService(db, rm, services.FoodServiceOptions{
		Images:     images,
		Recognizer: rec,
		Keys:       us,
		Provider:   c.RecognizerProvider,
		DefaultKey: c.RecognizerAPIKey,
		MaxWidth:   c.ImageMaxWidth,
		Location:   loc,
	}, logger)

	srv := httpapi.NewServer(httpapi.Options{
		Address:         c.HTTPAddr,
		AuthRequired:    c.AuthRequired,
		MaxUploadBytes:  c.MaxUploadBytes,
		RateLimit:       c.RateLimit,
		RateBurst:       c.RateBurst,
		ShutdownTimeout: c.ShutdownTimeout,
		StaticDir:       staticDir,
		StaticPrefix:    uploadsPrefix,
	}, us, fs, logger)

	return &App{config: c, logger: logger, db: db, users: us, server: srv}, nil
}

// newImageStore picks the photo backend. staticDir is non-empty only for the
// local store, whose files the HTTP server serves itself.
func newImageStore(ctx context.Context, c *config.Config) (store imagestore.Store, staticDir string, err error) {
	switch c.ImageStore {
	case "", "none":
		return nil, "", nil
	case "local":
		ls, err := imagestore.NewLocalStore(c.UploadDir, uploadsPrefix)
		if err != nil {
			return nil, "", err
		}
		return ls, ls.Dir(), nil
	case "s3":
		s3s, err := imagestore.NewS3Store(ctx, imagestore.S3Options{
			User:         c.S3RootUser,
			Password:     c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
		})
		if err != nil {
			return nil, "", err
		}
		return s3s, "", nil
	default:
		return nil, "", fmt.Errorf("unknown image store %q", c.ImageStore)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// releases the database and the log file.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	if n, err := app.users.PurgeExpiredTokens(ctx); err != nil {
		app.logger.Warn(ctx, "purging expired refresh tokens failed", "error", err)
	} else if n > 0 {
		app.logger.Info(ctx, "purged expired refresh tokens", "count", n)
	}

	err := app.server.Run(ctx)
	if err != nil {
		app.logger.Error(ctx, "http server failed", "error", err)
	}

	app.logger.Info(ctx, "App stopped")
	return errors.Join(err, app.close())
}

func (app *App) close() error {
	var errs []error
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	if app.closeLog != nil {
		errs = append(errs, app.closeLog())
	}
	return errors.Join(errs...)
}

// startupTimeout bounds migrations and backend probing in main.
const startupTimeout = 30 * time.Second

// StartupContext returns a context for NewApp.
func StartupContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, startupTimeout)
}
