// Package httpapi exposes the services as a JSON API over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/logging"
	"github.com/dmitrijs2005/freshkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
	"github.com/dmitrijs2005/freshkeeper/internal/server/services"
	"github.com/gorilla/mux"
)

// UserService is the account side used by the handlers.
type UserService interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (*services.Session, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	ChangePassword(ctx context.Context, userID *int64, newPassword string) error
	AddSecretKey(ctx context.Context, userID int64, provider, secretKey string) error
	VerifyAccessToken(token string) (int64, error)
}

// FoodService is the inventory side used by the handlers.
type FoodService interface {
	Add(ctx context.Context, in services.NewFoodInput) (*models.FoodItem, error)
	List(ctx context.Context, userID int64) ([]*models.FoodItem, error)
	ListExpired(ctx context.Context, userID int64) ([]*models.FoodItem, error)
	Search(ctx context.Context, userID int64, query string) ([]*models.FoodItem, error)
	Delete(ctx context.Context, userID, id int64) error
	DeleteByName(ctx context.Context, userID int64, name string) (int, error)
	Recognize(ctx context.Context, userID *int64, image []byte, filename string) (models.Recognition, error)
}

type Options struct {
	Address         string
	AuthRequired    bool
	MaxUploadBytes  int64
	RateLimit       float64
	RateBurst       int
	ShutdownTimeout time.Duration
	// StaticDir, when set, is served under StaticPrefix. It backs the local
	// image store.
	StaticDir    string
	StaticPrefix string
}

type Server struct {
	opts    Options
	users   UserService
	foods   FoodService
	limiter *rateLimiter
	logger  logging.Logger
}

func NewServer(opts Options, users UserService, foods FoodService, l logging.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	logger := l.With("module", "http_server")
	return &Server{
		opts:    opts,
		users:   users,
		foods:   foods,
		limiter: newRateLimiter(opts.RateLimit, opts.RateBurst, logger),
		logger:  logger,
	}
}

// Handler builds the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	// Match on the escaped path so an encoded '/' stays inside {name}.
	r := mux.NewRouter().UseEncodedPath()
	r.Use(s.logRequests, metrics.InstrumentHandler, s.recoverPanics, securityHeaders)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	if s.opts.StaticDir != "" && s.opts.StaticPrefix != "" {
		prefix := "/" + trimSlashes(s.opts.StaticPrefix) + "/"
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(http.Dir(s.opts.StaticDir)))).
			Methods(http.MethodGet, http.MethodHead)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.limiter.Handler, s.authenticate)

	api.HandleFunc("/register", s.register).Methods(http.MethodPost)
	api.HandleFunc("/login", s.login).Methods(http.MethodPost)
	api.HandleFunc("/refresh-token", s.refreshToken).Methods(http.MethodPost)
	api.HandleFunc("/change-password", s.changePassword).Methods(http.MethodPost)
	api.HandleFunc("/add-secret-key", s.addSecretKey).Methods(http.MethodPost)
	api.HandleFunc("/recognize-food", s.recognizeFood).Methods(http.MethodPost)

	api.HandleFunc("/foods", s.listFoods).Methods(http.MethodGet)
	api.HandleFunc("/foods", s.addFood).Methods(http.MethodPost)
	api.HandleFunc("/foods/expired", s.listExpiredFoods).Methods(http.MethodGet)
	api.HandleFunc("/foods/search", s.searchFoods).Methods(http.MethodGet)
	api.HandleFunc("/foods/by-name/{name}", s.deleteFoodsByName).Methods(http.MethodDelete)
	api.HandleFunc("/foods/{id}", s.deleteFood).Methods(http.MethodDelete)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.limiter.evictIdle(ctx, time.Minute, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", s.opts.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
