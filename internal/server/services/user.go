// Package services contains the server's business logic. UserService owns
// accounts, credentials and tokens; FoodService owns the inventory.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/common"
	"github.com/dmitrijs2005/freshkeeper/internal/cryptox"
	"github.com/dmitrijs2005/freshkeeper/internal/dbx"
	"github.com/dmitrijs2005/freshkeeper/internal/logging"
	"github.com/dmitrijs2005/freshkeeper/internal/server/auth"
	"github.com/dmitrijs2005/freshkeeper/internal/server/config"
	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

// secretKeySalt separates the provider-key encryption key from other uses
// of the server secret.
var secretKeySalt = []byte("freshkeeper/provider-keys")

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Session is what a successful login returns.
type Session struct {
	User   *models.User
	Tokens *TokenPair
}

type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	sealer                       *cryptox.Sealer
	bcryptCost                   int
	logger                       logging.Logger
	now                          func() time.Time
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) (*UserService, error) {
	sealer, err := cryptox.NewSealer(cryptox.DeriveKey([]byte(cfg.SecretKey), secretKeySalt))
	if err != nil {
		return nil, fmt.Errorf("secret key sealer: %w", err)
	}
	return &UserService{
		db:                           db,
		repomanager:                  m,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		sealer:                       sealer,
		bcryptCost:                   bcrypt.DefaultCost,
		logger:                       logger.With("module", "user_service"),
		now:                          time.Now,
	}, nil
}

// Register creates an account. Usernames are case-sensitive and unique.
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", common.ErrorValidation)
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	u, err := s.repomanager.Users(s.db).Create(ctx, &models.User{UserName: username, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			s.logger.Warn(ctx, "registration failed: username taken", "username", username)
			return nil, fmt.Errorf("username %q: %w", username, common.ErrorAlreadyExists)
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", u.ID, "username", username)
	return u, nil
}

// Authenticate checks the credentials. Unknown user and wrong password are
// indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "login failed", "username", username)
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		s.logger.Warn(ctx, "login failed", "username", username)
		return nil, common.ErrorUnauthorized
	}
	return user, nil
}

// Login authenticates and mints a token pair.
func (s *UserService) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	pair, err := s.generateTokenPair(ctx, user.ID, s.db)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "user logged in", "user_id", user.ID)
	return &Session{User: user, Tokens: pair}, nil
}

// ChangePassword replaces the password of an existing user. A nil userID is
// common.ErrorNoUserID, which callers report differently from not found.
func (s *UserService) ChangePassword(ctx context.Context, userID *int64, newPassword string) error {
	if userID == nil {
		s.logger.Error(ctx, "password change without user id")
		return common.ErrorNoUserID
	}
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", common.ErrorValidation)
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.repomanager.Users(s.db).UpdatePassword(ctx, *userID, hash); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "password change for unknown user", "user_id", *userID)
			return common.ErrorNotFound
		}
		return fmt.Errorf("error updating password: %w", err)
	}

	s.logger.Info(ctx, "password changed", "user_id", *userID)
	return nil
}

// AddSecretKey stores the user's own key for provider, replacing an older
// one. The key is encrypted before it reaches the database.
func (s *UserService) AddSecretKey(ctx context.Context, userID int64, provider, secretKey string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" || secretKey == "" {
		return fmt.Errorf("%w: provider and secretKey are required", common.ErrorValidation)
	}

	if err := s.repomanager.Users(s.db).SetSecretKey(ctx, userID, provider, s.sealer.Seal(secretKey)); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "secret key for unknown user", "user_id", userID)
			return common.ErrorNotFound
		}
		return fmt.Errorf("error storing secret key: %w", err)
	}

	s.logger.Info(ctx, "secret key stored", "user_id", userID, "provider", provider)
	return nil
}

// SecretKey returns the decrypted key of userID for provider, or
// common.ErrorNotFound when the user or the key does not exist.
func (s *UserService) SecretKey(ctx context.Context, userID int64, provider string) (string, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	sealed, ok := user.SecretKey(provider)
	if !ok {
		return "", common.ErrorNotFound
	}
	key, err := s.sealer.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	return key, nil
}

// RefreshToken validates a refresh token, rotates it in a transaction and
// returns a fresh TokenPair.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	token, err := s.repomanager.RefreshTokens(s.db).Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.Expires.Before(s.now()) {
		return nil, common.ErrRefreshTokenExpired
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.RefreshTokens(tx).Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, token.UserID, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// VerifyAccessToken returns the user id carried by a valid access token.
func (s *UserService) VerifyAccessToken(token string) (int64, error) {
	return auth.GetUserIDFromToken(token, s.jwtSecret)
}

// PurgeExpiredTokens removes refresh tokens that can no longer be used.
func (s *UserService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	return s.repomanager.RefreshTokens(s.db).DeleteExpired(ctx, s.now())
}

func (s *UserService) hash(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: password is too long", common.ErrorValidation)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	return hash, nil
}

func (s *UserService) generateTokenPair(ctx context.Context, userID int64, tx dbx.DBTX) (*TokenPair, error) {
	access, err := auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}
	expires := s.now().Add(s.refreshTokenValidityDuration)
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, userID, refresh, expires); err != nil {
		return nil, common.ErrorInternal
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
