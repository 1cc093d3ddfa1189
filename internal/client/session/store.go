// Package session keeps the CLI login between invocations in a small local
// SQLite key/value table.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dmitrijs2005/freshkeeper/internal/client/session/migrations"
	"github.com/dmitrijs2005/freshkeeper/internal/dbx"
	"github.com/dmitrijs2005/freshkeeper/internal/filex"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const (
	keyUserID       = "user_id"
	keyUsername     = "username"
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
)

// Session is the logged-in state of the CLI.
type Session struct {
	UserID       int64
	Username     string
	AccessToken  string
	RefreshToken string
}

type Store struct {
	db *sql.DB
}

// Open creates the database file below dir if needed and migrates it.
func Open(ctx context.Context, dir string) (*Store, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(abs, "session.db"))
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the saved session, or nil when nobody is logged in.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	kv := newKV(s.db)
	values, err := kv.list(ctx)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	sess := &Session{
		Username:     string(values[keyUsername]),
		AccessToken:  string(values[keyAccessToken]),
		RefreshToken: string(values[keyRefreshToken]),
	}
	if raw := values[keyUserID]; len(raw) > 0 {
		id, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt session user id %q", raw)
		}
		sess.UserID = id
	}
	return sess, nil
}

// Save replaces the stored session atomically.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		kv := newKV(tx)
		if err := kv.clear(ctx); err != nil {
			return err
		}
		for k, v := range map[string]string{
			keyUserID:       strconv.FormatInt(sess.UserID, 10),
			keyUsername:     sess.Username,
			keyAccessToken:  sess.AccessToken,
			keyRefreshToken: sess.RefreshToken,
		} {
			if err := kv.set(ctx, k, []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateTokens stores a rotated token pair and keeps the identity.
func (s *Store) UpdateTokens(ctx context.Context, access, refresh string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		kv := newKV(tx)
		if err := kv.set(ctx, keyAccessToken, []byte(access)); err != nil {
			return err
		}
		return kv.set(ctx, keyRefreshToken, []byte(refresh))
	})
}

// Clear logs out.
func (s *Store) Clear(ctx context.Context) error {
	return newKV(s.db).clear(ctx)
}
