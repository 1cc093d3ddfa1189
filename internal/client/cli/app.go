// Package cli implements the freshkeeper command-line client on top of
// cobra. Every command talks to the server through the api package; the
// login is kept in a local session store between runs.
package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dmitrijs2005/freshkeeper/internal/client/api"
	"github.com/dmitrijs2005/freshkeeper/internal/client/config"
	"github.com/dmitrijs2005/freshkeeper/internal/client/session"
)

var errNotLoggedIn = errors.New("not logged in, run 'freshkeeper login' first")

type sessionStore interface {
	Load(ctx context.Context) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	UpdateTokens(ctx context.Context, access, refresh string) error
	Clear(ctx context.Context) error
	Close() error
}

// openStore is a seam for tests.
var openStore = func(ctx context.Context, dir string) (sessionStore, error) {
	return session.Open(ctx, dir)
}

// App is the state shared by all commands of one invocation.
type App struct {
	cfg    *config.Config
	in     *bufio.Reader
	out    io.Writer
	store  sessionStore
	client *api.Client
	sess   *session.Session
}

func newApp(in io.Reader, out io.Writer) *App {
	return &App{in: bufio.NewReader(in), out: out}
}

// open prepares the store and the API client once flags are parsed.
func (a *App) open(ctx context.Context, cfg *config.Config) error {
	a.cfg = cfg
	store, err := openStore(ctx, cfg.StateDir)
	if err != nil {
		return err
	}
	a.store = store

	sess, err := store.Load(ctx)
	if err != nil {
		return err
	}
	a.sess = sess

	a.client = api.New(cfg.ServerURL, &http.Client{Timeout: cfg.Timeout})
	if sess != nil {
		a.client.SetTokens(api.Tokens{AccessToken: sess.AccessToken, RefreshToken: sess.RefreshToken}, func(t api.Tokens) error {
			a.sess.AccessToken, a.sess.RefreshToken = t.AccessToken, t.RefreshToken
			return store.UpdateTokens(context.Background(), t.AccessToken, t.RefreshToken)
		})
	}
	return nil
}

func (a *App) close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *App) requireLogin() (*session.Session, error) {
	if a.sess == nil || a.sess.UserID == 0 {
		return nil, errNotLoggedIn
	}
	return a.sess, nil
}

// prompt returns value when set and asks for it otherwise.
func (a *App) prompt(value, label string) (string, error) {
	if value != "" {
		return value, nil
	}
	return GetSimpleText(a.in, label, a.out)
}
