package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/freshkeeper/internal/client/api"
	"github.com/dmitrijs2005/freshkeeper/internal/client/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	sess   *session.Session
	closed bool
}

func (m *memStore) Load(context.Context) (*session.Session, error) {
	if m.sess == nil {
		return nil, nil
	}
	cp := *m.sess
	return &cp, nil
}

func (m *memStore) Save(_ context.Context, s *session.Session) error {
	cp := *s
	m.sess = &cp
	return nil
}

func (m *memStore) UpdateTokens(_ context.Context, access, refresh string) error {
	if m.sess == nil {
		return errors.New("no session")
	}
	m.sess.AccessToken, m.sess.RefreshToken = access, refresh
	return nil
}

func (m *memStore) Clear(context.Context) error {
	m.sess = nil
	return nil
}

func (m *memStore) Close() error {
	m.closed = true
	return nil
}

func useStore(t *testing.T, s *memStore) {
	t.Helper()
	orig := openStore
	openStore = func(context.Context, string) (sessionStore, error) { return s, nil }
	t.Cleanup(func() { openStore = orig })
}

func usePasswords(t *testing.T, pw ...string) {
	t.Helper()
	orig := readPassword
	readPassword = func(int) ([]byte, error) {
		if len(pw) == 0 {
			return nil, errors.New("no more passwords")
		}
		next := pw[0]
		pw = pw[1:]
		return []byte(next), nil
	}
	t.Cleanup(func() { readPassword = orig })
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func run(t *testing.T, srv *httptest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	full := append([]string{"--server", srv.URL, "--state-dir", t.TempDir()}, args...)
	err := Execute(context.Background(), full, strings.NewReader(stdin), &out)
	return out.String(), err
}

func loggedIn() *memStore {
	return &memStore{sess: &session.Session{UserID: 3, Username: "alice", AccessToken: "a", RefreshToken: "r"}}
}

func TestLoginSavesSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["username"] != "alice" || in["password"] != "pw" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, api.LoginResult{ID: 3, Username: "alice", AccessToken: "a", RefreshToken: "r"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memStore{}
	useStore(t, store)
	usePasswords(t, "pw")

	out, err := run(t, srv, "alice\n", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Username: ")
	assert.Contains(t, out, "Logged in as alice.")
	require.NotNil(t, store.sess)
	assert.Equal(t, int64(3), store.sess.UserID)
	assert.Equal(t, "r", store.sess.RefreshToken)
	assert.True(t, store.closed)
}

func TestLoginWrongPassword(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memStore{}
	useStore(t, store)
	usePasswords(t, "bad")

	_, err := run(t, srv, "", "login", "alice")
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusUnauthorized))
	assert.Nil(t, store.sess)
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, api.User{ID: 7, Username: "bob"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	useStore(t, &memStore{})
	usePasswords(t, "pw")

	out, err := run(t, srv, "", "register", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered bob (id 7)")
}

func TestCommandsRequireLogin(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	useStore(t, &memStore{})

	for _, args := range [][]string{
		{"list"},
		{"add", "-n", "Milk", "-d", "2024-03-01", "-l", "7"},
		{"delete", "1"},
		{"passwd"},
		{"secret", "kimi"},
	} {
		_, err := run(t, srv, "", args...)
		assert.ErrorIs(t, err, errNotLoggedIn, args)
	}
}

func TestListVariants(t *testing.T) {
	var hits []string
	foods := []api.Food{
		{ID: 2, Name: "Yogurt", ExpirationDate: "2024-03-12", DaysLeft: 2, Status: "active"},
		{ID: 1, Name: "Milk", Label: "fridge", ExpirationDate: "2024-03-20", DaysLeft: 10, Status: "active"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/foods", func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, "all:"+r.URL.Query().Get("userId"))
		writeJSON(w, http.StatusOK, foods)
	})
	mux.HandleFunc("GET /api/foods/expired", func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, "expired")
		writeJSON(w, http.StatusOK, []api.Food{})
	})
	mux.HandleFunc("GET /api/foods/search", func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, "search:"+r.URL.Query().Get("query"))
		writeJSON(w, http.StatusOK, foods[1:])
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	useStore(t, loggedIn())

	out, err := run(t, srv, "", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "Yogurt")
	assert.Contains(t, lines[2], "fridge")

	out, err = run(t, srv, "", "list", "--expired")
	require.NoError(t, err)
	assert.Equal(t, "No food items.\n", out)

	out, err = run(t, srv, "", "ls", "--search", "mil")
	require.NoError(t, err)
	assert.Contains(t, out, "Milk")
	assert.NotContains(t, out, "Yogurt")

	assert.Equal(t, []string{"all:3", "expired", "search:mil"}, hits)

	_, err = run(t, srv, "", "list", "--expired", "--search", "x")
	assert.Error(t, err)
}

func TestAddPromptsForMissingFields(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/foods", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusCreated, api.Food{ID: 5, Name: "Milk", ExpirationDate: "2024-03-08", DaysLeft: -2})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	useStore(t, loggedIn())

	out, err := run(t, srv, "2024-03-01\n7\n", "add", "--name", "Milk", "--label", "fridge")
	require.NoError(t, err)
	assert.Contains(t, out, "Production date (YYYY-MM-DD): ")
	assert.Contains(t, out, "Added Milk (id 5), expires 2024-03-08, -2 days left.")

	assert.Equal(t, "Milk", got["name"])
	assert.Equal(t, "2024-03-01", got["productionDate"])
	assert.Equal(t, float64(7), got["shelfLife"])
	assert.Equal(t, "fridge", got["label"])
	assert.Equal(t, float64(3), got["userId"])
}

func TestAddRejectsBadShelfLife(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	useStore(t, loggedIn())

	_, err := run(t, srv, "", "add", "-n", "Milk", "-d", "2024-03-01", "-l", "week")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whole number of days")
}

func TestAddFillsFieldsFromPhoto(t *testing.T) {
	var fields map[string]string
	var imageSize int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/recognize-food", func(w http.ResponseWriter, r *http.Request) {
		name, date := "Kefir", "2024-03-05"
		writeJSON(w, http.StatusOK, api.Recognition{Name: &name, ProductionDate: &date})
	})
	mux.HandleFunc("POST /api/foods", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		if fh := r.MultipartForm.File["image"]; len(fh) == 1 {
			imageSize = int(fh[0].Size)
		}
		writeJSON(w, http.StatusCreated, api.Food{ID: 9, Name: fields["name"]})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	useStore(t, loggedIn())

	img := filepath.Join(t.TempDir(), "kefir.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpegdata"), 0o600))

	// shelf life was not recognized, so it is prompted
	out, err := run(t, srv, "10\n", "add", "--image", img)
	require.NoError(t, err)
	assert.Contains(t, out, "Shelf life (days): ")
	assert.NotContains(t, out, "Name: ")
	assert.Equal(t, "Kefir", fields["name"])
	assert.Equal(t, "2024-03-05", fields["productionDate"])
	assert.Equal(t, "10", fields["shelfLife"])
	assert.Equal(t, len("jpegdata"), imageSize)
}

func TestDelete(t *testing.T) {
	var hits []string
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/foods/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "404" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "food item not found"})
			return
		}
		hits = append(hits, "id:"+r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /api/foods/by-name/{name}", func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, "name:"+r.PathValue("name"))
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	useStore(t, loggedIn())

	out, err := run(t, srv, "", "delete", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted item 12.")

	out, err = run(t, srv, "", "delete", "--name", "Green tea")
	require.NoError(t, err)
	assert.Contains(t, out, `Deleted all items named "Green tea".`)

	_, err = run(t, srv, "", "delete", "404")
	assert.True(t, api.IsStatus(err, http.StatusNotFound))

	_, err = run(t, srv, "", "delete")
	assert.Error(t, err)
	_, err = run(t, srv, "", "delete", "abc")
	assert.Error(t, err)
	_, err = run(t, srv, "", "delete", "1", "--name", "x")
	assert.Error(t, err)

	assert.Equal(t, []string{"id:12", "name:Green tea"}, hits)
}

func TestRecognizeWithoutLogin(t *testing.T) {
	var userID string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/recognize-food", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		userID = r.FormValue("user_id")
		name := "Cheese"
		writeJSON(w, http.StatusOK, api.Recognition{Name: &name})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	useStore(t, &memStore{})

	img := filepath.Join(t.TempDir(), "cheese.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0o600))

	out, err := run(t, srv, "", "recognize", img)
	require.NoError(t, err)
	assert.Empty(t, userID)
	assert.Contains(t, out, "Name:            Cheese")
	assert.Contains(t, out, "Production date: unknown")
	assert.Contains(t, out, "Shelf life:      unknown")
}

func TestPasswd(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/change-password", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	useStore(t, loggedIn())

	usePasswords(t, "one", "two")
	_, err := run(t, srv, "", "passwd")
	require.EqualError(t, err, "passwords do not match")
	assert.Nil(t, got)

	usePasswords(t, "new", "new")
	out, err := run(t, srv, "", "passwd")
	require.NoError(t, err)
	assert.Contains(t, out, "Password changed.")
	assert.Equal(t, "new", got["newPassword"])
}

func TestSecretKey(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/add-secret-key", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	useStore(t, loggedIn())
	usePasswords(t, "sk-123")

	out, err := run(t, srv, "", "secret", "kimi")
	require.NoError(t, err)
	assert.Contains(t, out, "Key for kimi saved.")
	assert.Equal(t, "kimi", got["provider"])
	assert.Equal(t, "sk-123", got["secretKey"])
}

func TestExpiredAccessTokenIsRefreshedAndStored(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/foods", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer a2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, []api.Food{})
	})
	mux.HandleFunc("POST /api/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.Tokens{AccessToken: "a2", RefreshToken: "r2"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := loggedIn()
	useStore(t, store)

	_, err := run(t, srv, "", "list")
	require.NoError(t, err)
	assert.Equal(t, "a2", store.sess.AccessToken)
	assert.Equal(t, "r2", store.sess.RefreshToken)
}

func TestLogout(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	store := loggedIn()
	useStore(t, store)

	out, err := run(t, srv, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out.")
	assert.Nil(t, store.sess)
}
