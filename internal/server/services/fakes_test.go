package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/common"
	"github.com/dmitrijs2005/freshkeeper/internal/dbx"
	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/foods"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/users"
)

type fakeUsersRepo struct {
	mu     sync.Mutex
	nextID int64
	byName map[string]*models.User
	err    error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byName: map[string]*models.User{}}
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.byName[u.UserName]; ok {
		return nil, common.ErrorAlreadyExists
	}
	f.nextID++
	c := *u
	c.ID = f.nextID
	c.SecretKeys = map[string]string{}
	c.CreatedAt = time.Now()
	f.byName[c.UserName] = &c
	return &c, nil
}

func (f *fakeUsersRepo) GetByUsername(_ context.Context, name string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byName[name]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u := f.find(id)
	if u == nil {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsersRepo) UpdatePassword(_ context.Context, id int64, hash []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u := f.find(id)
	if u == nil {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUsersRepo) SetSecretKey(_ context.Context, id int64, provider, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u := f.find(id)
	if u == nil {
		return common.ErrorNotFound
	}
	keys := make(map[string]string, len(u.SecretKeys)+1)
	for k, v := range u.SecretKeys {
		keys[k] = v
	}
	keys[provider] = value
	u.SecretKeys = keys
	return nil
}

func (f *fakeUsersRepo) find(id int64) *models.User {
	for _, u := range f.byName {
		if u.ID == id {
			return u
		}
	}
	return nil
}

type fakeRefreshRepo struct {
	findOut   *models.RefreshToken
	findErr   error
	delErr    error
	createErr error

	created []string
	deleted []string
	purged  int64
}

func (f *fakeRefreshRepo) Create(_ context.Context, _ int64, token string, _ time.Time) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, token)
	return nil
}

func (f *fakeRefreshRepo) Find(_ context.Context, _ string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.findOut, nil
}

func (f *fakeRefreshRepo) Delete(_ context.Context, token string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, token)
	return nil
}

func (f *fakeRefreshRepo) DeleteExpired(context.Context, time.Time) (int64, error) {
	return f.purged, nil
}

// fakeFoodsRepo mimics the owner-scoped statements of the postgres
// repository.
type fakeFoodsRepo struct {
	mu        sync.Mutex
	nextID    int64
	items     []*models.FoodItem
	createErr error
	listErr   error
	lastQuery models.FoodQuery
}

func (f *fakeFoodsRepo) Create(_ context.Context, item *models.FoodItem) (*models.FoodItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	c := *item
	c.ID = f.nextID
	c.CreatedAt = time.Now()
	f.items = append(f.items, &c)
	out := c
	return &out, nil
}

func (f *fakeFoodsRepo) List(_ context.Context, q models.FoodQuery) ([]*models.FoodItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []*models.FoodItem{}
	for _, it := range f.items {
		if it.UserID != q.UserID {
			continue
		}
		if q.NameContains != "" && !strings.Contains(strings.ToLower(it.Name), strings.ToLower(q.NameContains)) {
			continue
		}
		if !q.ExpiredBefore.IsZero() && !it.ExpirationDate.Before(q.ExpiredBefore) {
			continue
		}
		c := *it
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeFoodsRepo) Delete(_ context.Context, userID, id int64) (*models.FoodItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, it := range f.items {
		if it.ID == id && it.UserID == userID {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return it, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeFoodsRepo) DeleteByName(_ context.Context, userID int64, name string) ([]*models.FoodItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept, removed []*models.FoodItem
	for _, it := range f.items {
		if it.UserID == userID && it.Name == name {
			removed = append(removed, it)
		} else {
			kept = append(kept, it)
		}
	}
	if len(removed) == 0 {
		return nil, common.ErrorNotFound
	}
	f.items = kept
	return removed, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	f *fakeFoodsRepo
	r *fakeRefreshRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository { return m.u }

func (m *fakeRepoManager) Foods(dbx.DBTX) foods.Repository { return m.f }

func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.r }

type fakeImageStore struct {
	saved   map[string][]byte
	deleted []string
	saveErr error
	n       int
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{saved: map[string][]byte{}}
}

func (s *fakeImageStore) Save(_ context.Context, userID int64, data []byte) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.n++
	key := fmt.Sprintf("users/%d/img%d.jpg", userID, s.n)
	s.saved[key] = data
	return key, nil
}

func (s *fakeImageStore) Delete(_ context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	delete(s.saved, key)
	return nil
}

func (s *fakeImageStore) URL(_ context.Context, key string) (string, error) {
	return "http://img.test/" + key, nil
}

type fakeRecognizer struct {
	out     models.Recognition
	gotKey  string
	gotName string
	calls   int
}

func (r *fakeRecognizer) Recognize(_ context.Context, _ []byte, filename, apiKey string) models.Recognition {
	r.calls++
	r.gotKey = apiKey
	r.gotName = filename
	return r.out
}

type fakeKeys struct {
	keys map[int64]string
	err  error
}

func (k fakeKeys) SecretKey(_ context.Context, userID int64, _ string) (string, error) {
	if k.err != nil {
		return "", k.err
	}
	v, ok := k.keys[userID]
	if !ok {
		return "", common.ErrorNotFound
	}
	return v, nil
}
