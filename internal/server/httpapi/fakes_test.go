package httpapi

import (
	"context"
	"strconv"
	"sync"

	"github.com/dmitrijs2005/freshkeeper/internal/common"
	"github.com/dmitrijs2005/freshkeeper/internal/server/inventory"
	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
	"github.com/dmitrijs2005/freshkeeper/internal/server/services"
)

type fakeUsers struct {
	regOut *models.User
	regErr error

	loginOut *services.Session
	loginErr error

	refreshOut *services.TokenPair
	refreshErr error

	changeErr    error
	changedID    *int64
	changedPass  string
	changeCalled bool

	addKeyErr error
	addedKey  [3]string

	tokens map[string]int64
}

func (f *fakeUsers) Register(_ context.Context, username, _ string) (*models.User, error) {
	if f.regErr != nil {
		return nil, f.regErr
	}
	if f.regOut != nil {
		return f.regOut, nil
	}
	return &models.User{ID: 1, UserName: username}, nil
}

func (f *fakeUsers) Login(context.Context, string, string) (*services.Session, error) {
	return f.loginOut, f.loginErr
}

func (f *fakeUsers) RefreshToken(context.Context, string) (*services.TokenPair, error) {
	return f.refreshOut, f.refreshErr
}

func (f *fakeUsers) ChangePassword(_ context.Context, userID *int64, newPassword string) error {
	f.changeCalled = true
	f.changedID = userID
	f.changedPass = newPassword
	if userID == nil {
		return common.ErrorNoUserID
	}
	return f.changeErr
}

func (f *fakeUsers) AddSecretKey(_ context.Context, userID int64, provider, secretKey string) error {
	f.addedKey = [3]string{strconv.FormatInt(userID, 10), provider, secretKey}
	return f.addKeyErr
}

func (f *fakeUsers) VerifyAccessToken(token string) (int64, error) {
	if token == "expired" {
		return 0, common.ErrTokenExpired
	}
	id, ok := f.tokens[token]
	if !ok {
		return 0, common.ErrInvalidToken
	}
	return id, nil
}

type fakeFoods struct {
	mu sync.Mutex

	items  []*models.FoodItem
	addIn  services.NewFoodInput
	addErr error

	listErr     error
	listedUser  int64
	searchQuery string
	expiredCall bool

	deleteErr     error
	deletedUser   int64
	deletedID     int64
	deletedByName string

	recOut    models.Recognition
	recErr    error
	recUser   *int64
	recImage  []byte
	recName   string
	recPanics bool
}

func (f *fakeFoods) Add(_ context.Context, in services.NewFoodInput) (*models.FoodItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addIn = in
	if f.addErr != nil {
		return nil, f.addErr
	}
	p, err := inventory.ParseDate(in.ProductionDate)
	if err != nil {
		return nil, err
	}
	n, err := inventory.ParseShelfLife(in.ShelfLife)
	if err != nil {
		return nil, err
	}
	exp, _ := inventory.ComputeExpiration(p, n)
	item := &models.FoodItem{
		ID: 10, UserID: in.UserID, Name: in.Name, Label: in.Label,
		ProductionDate: p, ShelfLifeDays: n, ExpirationDate: exp,
		DaysLeft: 3, Status: inventory.StatusActive,
	}
	return item, nil
}

func (f *fakeFoods) List(_ context.Context, userID int64) ([]*models.FoodItem, error) {
	f.listedUser = userID
	return f.items, f.listErr
}

func (f *fakeFoods) ListExpired(_ context.Context, userID int64) ([]*models.FoodItem, error) {
	f.listedUser = userID
	f.expiredCall = true
	return f.items, f.listErr
}

func (f *fakeFoods) Search(_ context.Context, userID int64, query string) ([]*models.FoodItem, error) {
	f.listedUser = userID
	f.searchQuery = query
	return f.items, f.listErr
}

func (f *fakeFoods) Delete(_ context.Context, userID, id int64) error {
	f.deletedUser, f.deletedID = userID, id
	return f.deleteErr
}

func (f *fakeFoods) DeleteByName(_ context.Context, userID int64, name string) (int, error) {
	f.deletedUser, f.deletedByName = userID, name
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return 1, nil
}

func (f *fakeFoods) Recognize(_ context.Context, userID *int64, image []byte, filename string) (models.Recognition, error) {
	if f.recPanics {
		panic("recognizer exploded")
	}
	f.recUser, f.recImage, f.recName = userID, image, filename
	return f.recOut, f.recErr
}
