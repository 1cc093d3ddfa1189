// Package api is a typed client for the FreshKeeper JSON API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/dmitrijs2005/freshkeeper/internal/common"
	"github.com/dmitrijs2005/freshkeeper/internal/netx"
)

// Error is a non-2xx answer from the server.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// IsStatus reports whether err is an *Error with the given status.
func IsStatus(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == status
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type LoginResult struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type Food struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"userId"`
	Name           string `json:"name"`
	Label          string `json:"label,omitempty"`
	ImagePath      string `json:"imagePath,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
	ProductionDate string `json:"productionDate"`
	ShelfLife      int    `json:"shelfLife"`
	ExpirationDate string `json:"expirationDate"`
	DaysLeft       int    `json:"daysLeft"`
	Status         string `json:"status"`
}

type NewFood struct {
	Name           string
	ProductionDate string
	ShelfLife      int
	Label          string
	// Image is optional; when set the request is sent as multipart.
	Image     []byte
	ImageName string
}

type Recognition struct {
	Name           *string `json:"name"`
	ProductionDate *string `json:"productionDate"`
	ShelfLife      *int    `json:"shelfLife"`
}

// Client talks to one server. Once tokens are set it sends the access token
// and, on a 401, rotates it once through the refresh token.
type Client struct {
	base string
	http *http.Client

	mu        sync.Mutex
	tokens    Tokens
	onRefresh func(Tokens) error
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// SetTokens installs credentials. onRefresh, if not nil, is called with
// every rotated pair so the caller can persist it.
func (c *Client) SetTokens(t Tokens, onRefresh func(Tokens) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = t
	c.onRefresh = onRefresh
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens.AccessToken
}

func (c *Client) Register(ctx context.Context, username, password string) (*User, error) {
	var out User
	err := c.sendJSON(ctx, http.MethodPost, "/api/register", nil, map[string]string{
		"username": username, "password": password,
	}, &out, false)
	return &out, err
}

func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	err := c.sendJSON(ctx, http.MethodPost, "/api/login", nil, map[string]string{
		"username": username, "password": password,
	}, &out, false)
	return &out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	var out Tokens
	err := c.sendJSON(ctx, http.MethodPost, "/api/refresh-token", nil, map[string]string{
		"refreshToken": refreshToken,
	}, &out, false)
	return &out, err
}

func (c *Client) ListFoods(ctx context.Context, userID int64) ([]Food, error) {
	var out []Food
	err := c.sendJSON(ctx, http.MethodGet, "/api/foods", userQuery(userID), nil, &out, true)
	return out, err
}

func (c *Client) ListExpired(ctx context.Context, userID int64) ([]Food, error) {
	var out []Food
	err := c.sendJSON(ctx, http.MethodGet, "/api/foods/expired", userQuery(userID), nil, &out, true)
	return out, err
}

func (c *Client) Search(ctx context.Context, userID int64, query string) ([]Food, error) {
	q := userQuery(userID)
	q.Set("query", query)
	var out []Food
	err := c.sendJSON(ctx, http.MethodGet, "/api/foods/search", q, nil, &out, true)
	return out, err
}

func (c *Client) AddFood(ctx context.Context, userID int64, f NewFood) (*Food, error) {
	var out Food
	if len(f.Image) == 0 {
		err := c.sendJSON(ctx, http.MethodPost, "/api/foods", nil, map[string]any{
			"userId":         userID,
			"name":           f.Name,
			"productionDate": f.ProductionDate,
			"shelfLife":      f.ShelfLife,
			"label":          f.Label,
		}, &out, true)
		return &out, err
	}

	fields := map[string]string{
		"userId":         strconv.FormatInt(userID, 10),
		"name":           f.Name,
		"productionDate": f.ProductionDate,
		"shelfLife":      strconv.Itoa(f.ShelfLife),
		"label":          f.Label,
	}
	file := &netx.FilePart{Field: "image", FileName: f.ImageName, Data: f.Image}
	err := c.sendMultipart(ctx, "/api/foods", fields, file, &out)
	return &out, err
}

func (c *Client) DeleteFood(ctx context.Context, userID, id int64) error {
	path := "/api/foods/" + strconv.FormatInt(id, 10)
	return c.sendJSON(ctx, http.MethodDelete, path, userQuery(userID), nil, nil, true)
}

func (c *Client) DeleteByName(ctx context.Context, userID int64, name string) error {
	path := "/api/foods/by-name/" + url.PathEscape(name)
	return c.sendJSON(ctx, http.MethodDelete, path, userQuery(userID), nil, nil, true)
}

func (c *Client) ChangePassword(ctx context.Context, userID int64, newPassword string) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/change-password", nil, map[string]any{
		"userId": userID, "newPassword": newPassword,
	}, nil, true)
}

func (c *Client) AddSecretKey(ctx context.Context, userID int64, provider, secretKey string) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/add-secret-key", nil, map[string]any{
		"userId": userID, "provider": provider, "secretKey": secretKey,
	}, nil, true)
}

// Recognize uploads a package photo. userID may be zero to use the server's
// default provider key.
func (c *Client) Recognize(ctx context.Context, userID int64, image []byte, filename string) (*Recognition, error) {
	fields := map[string]string{}
	if userID > 0 {
		fields["user_id"] = strconv.FormatInt(userID, 10)
	}
	var out Recognition
	err := c.sendMultipart(ctx, "/api/recognize-food", fields, &netx.FilePart{Field: "image", FileName: filename, Data: image}, &out)
	return &out, err
}

func userQuery(userID int64) url.Values {
	return url.Values{"userId": []string{strconv.FormatInt(userID, 10)}}
}

func (c *Client) sendJSON(ctx context.Context, method, path string, query url.Values, in, out any, authed bool) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = b
	}

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	return c.withRefresh(ctx, authed, func(token string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set(common.AuthorizationHeaderName, "Bearer "+token)
		}
		return netx.Do(c.http, req)
	}, out)
}

func (c *Client) sendMultipart(ctx context.Context, path string, fields map[string]string, file *netx.FilePart, out any) error {
	return c.withRefresh(ctx, true, func(token string) ([]byte, error) {
		header := http.Header{}
		if token != "" {
			header.Set(common.AuthorizationHeaderName, "Bearer "+token)
		}
		return netx.PostMultipart(ctx, c.http, c.base+path, header, fields, file)
	}, out)
}

// withRefresh runs call with the current access token and retries once with
// a rotated one if the server answers 401.
func (c *Client) withRefresh(ctx context.Context, authed bool, call func(token string) ([]byte, error), out any) error {
	token := ""
	if authed {
		token = c.accessToken()
	}

	body, err := call(token)
	if err != nil && authed && token != "" && isUnauthorized(err) {
		if rerr := c.refresh(ctx); rerr == nil {
			body, err = call(c.accessToken())
		}
	}
	if err != nil {
		return asAPIError(err)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	refreshToken, onRefresh := c.tokens.RefreshToken, c.onRefresh
	c.mu.Unlock()
	if refreshToken == "" {
		return errors.New("no refresh token")
	}

	pair, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tokens = *pair
	c.mu.Unlock()
	if onRefresh != nil {
		return onRefresh(*pair)
	}
	return nil
}

func isUnauthorized(err error) bool {
	var se *netx.StatusError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}

// asAPIError turns a status error into *Error using the {"error": ...}
// body when there is one.
func asAPIError(err error) error {
	var se *netx.StatusError
	if !errors.As(err, &se) {
		return err
	}
	msg := http.StatusText(se.Code)
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(se.Body), &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &Error{Status: se.Code, Message: msg}
}
