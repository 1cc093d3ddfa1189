package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/freshkeeper/internal/common"
	"github.com/dmitrijs2005/freshkeeper/internal/server/inventory"
	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type loginResponse struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type foodResponse struct {
	ID             int64            `json:"id"`
	UserID         int64            `json:"userId"`
	Name           string           `json:"name"`
	Label          string           `json:"label,omitempty"`
	ImagePath      string           `json:"imagePath,omitempty"`
	ImageURL       string           `json:"imageUrl,omitempty"`
	ProductionDate inventory.Date   `json:"productionDate"`
	ShelfLife      int              `json:"shelfLife"`
	ExpirationDate inventory.Date   `json:"expirationDate"`
	DaysLeft       int              `json:"daysLeft"`
	Status         inventory.Status `json:"status"`
}

func newFoodResponse(f *models.FoodItem) foodResponse {
	return foodResponse{
		ID:             f.ID,
		UserID:         f.UserID,
		Name:           f.Name,
		Label:          f.Label,
		ImagePath:      f.ImagePath,
		ImageURL:       f.ImageURL,
		ProductionDate: f.ProductionDate,
		ShelfLife:      f.ShelfLifeDays,
		ExpirationDate: f.ExpirationDate,
		DaysLeft:       f.DaysLeft,
		Status:         f.Status,
	}
}

func newFoodsResponse(items []*models.FoodItem) []foodResponse {
	out := make([]foodResponse, 0, len(items))
	for _, it := range items {
		out = append(out, newFoodResponse(it))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrorValidation),
		errors.Is(err, common.ErrorAlreadyExists),
		errors.Is(err, common.ErrorNoUserID):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal details are logged, not
// returned.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
