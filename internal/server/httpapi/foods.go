package httpapi

import (
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
	"github.com/dmitrijs2005/freshkeeper/internal/server/services"
	"github.com/gorilla/mux"
)

type addFoodRequest struct {
	userIDFields
	Name           field `json:"name"`
	ProductionDate field `json:"productionDate"`
	ShelfLife      field `json:"shelfLife"`
	Label          field `json:"label"`
}

func (s *Server) listFoods(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userFor(w, r, queryUserID(r))
	if !ok {
		return
	}
	s.writeFoods(w, r, func() ([]*models.FoodItem, error) {
		return s.foods.List(r.Context(), userID)
	})
}

func (s *Server) listExpiredFoods(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userFor(w, r, queryUserID(r))
	if !ok {
		return
	}
	s.writeFoods(w, r, func() ([]*models.FoodItem, error) {
		return s.foods.ListExpired(r.Context(), userID)
	})
}

func (s *Server) searchFoods(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userFor(w, r, queryUserID(r))
	if !ok {
		return
	}
	query := r.URL.Query().Get("query")
	s.writeFoods(w, r, func() ([]*models.FoodItem, error) {
		return s.foods.Search(r.Context(), userID, query)
	})
}

func (s *Server) writeFoods(w http.ResponseWriter, r *http.Request, load func() ([]*models.FoodItem, error)) {
	items, err := load()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFoodsResponse(items))
}

// addFood accepts either a JSON body or a multipart form; only the latter
// can carry a photo.
func (s *Server) addFood(w http.ResponseWriter, r *http.Request) {
	var (
		in  services.NewFoodInput
		raw string
	)

	if isMultipart(r) {
		if !s.parseMultipart(w, r) {
			return
		}
		raw = formUserID(r)
		in.Name = r.FormValue("name")
		in.ProductionDate = r.FormValue("productionDate")
		in.ShelfLife = r.FormValue("shelfLife")
		in.Label = r.FormValue("label")

		data, name, err := formFile(r, "image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid image upload")
			return
		}
		in.Image, in.ImageName = data, name
	} else {
		var req addFoodRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		raw = req.raw()
		in.Name = string(req.Name)
		in.ProductionDate = string(req.ProductionDate)
		in.ShelfLife = string(req.ShelfLife)
		in.Label = string(req.Label)
	}

	userID, ok := s.userFor(w, r, raw)
	if !ok {
		return
	}
	in.UserID = userID

	item, err := s.foods.Add(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newFoodResponse(item))
}

func (s *Server) deleteFood(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"], "food id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, ok := s.userFor(w, r, queryUserID(r))
	if !ok {
		return
	}

	if err := s.foods.Delete(r.Context(), userID, id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteFoodsByName(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userFor(w, r, queryUserID(r))
	if !ok {
		return
	}

	name, err := url.PathUnescape(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid name")
		return
	}
	if _, err := s.foods.DeleteByName(r.Context(), userID, name); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recognizeFood takes a multipart upload with an image and an optional user
// id whose stored provider key is preferred.
func (s *Server) recognizeFood(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		writeError(w, http.StatusBadRequest, "multipart form with an image is required")
		return
	}
	if !s.parseMultipart(w, r) {
		return
	}

	data, name, err := formFile(r, "image")
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "No image file provided")
		return
	}

	var userID *int64
	raw := formUserID(r)
	if _, hasToken := tokenUserID(r.Context()); raw != "" || hasToken || s.opts.AuthRequired {
		id, ok := s.userFor(w, r, raw)
		if !ok {
			return
		}
		userID = &id
	}

	rec, err := s.foods.Recognize(r.Context(), userID, data, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
