package httpapi

import (
	"net/http"
	"strings"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, err := s.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{ID: u.ID, Username: u.UserName})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := s.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		ID:           sess.User.ID,
		Username:     sess.User.UserName,
		AccessToken:  sess.Tokens.AccessToken,
		RefreshToken: sess.Tokens.RefreshToken,
	})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	pair, err := s.users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		userIDFields
		NewPassword string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	// Without any id the service reports ErrorNoUserID, which is a 400 of
	// its own rather than a not-found.
	var userID *int64
	if raw := req.raw(); strings.TrimSpace(raw) != "" || s.opts.AuthRequired {
		id, ok := s.userFor(w, r, raw)
		if !ok {
			return
		}
		userID = &id
	} else if id, ok := tokenUserID(r.Context()); ok {
		userID = &id
	}

	if err := s.users.ChangePassword(r.Context(), userID, req.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password changed successfully"})
}

func (s *Server) addSecretKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		userIDFields
		Provider  string `json:"provider"`
		SecretKey string `json:"secretKey"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	userID, ok := s.userFor(w, r, req.raw())
	if !ok {
		return
	}

	if err := s.users.AddSecretKey(r.Context(), userID, req.Provider, req.SecretKey); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Secret key added successfully"})
}
