package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/freshkeeper/internal/common"
)

const maxJSONBody = 1 << 20

// field is a JSON value that may arrive as a string or a number; clients
// send user ids and shelf life both ways.
type field string

func (f *field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = field(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = field(n.String())
	return nil
}

// userIDFields accepts both spellings of the owner id.
type userIDFields struct {
	UserID    field `json:"userId"`
	UserIDAlt field `json:"user_id"`
}

func (u userIDFields) raw() string {
	if u.UserID != "" {
		return string(u.UserID)
	}
	return string(u.UserIDAlt)
}

func queryUserID(r *http.Request) string {
	q := r.URL.Query()
	if v := q.Get("userId"); v != "" {
		return v
	}
	return q.Get("user_id")
}

func formUserID(r *http.Request) string {
	if v := r.FormValue("userId"); v != "" {
		return v
	}
	return r.FormValue("user_id")
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", common.ErrorValidation, name, raw)
	}
	return id, nil
}

// userFor resolves which user a request is about and checks the caller may
// act for them. A missing raw id falls back to the token's user. It writes
// the error response itself and reports false on failure.
func (s *Server) userFor(w http.ResponseWriter, r *http.Request, raw string) (int64, bool) {
	tokenID, hasToken := tokenUserID(r.Context())
	if s.opts.AuthRequired && !hasToken {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return 0, false
	}

	if strings.TrimSpace(raw) == "" {
		if hasToken {
			return tokenID, true
		}
		writeError(w, http.StatusBadRequest, "userId is required")
		return 0, false
	}

	id, err := parseID(raw, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	if hasToken && id != tokenID {
		s.logger.Warn(r.Context(), "user mismatch", "token_user", tokenID, "requested_user", id, "path", r.URL.Path)
		writeError(w, http.StatusForbidden, "forbidden")
		return 0, false
	}
	return id, true
}

// decodeJSON reads a JSON object body into v, writing 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// parseMultipart bounds the body and parses the form, writing 413 or 400 on
// failure.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return false
	}
	return true
}

// formFile returns the uploaded file named field, or nil data when absent.
func formFile(r *http.Request, name string) ([]byte, string, error) {
	f, hdr, err := r.FormFile(name)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", nil
		}
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	return data, hdr.Filename, nil
}

func trimSlashes(s string) string {
	return strings.Trim(s, "/")
}
