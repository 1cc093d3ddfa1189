// Package netx holds small HTTP helpers shared by the API client and the
// recognition adapter.
package netx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"
)

// FilePart is a file attached to a multipart form.
type FilePart struct {
	Field    string
	FileName string
	Data     []byte
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed: %d %s; body: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// Temporary reports whether retrying might help.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// NewMultipartBody encodes fields (in key order) and an optional file.
func NewMultipartBody(fields map[string]string, file *FilePart) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", err
		}
	}

	if file != nil {
		part, err := w.CreateFormFile(file.Field, file.FileName)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// PostMultipart sends a multipart form and returns the response body when
// the status is 2xx, or a *StatusError otherwise.
func PostMultipart(ctx context.Context, client *http.Client, url string, header http.Header, fields map[string]string, file *FilePart) ([]byte, error) {
	body, contentType, err := NewMultipartBody(fields, file)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", contentType)

	return Do(client, req)
}

// Do executes req and reads the whole body.
func Do(client *http.Client, req *http.Request) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return b, nil
}
