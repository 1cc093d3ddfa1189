// Package recognizer guesses food metadata from a package photo using an
// OpenAI-compatible file-extract + chat completion API (Moonshot/Kimi).
//
// Recognition is best effort: every failure, including timeouts, HTTP
// errors and answers that are not the expected JSON, yields an all-null
// models.Recognition and is only logged.
package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/logging"
	"github.com/dmitrijs2005/freshkeeper/internal/netx"
	"github.com/dmitrijs2005/freshkeeper/internal/server/inventory"
	"github.com/dmitrijs2005/freshkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
)

// Recognizer is what the food service needs.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, filename, apiKey string) models.Recognition
}

const (
	systemPrompt = "You are Kimi, an assistant provided by Moonshot AI. You answer accurately and safely."
	userPrompt   = "This is a photo of a food package. Identify the food name, the production date and the shelf life. " +
		"Reply with JSON only, with the fields name, productionDate and shelfLife. " +
		"productionDate must be formatted YYYY-MM-DD and shelfLife must be an integer number of days. " +
		"Use null for anything you cannot identify."
	temperature = 0.3
)

type Options struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// Retries is the number of extra attempts per HTTP call on transport
	// errors, 429 and 5xx answers.
	Retries uint64
	Backoff time.Duration
	Client  *http.Client
}

type Kimi struct {
	opts   Options
	logger logging.Logger
}

func NewKimi(opts Options, logger logging.Logger) *Kimi {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Kimi{opts: opts, logger: logger.With("module", "recognizer")}
}

// Recognize never returns an error; see the package doc.
func (k *Kimi) Recognize(ctx context.Context, image []byte, filename, apiKey string) models.Recognition {
	start := time.Now()
	if apiKey == "" {
		k.logger.Warn(ctx, "recognition skipped: no api key")
		metrics.RecordRecognition(metrics.RecognitionSkipped, time.Since(start))
		return models.Recognition{}
	}

	ctx, cancel := context.WithTimeout(ctx, k.opts.Timeout)
	defer cancel()

	answer, err := k.ask(ctx, image, filename, apiKey)
	if err != nil {
		k.logger.Error(ctx, "recognition failed", "error", err, "file", filename)
		metrics.RecordRecognition(metrics.RecognitionFailed, time.Since(start))
		return models.Recognition{}
	}
	k.logger.Info(ctx, "recognition answer", "answer", answer)

	rec, err := ParseAnswer(answer)
	if err != nil {
		k.logger.Error(ctx, "recognition answer rejected", "error", err)
		metrics.RecordRecognition(metrics.RecognitionFailed, time.Since(start))
		return models.Recognition{}
	}

	result := metrics.RecognitionOK
	if rec.Unknown() {
		result = metrics.RecognitionEmpty
	}
	metrics.RecordRecognition(result, time.Since(start))
	return rec
}

// ask uploads the image, fetches the extracted content and asks the chat
// model about it. The uploaded file is removed afterwards.
func (k *Kimi) ask(ctx context.Context, image []byte, filename, apiKey string) (string, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)

	var uploaded []byte
	err := k.retry(ctx, func(ctx context.Context) (err error) {
		uploaded, err = netx.PostMultipart(ctx, k.opts.Client, k.opts.BaseURL+"/files", header,
			map[string]string{"purpose": "file-extract"},
			&netx.FilePart{Field: "file", FileName: filename, Data: image})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	fileID := gjson.GetBytes(uploaded, "id").String()
	if fileID == "" {
		return "", errors.New("upload: response has no file id")
	}
	defer k.deleteFile(fileID, header)

	var content []byte
	err = k.retry(ctx, func(ctx context.Context) (err error) {
		content, err = k.send(ctx, http.MethodGet, "/files/"+fileID+"/content", header, nil)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("file content: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"model":       k.opts.Model,
		"temperature": temperature,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
			{"role": "system", "content": string(content)},
		},
	})
	if err != nil {
		return "", err
	}

	var completion []byte
	err = k.retry(ctx, func(ctx context.Context) (err error) {
		completion, err = k.send(ctx, http.MethodPost, "/chat/completions", header, body)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	answer := gjson.GetBytes(completion, "choices.0.message.content")
	if !answer.Exists() {
		return "", errors.New("chat completion: no message content")
	}
	return answer.String(), nil
}

func (k *Kimi) send(ctx context.Context, method, path string, header http.Header, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, k.opts.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for key, v := range header {
		req.Header[key] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return netx.Do(k.opts.Client, req)
}

// deleteFile runs detached from the request deadline, which may have fired.
func (k *Kimi) deleteFile(fileID string, header http.Header) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := k.send(ctx, http.MethodDelete, "/files/"+fileID, header, nil); err != nil {
		k.logger.Warn(ctx, "failed to delete uploaded file", "file_id", fileID, "error", err)
	}
}

func (k *Kimi) retry(ctx context.Context, f func(context.Context) error) error {
	b := retry.WithMaxRetries(k.opts.Retries, retry.NewExponential(k.opts.Backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := f(ctx)
		if err == nil {
			return nil
		}
		var se *netx.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})
}

// ParseAnswer turns the model's reply into a Recognition. The reply may be
// wrapped in a markdown code fence. A reply that is not a JSON object, or
// whose productionDate is present but not a YYYY-MM-DD date, is an error.
// A shelfLife that is not a non-negative whole number is dropped.
func ParseAnswer(answer string) (models.Recognition, error) {
	var rec models.Recognition

	answer = stripFence(answer)
	if !gjson.Valid(answer) {
		return rec, errors.New("answer is not valid JSON")
	}
	doc := gjson.Parse(answer)
	if !doc.IsObject() {
		return rec, errors.New("answer is not a JSON object")
	}

	if name := doc.Get("name"); name.Type == gjson.String && strings.TrimSpace(name.Str) != "" {
		s := strings.TrimSpace(name.Str)
		rec.Name = &s
	}

	if pd := doc.Get("productionDate"); pd.Type == gjson.String && pd.Str != "" {
		d, err := inventory.ParseDate(strings.TrimSpace(pd.Str))
		if err != nil {
			return models.Recognition{}, fmt.Errorf("productionDate: %w", err)
		}
		s := d.String()
		rec.ProductionDate = &s
	}

	if sl := doc.Get("shelfLife"); sl.Exists() {
		if n, ok := shelfLife(sl); ok {
			rec.ShelfLife = &n
		}
	}

	return rec, nil
}

func shelfLife(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		if v.Num < 0 || v.Num != float64(int(v.Num)) {
			return 0, false
		}
		return int(v.Num), true
	case gjson.String:
		n, err := inventory.ParseShelfLife(v.Str)
		return n, err == nil
	}
	return 0, false
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
