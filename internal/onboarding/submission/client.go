// internal/onboarding/submission/client.go

// Package submission talks to the REST backend that owns franchises and
// merchants: the final create or update call and the edit-mode prefill.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "merchant-onboarding/internal/common/errors"
	commonhttp "merchant-onboarding/internal/common/http"
	"merchant-onboarding/internal/common/logger"
	"merchant-onboarding/internal/onboarding/sequencer"
	"merchant-onboarding/internal/onboarding/wizard"
)

type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Result is the backend's answer to a create or update.
type Result struct {
	ID     string                 `json:"id"`
	Status int                    `json:"status"`
	Entity map[string]interface{} `json:"entity,omitempty"`
}

type Client struct {
	config *Config
	http   *commonhttp.Client
	logger logger.Logger
}

func NewClient(config *Config, log logger.Logger) *Client {
	return &Client{
		config: config,
		http:   commonhttp.NewClient(config.Timeout).
			WithBearerToken(config.APIToken).
			WithHeader("Accept", "application/json"),
		logger: log.WithFields(map[string]interface{}{"component": "backend-client"}),
	}
}

// Create posts a new franchise or merchant.
func (c *Client) Create(ctx context.Context, ct sequencer.CustomerType, payload map[string]interface{}, docs []wizard.DocumentRef) (*Result, error) {
	endpoint, err := c.collection(ct)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, http.MethodPost, endpoint, payload, docs)
}

// Update replaces an existing franchise or merchant.
func (c *Client) Update(ctx context.Context, ct sequencer.CustomerType, id string, payload map[string]interface{}, docs []wizard.DocumentRef) (*Result, error) {
	endpoint, err := c.collection(ct)
	if err != nil {
		return nil, err
	}
	res, err := c.send(ctx, http.MethodPut, endpoint+"/"+url.PathEscape(id), payload, docs)
	if err != nil {
		return nil, err
	}
	if res.ID == "" {
		res.ID = id
	}
	return res, nil
}

// Fetch loads an existing entity for edit mode.
func (c *Client) Fetch(ctx context.Context, ct sequencer.CustomerType, id string) (map[string]interface{}, error) {
	endpoint, err := c.collection(ct)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Send(ctx, http.MethodGet, endpoint+"/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, c.transportError(err)
	}
	if resp.Status == http.StatusNotFound {
		return nil, apperrors.NewEntityNotFoundError(string(ct), id)
	}
	if !resp.OK() {
		return nil, apperrors.NewSubmissionFailedError(resp.Status, backendMessage(resp.Body))
	}

	entity, err := decodeEntity(resp.Body)
	if err != nil {
		return nil, apperrors.NewSubmissionFailedError(resp.Status, fmt.Sprintf("decode entity: %v", err))
	}
	return entity, nil
}

func (c *Client) collection(ct sequencer.CustomerType) (string, error) {
	switch ct {
	case sequencer.CustomerTypeFranchise:
		return strings.TrimRight(c.config.BaseURL, "/") + "/api/franchises", nil
	case sequencer.CustomerTypeMerchant:
		return strings.TrimRight(c.config.BaseURL, "/") + "/api/merchants", nil
	}
	return "", apperrors.NewInvalidCustomerTypeError(fmt.Sprintf("cannot submit customer type %q", ct))
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload map[string]interface{}, docs []wizard.DocumentRef) (*Result, error) {
	body, contentType, err := encode(payload, docs)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	start := time.Now()
	resp, err := c.http.Send(ctx, method, endpoint, body, contentType)
	if err != nil {
		c.logger.Warn("backend request failed", map[string]interface{}{
			"method":   method,
			"endpoint": endpoint,
			"error":    err,
		})
		return nil, c.transportError(err)
	}

	c.logger.Info("backend responded", map[string]interface{}{
		"method":     method,
		"endpoint":   endpoint,
		"status":     resp.Status,
		"documents":  len(docs),
		"durationMs": time.Since(start).Milliseconds(),
	})

	if !resp.OK() {
		return nil, apperrors.NewSubmissionFailedError(resp.Status, backendMessage(resp.Body))
	}

	result := &Result{Status: resp.Status}
	if entity, err := decodeEntity(resp.Body); err == nil {
		result.Entity = entity
		if id, ok := entity["id"]; ok {
			result.ID = fmt.Sprint(id)
		}
	}
	return result, nil
}

func (c *Client) transportError(err error) error {
	if commonhttp.IsTimeout(err) {
		return apperrors.NewBackendTimeoutError(err)
	}
	return apperrors.NewSubmissionFailedError(0, err.Error())
}

// encode renders the payload as JSON, or as multipart form data when
// documents are attached.
func encode(payload map[string]interface{}, docs []wizard.DocumentRef) (io.Reader, string, error) {
	if len(docs) == 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("marshal payload: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		value, err := formValue(payload[k])
		if err != nil {
			return nil, "", fmt.Errorf("field %s: %w", k, err)
		}
		if err := w.WriteField(k, value); err != nil {
			return nil, "", err
		}
	}

	for _, doc := range docs {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, doc.Field, doc.FileName))
		contentType := doc.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(doc.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func formValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(val), nil
	case json.Number:
		return val.String(), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// decodeEntity accepts both a bare object and one wrapped in "data".
func decodeEntity(body []byte) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]interface{}{}, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if data, ok := raw["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return raw, nil
}

func backendMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
