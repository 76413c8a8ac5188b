package common

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-publisher/core"
)

const (
	DefaultGraphBaseURL = "https://graph.facebook.com"
	DefaultGraphVersion = "v23.0"
)

// Graph OAuth error codes that mean the access token is dead.
const (
	graphCodeInvalidToken   = 190
	graphCodePermissionsErr = 200
)

// GraphClient speaks the Meta Graph API envelope: form-encoded writes,
// query-string reads, JSON responses with an `error` object on failure.
// Facebook and Instagram adapters share it.
type GraphClient struct {
	Transport core.TransportAdapter
	BaseURL   string
	Version   string
}

func NewGraphClient(transport core.TransportAdapter) *GraphClient {
	return &GraphClient{
		Transport: transport,
		BaseURL:   DefaultGraphBaseURL,
		Version:   DefaultGraphVersion,
	}
}

func (c *GraphClient) Endpoint(path string) string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = DefaultGraphBaseURL
	}
	version := strings.Trim(strings.TrimSpace(c.Version), "/")
	if version == "" {
		version = DefaultGraphVersion
	}
	return base + "/" + version + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
}

// Post sends a form-encoded Graph write and returns the decoded payload.
func (c *GraphClient) Post(ctx context.Context, cred core.Credential, path string, params map[string]string) (map[string]any, error) {
	form := url.Values{}
	for key, value := range params {
		if strings.TrimSpace(key) == "" {
			continue
		}
		form.Set(key, value)
	}
	form.Set("access_token", cred.AccessToken)

	return c.call(ctx, cred, core.TransportRequest{
		Method:  http.MethodPost,
		URL:     c.Endpoint(path),
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
	})
}

// Get performs a Graph read with query parameters.
func (c *GraphClient) Get(ctx context.Context, cred core.Credential, path string, params map[string]string) (map[string]any, error) {
	query := map[string]string{"access_token": cred.AccessToken}
	for key, value := range params {
		if strings.TrimSpace(key) == "" {
			continue
		}
		query[key] = value
	}
	return c.call(ctx, cred, core.TransportRequest{
		Method: http.MethodGet,
		URL:    c.Endpoint(path),
		Query:  query,
	})
}

// Delete removes a Graph object.
func (c *GraphClient) Delete(ctx context.Context, cred core.Credential, path string) (map[string]any, error) {
	return c.call(ctx, cred, core.TransportRequest{
		Method: http.MethodDelete,
		URL:    c.Endpoint(path),
		Query:  map[string]string{"access_token": cred.AccessToken},
	})
}

func (c *GraphClient) call(ctx context.Context, cred core.Credential, req core.TransportRequest) (map[string]any, error) {
	if c == nil || c.Transport == nil {
		return nil, fmt.Errorf("meta: graph client requires a transport adapter")
	}
	res, err := c.Transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return DecodeGraphPayload(res, cred)
}

// DecodeGraphPayload parses a Graph response body and converts the Graph
// error envelope into the publishing error taxonomy. Token errors (code
// 190/200, OAuthException) surface as expired auth regardless of the
// HTTP status the platform chose.
func DecodeGraphPayload(res core.TransportResponse, cred core.Credential) (map[string]any, error) {
	payload := map[string]any{}
	if len(res.Body) > 0 {
		if err := json.Unmarshal(res.Body, &payload); err != nil && res.StatusCode < 300 {
			return nil, core.NewPlatformRejectedError(
				"meta: malformed graph response",
				res.StatusCode,
				map[string]any{"body_prefix": truncate(string(res.Body), 256)},
			)
		}
	}

	if graphErr, ok := payload["error"].(map[string]any); ok {
		return nil, graphError(res.StatusCode, graphErr, cred)
	}
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return nil, core.NewAuthExpiredError(cred.PlatformID, cred.AccountID)
	}
	if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
		return nil, core.NewTransientError(nil, fmt.Sprintf("meta: graph responded %d", res.StatusCode))
	}
	if res.StatusCode >= http.StatusBadRequest {
		return nil, core.NewPlatformRejectedError(
			"meta: graph rejected request",
			res.StatusCode,
			map[string]any{"body_prefix": truncate(string(res.Body), 256)},
		)
	}
	return payload, nil
}

func graphError(statusCode int, graphErr map[string]any, cred core.Credential) error {
	message := ReadString(graphErr, "message")
	errType := ReadString(graphErr, "type")
	code := ReadInt(graphErr, "code")

	if code == graphCodeInvalidToken || code == graphCodePermissionsErr || strings.EqualFold(errType, "OAuthException") {
		return core.NewAuthExpiredError(cred.PlatformID, cred.AccountID)
	}
	if statusCode >= http.StatusInternalServerError {
		return core.NewTransientError(nil, fmt.Sprintf("meta: graph error %d: %s", code, message))
	}
	return core.NewPlatformRejectedError(
		fmt.Sprintf("meta: graph error %d: %s", code, message),
		statusCode,
		map[string]any{"graph_code": code, "graph_type": errType},
	)
}

func ReadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	switch value := payload[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%f", value), ".000000")
	default:
		return ""
	}
}

func ReadInt(payload map[string]any, key string) int {
	if payload == nil {
		return 0
	}
	switch value := payload[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0
		}
		return int(parsed)
	default:
		return 0
	}
}

func ReadMap(payload map[string]any, key string) map[string]any {
	if payload == nil {
		return nil
	}
	if value, ok := payload[key].(map[string]any); ok {
		return value
	}
	return nil
}

func ReadSlice(payload map[string]any, key string) []any {
	if payload == nil {
		return nil
	}
	if value, ok := payload[key].([]any); ok {
		return value
	}
	return nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
