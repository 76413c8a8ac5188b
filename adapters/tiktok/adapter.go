package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-publisher/core"
	"github.com/goliatone/go-publisher/upload"
)

const AdapterID = "tiktok"

const (
	DefaultBaseURL   = "https://open.tiktokapis.com"
	defaultChunkSize = 10 << 20 // 10 MiB init hint; the server may override per chunk
)

// Post-publish status values reported by the status endpoint.
const (
	statusComplete           = "PUBLISH_COMPLETE"
	statusFailed             = "FAILED"
	statusProcessingUpload   = "PROCESSING_UPLOAD"
	statusProcessingDownload = "PROCESSING_DOWNLOAD"
)

// SourceResolver maps content onto a byte-range media source.
type SourceResolver func(ctx context.Context, content core.Content) (core.ByteRangeSource, error)

// Adapter runs the three-phase chunked video upload: init negotiates the
// first range, transfer loops on whatever range each response dictates,
// and the finish call hands the video to server-side processing. Publish
// outcomes are therefore always asynchronous.
type Adapter struct {
	transport     core.TransportAdapter
	engine        *upload.Engine
	baseURL       string
	chunkSize     int64
	resolveSource SourceResolver
}

type Option func(*Adapter)

func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		if strings.TrimSpace(baseURL) != "" {
			a.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		}
	}
}

func WithChunkSizeHint(size int64) Option {
	return func(a *Adapter) {
		if size > 0 {
			a.chunkSize = size
		}
	}
}

func WithEngine(engine *upload.Engine) Option {
	return func(a *Adapter) {
		if engine != nil {
			a.engine = engine
		}
	}
}

func WithSourceResolver(resolver SourceResolver) Option {
	return func(a *Adapter) {
		if resolver != nil {
			a.resolveSource = resolver
		}
	}
}

func New(transport core.TransportAdapter, options ...Option) (*Adapter, error) {
	if transport == nil {
		return nil, fmt.Errorf("tiktok: transport adapter is required")
	}
	adapter := &Adapter{
		transport: transport,
		engine:    upload.NewEngine(),
		baseURL:   DefaultBaseURL,
		chunkSize: defaultChunkSize,
	}
	adapter.resolveSource = func(ctx context.Context, content core.Content) (core.ByteRangeSource, error) {
		return upload.NewHTTPSource(transport, content.VideoURL)
	}
	for _, option := range options {
		if option != nil {
			option(adapter)
		}
	}
	return adapter, nil
}

func (a *Adapter) ID() string {
	return AdapterID
}

func (a *Adapter) Capabilities() []core.CapabilityDescriptor {
	return []core.CapabilityDescriptor{
		{Name: core.CapabilityPublishVideo, Async: true},
		{Name: core.CapabilityPublishReel, Async: true},
		{Name: core.CapabilityQueryStatus},
	}
}

func (a *Adapter) Publish(ctx context.Context, req core.PublishRequest) (core.PublishResult, error) {
	if a == nil || a.transport == nil {
		return core.PublishResult{}, fmt.Errorf("tiktok: adapter is not configured")
	}
	if err := req.Content.Validate(); err != nil {
		return core.PublishResult{}, err
	}
	switch kind := req.Content.ResolveKind(); kind {
	case core.ContentKindVideo, core.ContentKindReel:
	default:
		return core.PublishResult{}, core.NewCapabilityUnsupportedError(AdapterID, core.CapabilityForKind(kind))
	}

	source, err := a.resolveSource(ctx, req.Content)
	if err != nil {
		return core.PublishResult{}, core.NewUploadFailedError(err, "tiktok: resolve media source")
	}

	protocol := &videoProtocol{adapter: a, content: req.Content}
	session, err := a.engine.Run(ctx, protocol, req.Credential, source, upload.InitHints{
		ContentType: "video/mp4",
	})
	if err != nil {
		return core.PublishResult{}, err
	}

	return core.PublishResult{
		RemoteID: session.RemoteMediaID,
		Status:   core.PublishStatusProcessing,
	}, nil
}

// QueryProcessingStatus fetches post-upload processing progress.
func (a *Adapter) QueryProcessingStatus(ctx context.Context, cred core.Credential, remoteID string) (core.ProcessingStatus, error) {
	payload, err := a.postJSON(ctx, cred, "/v2/post/publish/status/fetch/", map[string]any{
		"publish_id": strings.TrimSpace(remoteID),
	})
	if err != nil {
		return core.ProcessingStatus{}, err
	}

	data := readMap(payload, "data")
	status := strings.ToUpper(readString(data, "status"))
	switch status {
	case statusComplete:
		return core.ProcessingStatus{State: core.ProcessingStateCompleted}, nil
	case statusFailed:
		return core.ProcessingStatus{
			State:  core.ProcessingStateFailed,
			Detail: readString(data, "fail_reason"),
		}, nil
	case statusProcessingUpload, statusProcessingDownload, "":
		return core.ProcessingStatus{State: core.ProcessingStateInProgress, Detail: status}, nil
	default:
		return core.ProcessingStatus{State: core.ProcessingStateInProgress, Detail: status}, nil
	}
}

// FinalizePublish resolves the published post once processing completed.
// The platform publishes on its own after processing; this step only
// confirms and reports the final identifiers.
func (a *Adapter) FinalizePublish(ctx context.Context, cred core.Credential, remoteID string, _ core.Content) (core.PublishResult, error) {
	status, err := a.QueryProcessingStatus(ctx, cred, remoteID)
	if err != nil {
		return core.PublishResult{}, err
	}
	switch status.State {
	case core.ProcessingStateInProgress:
		return core.PublishResult{}, core.NewStillProcessingError(remoteID)
	case core.ProcessingStateFailed:
		return core.PublishResult{}, core.NewProcessingFailedError(
			fmt.Sprintf("tiktok: publish %s failed: %s", remoteID, status.Detail),
		)
	}

	payload, err := a.postJSON(ctx, cred, "/v2/post/publish/status/fetch/", map[string]any{
		"publish_id": strings.TrimSpace(remoteID),
	})
	if err != nil {
		return core.PublishResult{}, err
	}
	data := readMap(payload, "data")
	postID := readString(data, "publicaly_available_post_id")
	if postID == "" {
		postID = remoteID
	}
	return core.PublishResult{
		RemoteID:  postID,
		Permalink: readString(data, "share_url"),
		Status:    core.PublishStatusPublished,
	}, nil
}

func (a *Adapter) postJSON(ctx context.Context, cred core.Credential, path string, body map[string]any) (map[string]any, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("tiktok: encode request: %w", err)
	}
	res, err := a.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodPost,
		URL:    a.baseURL + path,
		Headers: map[string]string{
			"Authorization": "Bearer " + cred.AccessToken,
			"Content-Type":  "application/json",
		},
		Body: encoded,
	})
	if err != nil {
		return nil, err
	}
	return decodePayload(res, cred)
}

func decodePayload(res core.TransportResponse, cred core.Credential) (map[string]any, error) {
	payload := map[string]any{}
	if len(res.Body) > 0 {
		_ = json.Unmarshal(res.Body, &payload)
	}

	// The open API reports errors in an envelope even on HTTP 200.
	if errEnvelope := readMap(payload, "error"); errEnvelope != nil {
		code := strings.ToLower(readString(errEnvelope, "code"))
		message := readString(errEnvelope, "message")
		switch {
		case code == "" || code == "ok":
		case strings.Contains(code, "token") || strings.Contains(code, "auth"):
			return nil, core.NewAuthExpiredError(cred.PlatformID, cred.AccountID)
		case strings.Contains(code, "rate_limit") || strings.Contains(code, "internal"):
			return nil, core.NewTransientError(nil, fmt.Sprintf("tiktok: %s: %s", code, message))
		default:
			return nil, core.NewPlatformRejectedError(
				fmt.Sprintf("tiktok: %s: %s", code, message),
				res.StatusCode,
				map[string]any{"tiktok_code": code},
			)
		}
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, core.NewAuthExpiredError(cred.PlatformID, cred.AccountID)
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
		return nil, core.NewTransientError(nil, fmt.Sprintf("tiktok: responded %d", res.StatusCode))
	case res.StatusCode >= http.StatusBadRequest:
		return nil, core.NewPlatformRejectedError("tiktok: request rejected", res.StatusCode, nil)
	}
	return payload, nil
}

func readMap(payload map[string]any, key string) map[string]any {
	if payload == nil {
		return nil
	}
	if value, ok := payload[key].(map[string]any); ok {
		return value
	}
	return nil
}

func readString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func readInt64(payload map[string]any, key string) int64 {
	if payload == nil {
		return 0
	}
	switch value := payload[key].(type) {
	case float64:
		return int64(value)
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

var (
	_ core.Adapter             = (*Adapter)(nil)
	_ core.ProcessingPublisher = (*Adapter)(nil)
)
