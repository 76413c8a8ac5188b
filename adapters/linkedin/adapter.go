package linkedin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-publisher/core"
)

const AdapterID = "linkedin"

const (
	DefaultBaseURL       = "https://api.linkedin.com"
	defaultMaxMediaBytes = 200 << 20 // 200 MiB

	recipeImage = "urn:li:digitalmediaRecipe:feedshare-image"
	recipeVideo = "urn:li:digitalmediaRecipe:feedshare-video"
)

// Adapter publishes UGC posts. Media goes through the asset flow first:
// register an upload, PUT the bytes to the returned URL, then reference
// the asset URN from the share. All three phases complete synchronously.
type Adapter struct {
	transport     core.TransportAdapter
	baseURL       string
	maxMediaBytes int64
}

type Option func(*Adapter)

func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		if strings.TrimSpace(baseURL) != "" {
			a.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		}
	}
}

func WithMaxMediaBytes(limit int64) Option {
	return func(a *Adapter) {
		if limit > 0 {
			a.maxMediaBytes = limit
		}
	}
}

func New(transport core.TransportAdapter, options ...Option) (*Adapter, error) {
	if transport == nil {
		return nil, fmt.Errorf("linkedin: transport adapter is required")
	}
	adapter := &Adapter{
		transport:     transport,
		baseURL:       DefaultBaseURL,
		maxMediaBytes: defaultMaxMediaBytes,
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
		{Name: core.CapabilityPublishText},
		{Name: core.CapabilityPublishImage},
		{Name: core.CapabilityPublishVideo},
	}
}

func (a *Adapter) Publish(ctx context.Context, req core.PublishRequest) (core.PublishResult, error) {
	if a == nil || a.transport == nil {
		return core.PublishResult{}, fmt.Errorf("linkedin: adapter is not configured")
	}
	author := authorURN(req.AccountID)
	if author == "" {
		return core.PublishResult{}, fmt.Errorf("linkedin: account id is required")
	}
	if err := req.Content.Validate(); err != nil {
		return core.PublishResult{}, err
	}

	switch kind := req.Content.ResolveKind(); kind {
	case core.ContentKindText:
		return a.createShare(ctx, req.Credential, author, req.Content, "NONE", nil)
	case core.ContentKindImageSet:
		assets := make([]string, 0, len(req.Content.ImageURLs))
		for _, imageURL := range req.Content.ImageURLs {
			asset, err := a.uploadAsset(ctx, req.Credential, author, recipeImage, imageURL)
			if err != nil {
				return core.PublishResult{}, err
			}
			assets = append(assets, asset)
		}
		return a.createShare(ctx, req.Credential, author, req.Content, "IMAGE", assets)
	case core.ContentKindVideo:
		asset, err := a.uploadAsset(ctx, req.Credential, author, recipeVideo, req.Content.VideoURL)
		if err != nil {
			return core.PublishResult{}, err
		}
		return a.createShare(ctx, req.Credential, author, req.Content, "VIDEO", []string{asset})
	default:
		return core.PublishResult{}, core.NewCapabilityUnsupportedError(AdapterID, core.CapabilityForKind(kind))
	}
}

// uploadAsset runs the register/transfer phases and returns the asset URN.
func (a *Adapter) uploadAsset(ctx context.Context, cred core.Credential, owner, recipe, mediaURL string) (string, error) {
	registerBody, err := json.Marshal(map[string]any{
		"registerUploadRequest": map[string]any{
			"recipes": []string{recipe},
			"owner":   owner,
			"serviceRelationships": []map[string]string{{
				"relationshipType": "OWNER",
				"identifier":       "urn:li:userGeneratedContent",
			}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("linkedin: encode register request: %w", err)
	}

	registerRes, err := a.transport.Do(ctx, core.TransportRequest{
		Method:  http.MethodPost,
		URL:     a.baseURL + "/v2/assets?action=registerUpload",
		Headers: a.authHeaders(cred, "application/json"),
		Body:    registerBody,
	})
	if err != nil {
		return "", err
	}
	if err := classify(registerRes, cred); err != nil {
		return "", err
	}

	var registered struct {
		Value struct {
			Asset           string `json:"asset"`
			UploadMechanism map[string]struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"uploadMechanism"`
		} `json:"value"`
	}
	if err := json.Unmarshal(registerRes.Body, &registered); err != nil {
		return "", core.NewPlatformRejectedError("linkedin: malformed register response", registerRes.StatusCode, nil)
	}
	uploadURL := ""
	for _, mechanism := range registered.Value.UploadMechanism {
		if mechanism.UploadURL != "" {
			uploadURL = mechanism.UploadURL
			break
		}
	}
	if registered.Value.Asset == "" || uploadURL == "" {
		return "", core.NewPlatformRejectedError("linkedin: register response missing asset or upload url", registerRes.StatusCode, nil)
	}

	media, err := a.fetchMedia(ctx, mediaURL)
	if err != nil {
		return "", err
	}

	putRes, err := a.transport.Do(ctx, core.TransportRequest{
		Method:  http.MethodPut,
		URL:     uploadURL,
		Headers: map[string]string{"Authorization": "Bearer " + cred.AccessToken},
		Body:    media,
	})
	if err != nil {
		return "", err
	}
	if err := classify(putRes, cred); err != nil {
		return "", err
	}
	return registered.Value.Asset, nil
}

func (a *Adapter) fetchMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	mediaURL = strings.TrimSpace(mediaURL)
	if mediaURL == "" {
		return nil, fmt.Errorf("linkedin: media url is required")
	}
	res, err := a.transport.Do(ctx, core.TransportRequest{
		Method:               http.MethodGet,
		URL:                  mediaURL,
		MaxResponseBodyBytes: a.maxMediaBytes,
	})
	if err != nil {
		return nil, core.NewUploadFailedError(err, "linkedin: fetch media")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return nil, core.NewUploadFailedError(nil, fmt.Sprintf("linkedin: media source responded %d", res.StatusCode))
	}
	return res.Body, nil
}

func (a *Adapter) createShare(
	ctx context.Context,
	cred core.Credential,
	author string,
	content core.Content,
	category string,
	assets []string,
) (core.PublishResult, error) {
	shareContent := map[string]any{
		"shareCommentary":    map[string]string{"text": content.Caption},
		"shareMediaCategory": category,
	}
	if len(assets) > 0 {
		media := make([]map[string]any, 0, len(assets))
		for _, asset := range assets {
			entry := map[string]any{"status": "READY", "media": asset}
			if content.Title != "" {
				entry["title"] = map[string]string{"text": content.Title}
			}
			media = append(media, entry)
		}
		shareContent["media"] = media
	}

	body, err := json.Marshal(map[string]any{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": shareContent,
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": visibilityFor(content.Visibility),
		},
	})
	if err != nil {
		return core.PublishResult{}, fmt.Errorf("linkedin: encode share: %w", err)
	}

	res, err := a.transport.Do(ctx, core.TransportRequest{
		Method:  http.MethodPost,
		URL:     a.baseURL + "/v2/ugcPosts",
		Headers: a.authHeaders(cred, "application/json"),
		Body:    body,
	})
	if err != nil {
		return core.PublishResult{}, err
	}
	if err := classify(res, cred); err != nil {
		return core.PublishResult{}, err
	}

	postURN := ""
	for key, value := range res.Headers {
		if strings.EqualFold(key, "X-RestLi-Id") {
			postURN = value
			break
		}
	}
	if postURN == "" {
		var decoded struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(res.Body, &decoded) == nil {
			postURN = decoded.ID
		}
	}
	if postURN == "" {
		return core.PublishResult{}, core.NewPlatformRejectedError("linkedin: share response missing post id", res.StatusCode, nil)
	}

	return core.PublishResult{
		RemoteID:  postURN,
		Permalink: "https://www.linkedin.com/feed/update/" + postURN,
		Status:    core.PublishStatusPublished,
	}, nil
}

func (a *Adapter) authHeaders(cred core.Credential, contentType string) map[string]string {
	headers := map[string]string{
		"Authorization":             "Bearer " + cred.AccessToken,
		"X-Restli-Protocol-Version": "2.0.0",
	}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	return headers
}

func classify(res core.TransportResponse, cred core.Credential) error {
	switch {
	case res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices:
		return nil
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return core.NewAuthExpiredError(cred.PlatformID, cred.AccountID)
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
		return core.NewTransientError(nil, fmt.Sprintf("linkedin: responded %d", res.StatusCode))
	default:
		detail := strings.TrimSpace(string(res.Body))
		if len(detail) > 256 {
			detail = detail[:256]
		}
		return core.NewPlatformRejectedError("linkedin: request rejected", res.StatusCode, map[string]any{"detail": detail})
	}
}

func authorURN(accountID string) string {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ""
	}
	if strings.HasPrefix(accountID, "urn:") {
		return accountID
	}
	return "urn:li:person:" + accountID
}

func visibilityFor(visibility core.Visibility) string {
	switch visibility {
	case core.VisibilityPrivate:
		return "CONNECTIONS"
	default:
		return "PUBLIC"
	}
}

var _ core.Adapter = (*Adapter)(nil)
