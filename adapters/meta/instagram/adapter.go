package instagram

import (
	"context"
	"fmt"
	"strings"

	meta "github.com/goliatone/go-publisher/adapters/meta/common"
	"github.com/goliatone/go-publisher/core"
)

const AdapterID = "meta_instagram"

// Graph container status_code values.
const (
	containerStatusFinished   = "FINISHED"
	containerStatusError      = "ERROR"
	containerStatusInProgress = "IN_PROGRESS"
	containerStatusExpired    = "EXPIRED"
)

// Adapter publishes through the Instagram container flow: create a media
// container, wait for server-side processing, then a separate
// media_publish call makes it visible. Publish therefore always returns
// a processing outcome carrying the container id.
type Adapter struct {
	graph *meta.GraphClient
}

func New(transport core.TransportAdapter) (*Adapter, error) {
	if transport == nil {
		return nil, fmt.Errorf("instagram: transport adapter is required")
	}
	return &Adapter{graph: meta.NewGraphClient(transport)}, nil
}

func NewWithGraph(graph *meta.GraphClient) (*Adapter, error) {
	if graph == nil {
		return nil, fmt.Errorf("instagram: graph client is required")
	}
	return &Adapter{graph: graph}, nil
}

func (a *Adapter) ID() string {
	return AdapterID
}

func (a *Adapter) Capabilities() []core.CapabilityDescriptor {
	return []core.CapabilityDescriptor{
		{Name: core.CapabilityPublishImage, Async: true},
		{Name: core.CapabilityPublishVideo, Async: true},
		{Name: core.CapabilityPublishReel, Async: true},
		{Name: core.CapabilityPublishStory, Async: true},
		{Name: core.CapabilityQueryStatus},
	}
}

func (a *Adapter) Publish(ctx context.Context, req core.PublishRequest) (core.PublishResult, error) {
	if a == nil || a.graph == nil {
		return core.PublishResult{}, fmt.Errorf("instagram: adapter is not configured")
	}
	userID := strings.TrimSpace(req.AccountID)
	if userID == "" {
		return core.PublishResult{}, fmt.Errorf("instagram: user id is required")
	}
	if err := req.Content.Validate(); err != nil {
		return core.PublishResult{}, err
	}

	params, err := a.containerParams(ctx, req.Credential, userID, req.Content)
	if err != nil {
		return core.PublishResult{}, err
	}

	payload, err := a.graph.Post(ctx, req.Credential, userID+"/media", params)
	if err != nil {
		return core.PublishResult{}, err
	}
	containerID := meta.ReadString(payload, "id")
	if containerID == "" {
		return core.PublishResult{}, core.NewPlatformRejectedError(
			"instagram: container response missing id", 0, nil,
		)
	}

	return core.PublishResult{
		RemoteID: containerID,
		Status:   core.PublishStatusProcessing,
		Metadata: map[string]any{"ig_user_id": userID},
	}, nil
}

func (a *Adapter) containerParams(ctx context.Context, cred core.Credential, userID string, content core.Content) (map[string]string, error) {
	params := map[string]string{"caption": content.Caption}

	switch kind := content.ResolveKind(); kind {
	case core.ContentKindImageSet:
		if len(content.ImageURLs) > 1 {
			children, err := a.stageCarouselChildren(ctx, cred, userID, content.ImageURLs)
			if err != nil {
				return nil, err
			}
			params["media_type"] = "CAROUSEL"
			params["children"] = strings.Join(children, ",")
			break
		}
		params["image_url"] = content.ImageURLs[0]
	case core.ContentKindVideo:
		params["media_type"] = "VIDEO"
		params["video_url"] = content.VideoURL
	case core.ContentKindReel:
		params["media_type"] = "REELS"
		params["video_url"] = content.VideoURL
	case core.ContentKindStory:
		params["media_type"] = "STORIES"
		params["video_url"] = content.VideoURL
	default:
		return nil, core.NewCapabilityUnsupportedError(AdapterID, core.CapabilityForKind(kind))
	}
	return params, nil
}

// stageCarouselChildren creates one non-publishable container per image.
func (a *Adapter) stageCarouselChildren(ctx context.Context, cred core.Credential, userID string, imageURLs []string) ([]string, error) {
	children := make([]string, 0, len(imageURLs))
	for _, imageURL := range imageURLs {
		payload, err := a.graph.Post(ctx, cred, userID+"/media", map[string]string{
			"image_url":        imageURL,
			"is_carousel_item": "true",
		})
		if err != nil {
			return nil, err
		}
		childID := meta.ReadString(payload, "id")
		if childID == "" {
			return nil, core.NewPlatformRejectedError(
				"instagram: carousel child response missing id", 0, nil,
			)
		}
		children = append(children, childID)
	}
	return children, nil
}

// QueryProcessingStatus reads the container's status_code. Read-only.
func (a *Adapter) QueryProcessingStatus(ctx context.Context, cred core.Credential, remoteID string) (core.ProcessingStatus, error) {
	if a == nil || a.graph == nil {
		return core.ProcessingStatus{}, fmt.Errorf("instagram: adapter is not configured")
	}
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return core.ProcessingStatus{}, fmt.Errorf("instagram: container id is required")
	}

	payload, err := a.graph.Get(ctx, cred, remoteID, map[string]string{
		"fields": "status_code,status",
	})
	if err != nil {
		return core.ProcessingStatus{}, err
	}

	statusCode := strings.ToUpper(meta.ReadString(payload, "status_code"))
	detail := meta.ReadString(payload, "status")
	switch statusCode {
	case containerStatusFinished:
		return core.ProcessingStatus{State: core.ProcessingStateCompleted, Detail: detail}, nil
	case containerStatusError, containerStatusExpired:
		return core.ProcessingStatus{State: core.ProcessingStateFailed, Detail: detail}, nil
	case containerStatusInProgress, "":
		return core.ProcessingStatus{State: core.ProcessingStateInProgress, Detail: detail}, nil
	default:
		return core.ProcessingStatus{State: core.ProcessingStateInProgress, Detail: statusCode}, nil
	}
}

// FinalizePublish issues media_publish for a finished container. A
// container that is still processing fails here rather than queueing
// platform-side.
func (a *Adapter) FinalizePublish(ctx context.Context, cred core.Credential, remoteID string, content core.Content) (core.PublishResult, error) {
	if a == nil || a.graph == nil {
		return core.PublishResult{}, fmt.Errorf("instagram: adapter is not configured")
	}
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return core.PublishResult{}, fmt.Errorf("instagram: container id is required")
	}

	status, err := a.QueryProcessingStatus(ctx, cred, remoteID)
	if err != nil {
		return core.PublishResult{}, err
	}
	switch status.State {
	case core.ProcessingStateInProgress:
		return core.PublishResult{}, core.NewStillProcessingError(remoteID)
	case core.ProcessingStateFailed:
		return core.PublishResult{}, core.NewProcessingFailedError(
			fmt.Sprintf("instagram: container %s failed processing: %s", remoteID, status.Detail),
		)
	}

	userID := strings.TrimSpace(cred.AccountID)
	payload, err := a.graph.Post(ctx, cred, userID+"/media_publish", map[string]string{
		"creation_id": remoteID,
	})
	if err != nil {
		return core.PublishResult{}, err
	}
	mediaID := meta.ReadString(payload, "id")
	if mediaID == "" {
		return core.PublishResult{}, core.NewPlatformRejectedError(
			"instagram: media_publish response missing id", 0, nil,
		)
	}

	permalink := ""
	if detail, detailErr := a.graph.Get(ctx, cred, mediaID, map[string]string{"fields": "permalink"}); detailErr == nil {
		permalink = meta.ReadString(detail, "permalink")
	}

	return core.PublishResult{
		RemoteID:  mediaID,
		Permalink: permalink,
		Status:    core.PublishStatusPublished,
	}, nil
}

var (
	_ core.Adapter             = (*Adapter)(nil)
	_ core.ProcessingPublisher = (*Adapter)(nil)
)
