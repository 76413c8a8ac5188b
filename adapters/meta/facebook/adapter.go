package facebook

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	meta "github.com/goliatone/go-publisher/adapters/meta/common"
	"github.com/goliatone/go-publisher/core"
)

const AdapterID = "meta_facebook"

// Adapter publishes to Facebook Pages through the Graph API. Every
// capability here resolves in a single call, so publish outcomes are
// always synchronous.
type Adapter struct {
	graph *meta.GraphClient
}

func New(transport core.TransportAdapter) (*Adapter, error) {
	if transport == nil {
		return nil, fmt.Errorf("facebook: transport adapter is required")
	}
	return &Adapter{graph: meta.NewGraphClient(transport)}, nil
}

func NewWithGraph(graph *meta.GraphClient) (*Adapter, error) {
	if graph == nil {
		return nil, fmt.Errorf("facebook: graph client is required")
	}
	return &Adapter{graph: graph}, nil
}

func (a *Adapter) ID() string {
	return AdapterID
}

func (a *Adapter) Capabilities() []core.CapabilityDescriptor {
	return []core.CapabilityDescriptor{
		{Name: core.CapabilityPublishText},
		{Name: core.CapabilityPublishImage},
		{Name: core.CapabilityPublishVideo},
		{Name: core.CapabilityListPosts},
		{Name: core.CapabilityComment},
		{Name: core.CapabilityDeletePost},
	}
}

func (a *Adapter) Publish(ctx context.Context, req core.PublishRequest) (core.PublishResult, error) {
	if a == nil || a.graph == nil {
		return core.PublishResult{}, fmt.Errorf("facebook: adapter is not configured")
	}
	pageID := strings.TrimSpace(req.AccountID)
	if pageID == "" {
		return core.PublishResult{}, fmt.Errorf("facebook: page id is required")
	}
	if err := req.Content.Validate(); err != nil {
		return core.PublishResult{}, err
	}

	switch kind := req.Content.ResolveKind(); kind {
	case core.ContentKindText:
		return a.publishText(ctx, req.Credential, pageID, req.Content)
	case core.ContentKindImageSet:
		return a.publishImages(ctx, req.Credential, pageID, req.Content)
	case core.ContentKindVideo:
		return a.publishVideo(ctx, req.Credential, pageID, req.Content)
	default:
		return core.PublishResult{}, core.NewCapabilityUnsupportedError(AdapterID, core.CapabilityForKind(kind))
	}
}

func (a *Adapter) publishText(ctx context.Context, cred core.Credential, pageID string, content core.Content) (core.PublishResult, error) {
	payload, err := a.graph.Post(ctx, cred, pageID+"/feed", map[string]string{
		"message": content.Caption,
	})
	if err != nil {
		return core.PublishResult{}, err
	}
	return resultFromGraph(payload, pageID), nil
}

func (a *Adapter) publishImages(ctx context.Context, cred core.Credential, pageID string, content core.Content) (core.PublishResult, error) {
	// Single image posts attach the caption to the photo itself. Multi
	// image posts stage each photo unpublished, then bind them to one
	// feed story.
	if len(content.ImageURLs) == 1 {
		payload, err := a.graph.Post(ctx, cred, pageID+"/photos", map[string]string{
			"url":     content.ImageURLs[0],
			"caption": content.Caption,
		})
		if err != nil {
			return core.PublishResult{}, err
		}
		return resultFromGraph(payload, pageID), nil
	}

	photoIDs := make([]string, 0, len(content.ImageURLs))
	for _, imageURL := range content.ImageURLs {
		payload, err := a.graph.Post(ctx, cred, pageID+"/photos", map[string]string{
			"url":       imageURL,
			"published": "false",
		})
		if err != nil {
			return core.PublishResult{}, err
		}
		photoID := meta.ReadString(payload, "id")
		if photoID == "" {
			return core.PublishResult{}, core.NewPlatformRejectedError(
				"facebook: staged photo response missing id", 0, nil,
			)
		}
		photoIDs = append(photoIDs, photoID)
	}

	params := map[string]string{"message": content.Caption}
	for i, photoID := range photoIDs {
		params["attached_media["+strconv.Itoa(i)+"]"] = `{"media_fbid":"` + photoID + `"}`
	}
	payload, err := a.graph.Post(ctx, cred, pageID+"/feed", params)
	if err != nil {
		return core.PublishResult{}, err
	}
	return resultFromGraph(payload, pageID), nil
}

func (a *Adapter) publishVideo(ctx context.Context, cred core.Credential, pageID string, content core.Content) (core.PublishResult, error) {
	payload, err := a.graph.Post(ctx, cred, pageID+"/videos", map[string]string{
		"file_url":    content.VideoURL,
		"title":       content.Title,
		"description": content.Caption,
	})
	if err != nil {
		return core.PublishResult{}, err
	}
	return resultFromGraph(payload, pageID), nil
}

func (a *Adapter) ListPosts(ctx context.Context, cred core.Credential, accountID string, limit int) ([]core.RemotePost, error) {
	if limit <= 0 {
		limit = 25
	}
	payload, err := a.graph.Get(ctx, cred, strings.TrimSpace(accountID)+"/feed", map[string]string{
		"fields": "id,message,permalink_url,created_time",
		"limit":  strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}

	items := meta.ReadSlice(payload, "data")
	posts := make([]core.RemotePost, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		post := core.RemotePost{
			RemoteID:  meta.ReadString(entry, "id"),
			Permalink: meta.ReadString(entry, "permalink_url"),
			Caption:   meta.ReadString(entry, "message"),
		}
		if raw := meta.ReadString(entry, "created_time"); raw != "" {
			if createdAt, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
				post.CreatedAt = &createdAt
			}
		}
		posts = append(posts, post)
	}
	return posts, nil
}

func (a *Adapter) Comment(ctx context.Context, cred core.Credential, remoteID string, message string) (string, error) {
	payload, err := a.graph.Post(ctx, cred, strings.TrimSpace(remoteID)+"/comments", map[string]string{
		"message": message,
	})
	if err != nil {
		return "", err
	}
	commentID := meta.ReadString(payload, "id")
	if commentID == "" {
		return "", core.NewPlatformRejectedError("facebook: comment response missing id", 0, nil)
	}
	return commentID, nil
}

func (a *Adapter) DeletePost(ctx context.Context, cred core.Credential, remoteID string) error {
	_, err := a.graph.Delete(ctx, cred, strings.TrimSpace(remoteID))
	return err
}

func resultFromGraph(payload map[string]any, pageID string) core.PublishResult {
	remoteID := meta.ReadString(payload, "id")
	if remoteID == "" {
		remoteID = meta.ReadString(payload, "post_id")
	}
	return core.PublishResult{
		RemoteID:  remoteID,
		Permalink: permalinkFor(remoteID, pageID),
		Status:    core.PublishStatusPublished,
	}
}

func permalinkFor(remoteID, pageID string) string {
	if remoteID == "" {
		return ""
	}
	// Feed ids come back as {page}_{post}; the permalink wants the bare
	// post id.
	if postID, ok := strings.CutPrefix(remoteID, pageID+"_"); ok && postID != "" {
		return "https://www.facebook.com/" + pageID + "/posts/" + postID
	}
	return "https://www.facebook.com/" + remoteID
}

var (
	_ core.Adapter     = (*Adapter)(nil)
	_ core.PostLister  = (*Adapter)(nil)
	_ core.Commenter   = (*Adapter)(nil)
	_ core.PostDeleter = (*Adapter)(nil)
)
