package tiktok

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-publisher/core"
	"github.com/goliatone/go-publisher/upload"
)

// videoProtocol is the wire dialect for one video upload. The publish id
// travels in the session's RemoteID; the upload URL in its metadata.
type videoProtocol struct {
	adapter *Adapter
	content core.Content
}

func (p *videoProtocol) InitUpload(ctx context.Context, cred core.Credential, totalBytes int64, _ upload.InitHints) (core.UploadSession, error) {
	chunkSize := p.adapter.chunkSize
	if chunkSize > totalBytes {
		chunkSize = totalBytes
	}
	chunkCount := totalBytes / chunkSize
	if totalBytes%chunkSize != 0 {
		chunkCount++
	}

	payload, err := p.adapter.postJSON(ctx, cred, "/v2/post/publish/video/init/", map[string]any{
		"post_info": map[string]any{
			"title":         p.content.Caption,
			"privacy_level": privacyFor(p.content.Visibility),
		},
		"source_info": map[string]any{
			"source":            "FILE_UPLOAD",
			"video_size":        totalBytes,
			"chunk_size":        chunkSize,
			"total_chunk_count": chunkCount,
		},
	})
	if err != nil {
		return core.UploadSession{}, err
	}

	data := readMap(payload, "data")
	publishID := readString(data, "publish_id")
	uploadURL := readString(data, "upload_url")
	if publishID == "" || uploadURL == "" {
		return core.UploadSession{}, core.NewUploadFailedError(nil, "tiktok: init response missing publish id or upload url")
	}

	// The server may negotiate a different first chunk than requested.
	firstLength := readInt64(data, "chunk_size")
	if firstLength <= 0 {
		firstLength = chunkSize
	}

	now := time.Now().UTC()
	return core.UploadSession{
		ID:         publishID,
		RemoteID:   publishID,
		TotalBytes: totalBytes,
		NextOffset: 0,
		NextLength: firstLength,
		State:      core.UploadStateStarted,
		Metadata:   map[string]any{"upload_url": uploadURL},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (p *videoProtocol) UploadChunk(ctx context.Context, cred core.Credential, session core.UploadSession, start, end int64, data []byte) (int64, int64, error) {
	uploadURL := readString(session.Metadata, "upload_url")
	if uploadURL == "" {
		return 0, 0, core.NewUploadFailedError(nil, "tiktok: session is missing its upload url")
	}

	res, err := p.adapter.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodPut,
		URL:    uploadURL,
		Headers: map[string]string{
			"Authorization": "Bearer " + cred.AccessToken,
			"Content-Type":  "video/mp4",
			"Content-Range": fmt.Sprintf("bytes %d-%d/%d", start, end-1, session.TotalBytes),
		},
		Body: data,
	})
	if err != nil {
		return 0, 0, err
	}
	payload, err := decodePayload(res, cred)
	if err != nil {
		return 0, 0, err
	}

	// Each accepted chunk response dictates the next range. A missing
	// range means the server accepted what we asked and wants the
	// default continuation.
	responseData := readMap(payload, "data")
	nextOffset := readInt64(responseData, "next_offset")
	nextLength := readInt64(responseData, "next_length")
	if nextOffset <= 0 && responseData == nil {
		nextOffset = end
	}
	if nextOffset < end {
		nextOffset = end
	}
	if nextLength <= 0 {
		nextLength = end - start
	}
	return nextOffset, nextLength, nil
}

func (p *videoProtocol) Finalize(ctx context.Context, cred core.Credential, session core.UploadSession) (string, error) {
	payload, err := p.adapter.postJSON(ctx, cred, "/v2/post/publish/complete/", map[string]any{
		"publish_id": session.RemoteID,
	})
	if err != nil {
		return "", err
	}
	data := readMap(payload, "data")
	publishID := readString(data, "publish_id")
	if publishID == "" {
		publishID = strings.TrimSpace(session.RemoteID)
	}
	return publishID, nil
}

func (p *videoProtocol) Abort(ctx context.Context, cred core.Credential, session core.UploadSession) error {
	_, err := p.adapter.postJSON(ctx, cred, "/v2/post/publish/cancel/", map[string]any{
		"publish_id": session.RemoteID,
	})
	return err
}

func privacyFor(visibility core.Visibility) string {
	switch visibility {
	case core.VisibilityPrivate:
		return "SELF_ONLY"
	case core.VisibilityUnlisted:
		return "FOLLOWER_OF_CREATOR"
	default:
		return "PUBLIC_TO_EVERYONE"
	}
}

var _ upload.Protocol = (*videoProtocol)(nil)
