package instagram

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/goliatone/go-publisher/adapters/devkit"
	"github.com/goliatone/go-publisher/core"
)

func testCredential() core.Credential {
	return core.Credential{
		PlatformID:  AdapterID,
		AccountID:   "ig_user_1",
		AccessToken: "tok_ig",
	}
}

func TestAdapter_PublishReelReturnsProcessingContainer(t *testing.T) {
	fake := devkit.NewFakeTransportAdapter("rest",
		devkit.JSONScript(200, `{"id": "container_1"}`),
	)
	adapter, err := New(fake)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	result, err := adapter.Publish(context.Background(), core.PublishRequest{
		Credential: testCredential(),
		AccountID:  "ig_user_1",
		Content: core.Content{
			Kind:     core.ContentKindReel,
			Caption:  "new reel",
			VideoURL: "https://cdn.example/reel.mp4",
		},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.Status != core.PublishStatusProcessing {
		t.Fatalf("expected processing outcome, got %s", result.Status)
	}
	if result.RemoteID != "container_1" {
		t.Fatalf("expected container id, got %q", result.RemoteID)
	}

	requests := fake.Requests()
	form, _ := url.ParseQuery(string(requests[0].Body))
	if form.Get("media_type") != "REELS" {
		t.Fatalf("expected REELS media type, got %q", form.Get("media_type"))
	}
	if form.Get("video_url") != "https://cdn.example/reel.mp4" {
		t.Fatalf("expected video url, got %q", form.Get("video_url"))
	}
}

func TestAdapter_PublishCarouselStagesChildren(t *testing.T) {
	fake := devkit.NewFakeTransportAdapter("rest",
		devkit.JSONScript(200, `{"id": "child_1"}`),
		devkit.JSONScript(200, `{"id": "child_2"}`),
		devkit.JSONScript(200, `{"id": "carousel_1"}`),
	)
	adapter, _ := New(fake)

	result, err := adapter.Publish(context.Background(), core.PublishRequest{
		Credential: testCredential(),
		AccountID:  "ig_user_1",
		Content: core.Content{
			Caption:   "gallery",
			ImageURLs: []string{"https://cdn.example/a.jpg", "https://cdn.example/b.jpg"},
		},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.RemoteID != "carousel_1" {
		t.Fatalf("expected carousel container, got %q", result.RemoteID)
	}

	requests := fake.Requests()
	if len(requests) != 3 {
		t.Fatalf("expected two children plus carousel, got %d", len(requests))
	}
	childForm, _ := url.ParseQuery(string(requests[0].Body))
	if childForm.Get("is_carousel_item") != "true" {
		t.Fatalf("expected carousel item flag")
	}
	carouselForm, _ := url.ParseQuery(string(requests[2].Body))
	if carouselForm.Get("children") != "child_1,child_2" {
		t.Fatalf("expected child list, got %q", carouselForm.Get("children"))
	}
}

func TestAdapter_QueryProcessingStatus(t *testing.T) {
	fake := devkit.NewFakeTransportAdapter("rest",
		devkit.JSONScript(200, `{"status_code": "IN_PROGRESS"}`),
		devkit.JSONScript(200, `{"status_code": "FINISHED"}`),
		devkit.JSONScript(200, `{"status_code": "ERROR", "status": "codec rejected"}`),
	)
	adapter, _ := New(fake)
	ctx := context.Background()

	status, err := adapter.QueryProcessingStatus(ctx, testCredential(), "container_1")
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status.State != core.ProcessingStateInProgress {
		t.Fatalf("expected in progress, got %s", status.State)
	}

	status, _ = adapter.QueryProcessingStatus(ctx, testCredential(), "container_1")
	if status.State != core.ProcessingStateCompleted {
		t.Fatalf("expected completed, got %s", status.State)
	}

	status, _ = adapter.QueryProcessingStatus(ctx, testCredential(), "container_1")
	if status.State != core.ProcessingStateFailed {
		t.Fatalf("expected failed, got %s", status.State)
	}
	if !strings.Contains(status.Detail, "codec") {
		t.Fatalf("expected failure detail, got %q", status.Detail)
	}
}

func TestAdapter_FinalizeBeforeCompletionFails(t *testing.T) {
	fake := devkit.NewFakeTransportAdapter("rest",
		devkit.JSONScript(200, `{"status_code": "IN_PROGRESS"}`),
	)
	adapter, _ := New(fake)

	_, err := adapter.FinalizePublish(context.Background(), testCredential(), "container_1", core.Content{})
	if err == nil {
		t.Fatalf("expected still-processing error")
	}
	if core.IsRetryable(err) {
		t.Fatalf("expected non-retryable still-processing error, got %v", err)
	}
	if len(fake.Requests()) != 1 {
		t.Fatalf("media_publish must not run before completion")
	}
}

func TestAdapter_FinalizePublishesFinishedContainer(t *testing.T) {
	fake := devkit.NewFakeTransportAdapter("rest",
		devkit.JSONScript(200, `{"status_code": "FINISHED"}`),
		devkit.JSONScript(200, `{"id": "media_1"}`),
		devkit.JSONScript(200, `{"permalink": "https://www.instagram.com/p/abc/"}`),
	)
	adapter, _ := New(fake)

	result, err := adapter.FinalizePublish(context.Background(), testCredential(), "container_1", core.Content{})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if result.RemoteID != "media_1" {
		t.Fatalf("expected media id, got %q", result.RemoteID)
	}
	if result.Permalink != "https://www.instagram.com/p/abc/" {
		t.Fatalf("unexpected permalink %q", result.Permalink)
	}
	if result.Status != core.PublishStatusPublished {
		t.Fatalf("expected published, got %s", result.Status)
	}

	requests := fake.Requests()
	if !strings.Contains(requests[1].URL, "ig_user_1/media_publish") {
		t.Fatalf("expected media_publish call, got %s", requests[1].URL)
	}
}

func TestAdapter_RejectsTextContent(t *testing.T) {
	adapter, _ := New(devkit.NewFakeTransportAdapter("rest"))
	_, err := adapter.Publish(context.Background(), core.PublishRequest{
		Credential: testCredential(),
		AccountID:  "ig_user_1",
		Content:    core.Content{Caption: "text only"},
	})
	if err == nil {
		t.Fatalf("expected capability error for text content")
	}
	if core.FailureReasonForError(err) != core.FailureReasonUnsupportedCapability {
		t.Fatalf("expected unsupported capability reason, got %v", err)
	}
}
