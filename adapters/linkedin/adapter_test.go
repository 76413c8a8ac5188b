package linkedin

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/goliatone/go-publisher/adapters/devkit"
	"github.com/goliatone/go-publisher/core"
)

func testCredential() core.Credential {
	return core.Credential{
		PlatformID:  AdapterID,
		AccountID:   "member_1",
		AccessToken: "tok_li",
	}
}

func TestAdapter_PublishText(t *testing.T) {
	fake := devkit.NewFakeTransportAdapter("rest",
		devkit.TransportScript{Response: core.TransportResponse{
			StatusCode: 201,
			Headers:    map[string]string{"X-RestLi-Id": "urn:li:share:100"},
		}},
	)
	adapter, err := New(fake)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	result, err := adapter.Publish(context.Background(), core.PublishRequest{
		Credential: testCredential(),
		AccountID:  "member_1",
		Content:    core.Content{Caption: "shipping update"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.RemoteID != "urn:li:share:100" {
		t.Fatalf("unexpected remote id %q", result.RemoteID)
	}
	if result.Status != core.PublishStatusPublished {
		t.Fatalf("expected synchronous publish, got %s", result.Status)
	}
	if !strings.Contains(result.Permalink, "feed/update/urn:li:share:100") {
		t.Fatalf("unexpected permalink %q", result.Permalink)
	}

	requests := fake.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected one call for a text share, got %d", len(requests))
	}
	var share map[string]any
	if err := json.Unmarshal(requests[0].Body, &share); err != nil {
		t.Fatalf("decode share body: %v", err)
	}
	if share["author"] != "urn:li:person:member_1" {
		t.Fatalf("expected person urn, got %v", share["author"])
	}
	if requests[0].Headers["X-Restli-Protocol-Version"] != "2.0.0" {
		t.Fatalf("expected restli protocol header")
	}
}

func TestAdapter_PublishImageRunsAssetFlow(t *testing.T) {
	fake := devkit.NewFakeTransportAdapter("rest",
		devkit.JSONScript(200, `{
			"value": {
				"asset": "urn:li:digitalmediaAsset:abc",
				"uploadMechanism": {
					"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest": {
						"uploadUrl": "https://upload.example/li/abc"
					}
				}
			}
		}`),
		devkit.TransportScript{Response: core.TransportResponse{StatusCode: 200, Body: []byte("media-bytes")}},
		devkit.TransportScript{Response: core.TransportResponse{StatusCode: 201}},
		devkit.TransportScript{Response: core.TransportResponse{
			StatusCode: 201,
			Headers:    map[string]string{"X-RestLi-Id": "urn:li:share:200"},
		}},
	)
	adapter, _ := New(fake)

	result, err := adapter.Publish(context.Background(), core.PublishRequest{
		Credential: testCredential(),
		AccountID:  "member_1",
		Content: core.Content{
			Caption:   "new diagram",
			ImageURLs: []string{"https://cdn.example/diagram.png"},
		},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.RemoteID != "urn:li:share:200" {
		t.Fatalf("unexpected remote id %q", result.RemoteID)
	}

	requests := fake.Requests()
	if len(requests) != 4 {
		t.Fatalf("expected register, fetch, put, share, got %d calls", len(requests))
	}
	if !strings.Contains(requests[0].URL, "assets?action=registerUpload") {
		t.Fatalf("expected register call, got %s", requests[0].URL)
	}
	if requests[1].URL != "https://cdn.example/diagram.png" {
		t.Fatalf("expected media fetch, got %s", requests[1].URL)
	}
	if requests[2].Method != "PUT" || requests[2].URL != "https://upload.example/li/abc" {
		t.Fatalf("expected PUT to upload url, got %s %s", requests[2].Method, requests[2].URL)
	}
	if string(requests[2].Body) != "media-bytes" {
		t.Fatalf("expected fetched media forwarded to upload")
	}

	var share map[string]any
	if err := json.Unmarshal(requests[3].Body, &share); err != nil {
		t.Fatalf("decode share body: %v", err)
	}
	content := share["specificContent"].(map[string]any)["com.linkedin.ugc.ShareContent"].(map[string]any)
	if content["shareMediaCategory"] != "IMAGE" {
		t.Fatalf("expected IMAGE category, got %v", content["shareMediaCategory"])
	}
}

func TestAdapter_UnauthorizedExpiresAuth(t *testing.T) {
	fake := devkit.NewFakeTransportAdapter("rest",
		devkit.TransportScript{Response: core.TransportResponse{StatusCode: 401}},
	)
	adapter, _ := New(fake)

	_, err := adapter.Publish(context.Background(), core.PublishRequest{
		Credential: testCredential(),
		AccountID:  "member_1",
		Content:    core.Content{Caption: "hello"},
	})
	if err == nil {
		t.Fatalf("expected auth error")
	}
	if core.FailureReasonForError(err) != core.FailureReasonAuthExpired {
		t.Fatalf("expected auth_expired reason, got %v", err)
	}
}

func TestAuthorURN(t *testing.T) {
	if got := authorURN("member_1"); got != "urn:li:person:member_1" {
		t.Fatalf("unexpected urn %q", got)
	}
	if got := authorURN("urn:li:organization:42"); got != "urn:li:organization:42" {
		t.Fatalf("expected urn passthrough, got %q", got)
	}
}
