package core

import (
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth expired", NewAuthExpiredError("tiktok", "creator_1"), false},
		{"platform rejected", NewPlatformRejectedError("caption too long", 400, nil), false},
		{"capability unsupported", NewCapabilityUnsupportedError("linkedin", CapabilityPublishStory), false},
		{"processing failed", NewProcessingFailedError("transcode error"), false},
		{"still processing", NewStillProcessingError("container_1"), false},
		{"transient", NewTransientError(fmt.Errorf("503"), "upstream unavailable"), true},
		{"upload failed", NewUploadFailedError(fmt.Errorf("timeout"), "chunk transfer"), true},
		{"plain error", fmt.Errorf("connection reset"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestFailureReasonForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureReason
	}{
		{"auth expired", NewAuthExpiredError("tiktok", "creator_1"), FailureReasonAuthExpired},
		{"wrapped auth expired", WrapAuthExpired(fmt.Errorf("invalid_grant"), "tiktok", "creator_1"), FailureReasonAuthExpired},
		{"upload failed", NewUploadFailedError(fmt.Errorf("timeout"), "chunk transfer"), FailureReasonUploadFailed},
		{"processing failed", NewProcessingFailedError("transcode error"), FailureReasonProcessingFailed},
		{"still processing", NewStillProcessingError("container_1"), FailureReasonProcessingFailed},
		{"capability unsupported", NewCapabilityUnsupportedError("linkedin", CapabilityPublishStory), FailureReasonUnsupportedCapability},
		{"platform rejected", NewPlatformRejectedError("caption too long", 400, nil), FailureReasonPlatformRejected},
		{"plain error defaults to rejection", fmt.Errorf("weird payload"), FailureReasonPlatformRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FailureReasonForError(tc.err); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPlatformRejectedErrorCarriesStatus(t *testing.T) {
	err := NewPlatformRejectedError("caption too long", 422, map[string]any{"field": "caption"})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected rich error, got %T", err)
	}
	if richErr.TextCode != PublishErrorPlatformRejected {
		t.Fatalf("unexpected text code %q", richErr.TextCode)
	}
	if richErr.Code != 422 {
		t.Fatalf("expected platform status carried as code, got %d", richErr.Code)
	}
	if richErr.Metadata["field"] != "caption" {
		t.Fatalf("expected caller metadata carried, got %v", richErr.Metadata)
	}
}

func TestMapErrorIsStable(t *testing.T) {
	mapped := MapError(fmt.Errorf("boom"))
	if mapped == nil {
		t.Fatalf("expected mapped error")
	}
	remapped := MapError(mapped)
	if remapped.TextCode != mapped.TextCode || remapped.Category != mapped.Category {
		t.Fatalf("re-mapping changed the envelope: %v vs %v", remapped, mapped)
	}
	if MapError(nil) != nil {
		t.Fatalf("mapping nil should stay nil")
	}
}
