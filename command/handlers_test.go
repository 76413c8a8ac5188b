package command

import (
	"context"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-publisher/core"
)

type stubPublishingService struct {
	publishFn func(ctx context.Context, content core.Content, accounts []core.AccountRef) (core.AggregateResult, error)
	cancelFn  func(taskID string) bool
}

func (s stubPublishingService) PublishToMany(ctx context.Context, content core.Content, accounts []core.AccountRef) (core.AggregateResult, error) {
	return s.publishFn(ctx, content, accounts)
}

func (s stubPublishingService) Cancel(taskID string) bool {
	if s.cancelFn == nil {
		return false
	}
	return s.cancelFn(taskID)
}

type stubCredentialService struct {
	getValidFn func(ctx context.Context, platformID, accountID string) (core.Credential, error)
	revokeFn   func(ctx context.Context, platformID, accountID string) error
	ingestFn   func(ctx context.Context, cred core.Credential) error
}

func (s stubCredentialService) GetValid(ctx context.Context, platformID, accountID string) (core.Credential, error) {
	return s.getValidFn(ctx, platformID, accountID)
}

func (s stubCredentialService) Revoke(ctx context.Context, platformID, accountID string) error {
	return s.revokeFn(ctx, platformID, accountID)
}

func (s stubCredentialService) Ingest(ctx context.Context, cred core.Credential) error {
	return s.ingestFn(ctx, cred)
}

func TestPublishCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.AggregateResult{Outcome: core.AggregateOutcomePublished}
	called := false

	svc := stubPublishingService{
		publishFn: func(_ context.Context, content core.Content, accounts []core.AccountRef) (core.AggregateResult, error) {
			called = true
			if content.Caption != "release notes" {
				t.Fatalf("unexpected caption %q", content.Caption)
			}
			if len(accounts) != 2 {
				t.Fatalf("expected two accounts, got %d", len(accounts))
			}
			return expected, nil
		},
	}

	cmd := NewPublishCommand(svc)
	collector := gocmd.NewResult[core.AggregateResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, PublishMessage{
		Content: core.Content{Caption: "release notes"},
		Accounts: []core.AccountRef{
			{PlatformID: "meta_facebook", AccountID: "page_1"},
			{PlatformID: "linkedin", AccountID: "member_1"},
		},
	})
	if err != nil {
		t.Fatalf("execute publish: %v", err)
	}
	if !called {
		t.Fatalf("expected publish invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.Outcome != core.AggregateOutcomePublished {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestCancelTaskCommand_UnknownTaskErrors(t *testing.T) {
	cmd := NewCancelTaskCommand(stubPublishingService{
		publishFn: func(context.Context, core.Content, []core.AccountRef) (core.AggregateResult, error) {
			return core.AggregateResult{}, nil
		},
		cancelFn: func(string) bool { return false },
	})
	if err := cmd.Execute(context.Background(), CancelTaskMessage{TaskID: "task_missing"}); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestRefreshCredentialCommand_StoresCredential(t *testing.T) {
	svc := stubCredentialService{
		getValidFn: func(_ context.Context, platformID, accountID string) (core.Credential, error) {
			return core.Credential{PlatformID: platformID, AccountID: accountID, AccessToken: "tok"}, nil
		},
	}

	cmd := NewRefreshCredentialCommand(svc)
	collector := gocmd.NewResult[core.Credential]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, RefreshCredentialMessage{
		Account: core.AccountRef{PlatformID: "tiktok", AccountID: "creator_1"},
	})
	if err != nil {
		t.Fatalf("execute refresh: %v", err)
	}
	cred, ok := collector.Load()
	if !ok {
		t.Fatalf("expected credential stored")
	}
	if cred.AccessToken != "tok" {
		t.Fatalf("unexpected credential %#v", cred)
	}
}

func TestMessageValidation(t *testing.T) {
	if err := (PublishMessage{}).Validate(); err == nil {
		t.Fatalf("expected validation failure for empty publish message")
	}
	if err := (PublishMessage{
		Content:  core.Content{Caption: "hi"},
		Accounts: []core.AccountRef{{PlatformID: "linkedin", AccountID: "m1"}},
	}).Validate(); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := (CancelTaskMessage{}).Validate(); err == nil {
		t.Fatalf("expected task id requirement")
	}
	if err := (RefreshCredentialMessage{}).Validate(); err == nil {
		t.Fatalf("expected account requirement")
	}
	if err := (IngestCredentialMessage{Credential: core.Credential{
		PlatformID: "linkedin", AccountID: "m1",
	}}).Validate(); err == nil {
		t.Fatalf("expected access token requirement")
	}
}
