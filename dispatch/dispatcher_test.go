package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-publisher/core"
)

type fakeAdapter struct {
	id           string
	capabilities []core.CapabilityDescriptor
	publish      func(ctx context.Context, req core.PublishRequest) (core.PublishResult, error)

	mu          sync.Mutex
	statusQueue []core.ProcessingStatus
	finalResult core.PublishResult
	finalErr    error
}

func (a *fakeAdapter) ID() string { return a.id }

func (a *fakeAdapter) Capabilities() []core.CapabilityDescriptor {
	return a.capabilities
}

func (a *fakeAdapter) Publish(ctx context.Context, req core.PublishRequest) (core.PublishResult, error) {
	return a.publish(ctx, req)
}

func (a *fakeAdapter) QueryProcessingStatus(context.Context, core.Credential, string) (core.ProcessingStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.statusQueue) == 0 {
		return core.ProcessingStatus{State: core.ProcessingStateCompleted}, nil
	}
	status := a.statusQueue[0]
	a.statusQueue = a.statusQueue[1:]
	return status, nil
}

func (a *fakeAdapter) FinalizePublish(context.Context, core.Credential, string, core.Content) (core.PublishResult, error) {
	return a.finalResult, a.finalErr
}

type fakeCredentials struct {
	mu     sync.Mutex
	errors map[string]error
	calls  int
}

func (c *fakeCredentials) GetValid(_ context.Context, platformID, accountID string) (core.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err, ok := c.errors[platformID]; ok {
		return core.Credential{}, err
	}
	return core.Credential{
		PlatformID:  platformID,
		AccountID:   accountID,
		AccessToken: "tok_" + platformID,
	}, nil
}

func syncTextAdapter(id string) *fakeAdapter {
	return &fakeAdapter{
		id: id,
		capabilities: []core.CapabilityDescriptor{
			{Name: core.CapabilityPublishText},
		},
		publish: func(context.Context, core.PublishRequest) (core.PublishResult, error) {
			return core.PublishResult{
				RemoteID: id + "_post_1",
				Status:   core.PublishStatusPublished,
			}, nil
		},
	}
}

func newTestDispatcher(t *testing.T, registry core.Registry, creds CredentialSource, options ...Option) *Dispatcher {
	t.Helper()
	base := []Option{WithPolling(time.Millisecond, time.Second)}
	dispatcher, err := New(registry, creds, append(base, options...)...)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return dispatcher
}

func TestDispatcher_PartialSuccessAcrossThreeAccounts(t *testing.T) {
	registry := core.NewAdapterRegistry()

	// A: synchronous publish.
	if err := registry.Register(syncTextAdapter("alpha")); err != nil {
		t.Fatalf("register alpha: %v", err)
	}
	// B: async processing that completes after two polls.
	beta := &fakeAdapter{
		id: "beta",
		capabilities: []core.CapabilityDescriptor{
			{Name: core.CapabilityPublishText, Async: true},
			{Name: core.CapabilityQueryStatus},
		},
		publish: func(context.Context, core.PublishRequest) (core.PublishResult, error) {
			return core.PublishResult{RemoteID: "beta_container_1", Status: core.PublishStatusProcessing}, nil
		},
		statusQueue: []core.ProcessingStatus{
			{State: core.ProcessingStateInProgress},
			{State: core.ProcessingStateInProgress},
			{State: core.ProcessingStateCompleted},
		},
		finalResult: core.PublishResult{RemoteID: "beta_post_1", Status: core.PublishStatusPublished},
	}
	if err := registry.Register(beta); err != nil {
		t.Fatalf("register beta: %v", err)
	}
	// C: expired credential.
	if err := registry.Register(syncTextAdapter("gamma")); err != nil {
		t.Fatalf("register gamma: %v", err)
	}
	creds := &fakeCredentials{errors: map[string]error{
		"gamma": core.NewAuthExpiredError("gamma", "acct_c"),
	}}

	dispatcher := newTestDispatcher(t, registry, creds)
	result, err := dispatcher.PublishToMany(context.Background(), core.Content{Caption: "release"}, []core.AccountRef{
		{PlatformID: "alpha", AccountID: "acct_a"},
		{PlatformID: "beta", AccountID: "acct_b"},
		{PlatformID: "gamma", AccountID: "acct_c"},
	})
	if err != nil {
		t.Fatalf("publish to many: %v", err)
	}

	if result.Outcome != core.AggregateOutcomePartialSuccess {
		t.Fatalf("expected partial success, got %s", result.Outcome)
	}
	if len(result.Results) != 3 {
		t.Fatalf("expected all three account details, got %d", len(result.Results))
	}

	byPlatform := map[string]core.AccountResult{}
	for _, detail := range result.Results {
		byPlatform[detail.PlatformID] = detail
	}
	if byPlatform["alpha"].Status != core.TaskStatusPublished {
		t.Fatalf("expected alpha published, got %+v", byPlatform["alpha"])
	}
	if byPlatform["beta"].Status != core.TaskStatusPublished {
		t.Fatalf("expected beta published after polling, got %+v", byPlatform["beta"])
	}
	if byPlatform["beta"].RemoteID != "beta_post_1" {
		t.Fatalf("expected finalized remote id, got %q", byPlatform["beta"].RemoteID)
	}
	if byPlatform["gamma"].Status != core.TaskStatusFailed {
		t.Fatalf("expected gamma failed, got %+v", byPlatform["gamma"])
	}
	if byPlatform["gamma"].FailureReason != core.FailureReasonAuthExpired {
		t.Fatalf("expected auth_expired reason, got %s", byPlatform["gamma"].FailureReason)
	}
}

func TestDispatcher_AllPublished(t *testing.T) {
	registry := core.NewAdapterRegistry()
	registry.Register(syncTextAdapter("alpha"))
	dispatcher := newTestDispatcher(t, registry, &fakeCredentials{})

	result, err := dispatcher.PublishToMany(context.Background(), core.Content{Caption: "hi"}, []core.AccountRef{
		{PlatformID: "alpha", AccountID: "acct_1"},
		{PlatformID: "alpha", AccountID: "acct_2"},
	})
	if err != nil {
		t.Fatalf("publish to many: %v", err)
	}
	if result.Outcome != core.AggregateOutcomePublished {
		t.Fatalf("expected published aggregate, got %s", result.Outcome)
	}
}

func TestDispatcher_EmptyAccountListFoldsToFailed(t *testing.T) {
	registry := core.NewAdapterRegistry()
	dispatcher := newTestDispatcher(t, registry, &fakeCredentials{})

	result, err := dispatcher.PublishToMany(context.Background(), core.Content{Caption: "hi"}, nil)
	if err != nil {
		t.Fatalf("publish to many: %v", err)
	}
	if result.Outcome != core.AggregateOutcomeFailed {
		t.Fatalf("expected failed aggregate for zero accounts, got %s", result.Outcome)
	}
	if len(result.Results) != 0 {
		t.Fatalf("expected no details, got %d", len(result.Results))
	}
}

func TestDispatcher_CapabilityCheckedBeforeNetwork(t *testing.T) {
	registry := core.NewAdapterRegistry()
	registry.Register(syncTextAdapter("alpha"))
	creds := &fakeCredentials{}
	dispatcher := newTestDispatcher(t, registry, creds)

	result, err := dispatcher.PublishToMany(context.Background(), core.Content{
		Caption:  "clip",
		VideoURL: "https://cdn.example/clip.mp4",
	}, []core.AccountRef{{PlatformID: "alpha", AccountID: "acct_1"}})
	if err != nil {
		t.Fatalf("publish to many: %v", err)
	}
	if result.Results[0].FailureReason != core.FailureReasonUnsupportedCapability {
		t.Fatalf("expected unsupported_capability, got %+v", result.Results[0])
	}
	if creds.calls != 0 {
		t.Fatalf("credential lookup must not run for unsupported capability")
	}
}

func TestDispatcher_UnknownPlatformFailsThatTaskOnly(t *testing.T) {
	registry := core.NewAdapterRegistry()
	registry.Register(syncTextAdapter("alpha"))
	dispatcher := newTestDispatcher(t, registry, &fakeCredentials{})

	result, err := dispatcher.PublishToMany(context.Background(), core.Content{Caption: "hi"}, []core.AccountRef{
		{PlatformID: "alpha", AccountID: "acct_1"},
		{PlatformID: "unknown", AccountID: "acct_2"},
	})
	if err != nil {
		t.Fatalf("publish to many: %v", err)
	}
	if result.Outcome != core.AggregateOutcomePartialSuccess {
		t.Fatalf("expected partial success, got %s", result.Outcome)
	}
}

func TestDispatcher_ProcessingTimeoutFailsTask(t *testing.T) {
	registry := core.NewAdapterRegistry()
	stuck := &fakeAdapter{
		id: "beta",
		capabilities: []core.CapabilityDescriptor{
			{Name: core.CapabilityPublishText, Async: true},
		},
		publish: func(context.Context, core.PublishRequest) (core.PublishResult, error) {
			return core.PublishResult{RemoteID: "container_1", Status: core.PublishStatusProcessing}, nil
		},
	}
	// The queue never yields a terminal state.
	for i := 0; i < 10_000; i++ {
		stuck.statusQueue = append(stuck.statusQueue, core.ProcessingStatus{State: core.ProcessingStateInProgress})
	}
	registry.Register(stuck)

	dispatcher := newTestDispatcher(t, registry, &fakeCredentials{},
		WithPolling(time.Millisecond, 20*time.Millisecond))

	result, err := dispatcher.PublishToMany(context.Background(), core.Content{Caption: "hi"}, []core.AccountRef{
		{PlatformID: "beta", AccountID: "acct_1"},
	})
	if err != nil {
		t.Fatalf("publish to many: %v", err)
	}
	detail := result.Results[0]
	if detail.Status != core.TaskStatusFailed {
		t.Fatalf("expected failed task, got %s", detail.Status)
	}
	if detail.FailureReason != core.FailureReasonProcessingFailed {
		t.Fatalf("expected processing_failed on timeout, got %s", detail.FailureReason)
	}
}

func TestDispatcher_CancelDuringProcessing(t *testing.T) {
	registry := core.NewAdapterRegistry()
	started := make(chan string, 1)
	slow := &fakeAdapter{
		id: "beta",
		capabilities: []core.CapabilityDescriptor{
			{Name: core.CapabilityPublishText, Async: true},
		},
		publish: func(context.Context, core.PublishRequest) (core.PublishResult, error) {
			return core.PublishResult{RemoteID: "container_1", Status: core.PublishStatusProcessing}, nil
		},
	}
	for i := 0; i < 10_000; i++ {
		slow.statusQueue = append(slow.statusQueue, core.ProcessingStatus{State: core.ProcessingStateInProgress})
	}
	registry.Register(slow)

	broker := NewEventBroker(16)
	events, stop := broker.Subscribe()
	defer stop()

	dispatcher := newTestDispatcher(t, registry, &fakeCredentials{},
		WithPolling(5*time.Millisecond, time.Minute),
		WithEventSink(broker))

	go func() {
		for event := range events {
			if event.To == core.TaskStatusProcessing {
				select {
				case started <- event.TaskID:
				default:
				}
			}
		}
	}()

	done := make(chan core.AggregateResult, 1)
	go func() {
		result, _ := dispatcher.PublishToMany(context.Background(), core.Content{Caption: "hi"}, []core.AccountRef{
			{PlatformID: "beta", AccountID: "acct_1"},
		})
		done <- result
	}()

	var taskID string
	select {
	case taskID = <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("task never reached processing")
	}
	if !dispatcher.Cancel(taskID) {
		t.Fatalf("expected cancel to find the active task")
	}

	var result core.AggregateResult
	select {
	case result = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not finish after cancel")
	}
	detail := result.Results[0]
	if detail.Status != core.TaskStatusFailed {
		t.Fatalf("expected failed task, got %s", detail.Status)
	}
	if detail.FailureReason != core.FailureReasonCancelled {
		t.Fatalf("expected cancelled reason, got %s", detail.FailureReason)
	}
}

func TestDispatcher_EventStreamSeesEveryTransition(t *testing.T) {
	registry := core.NewAdapterRegistry()
	registry.Register(syncTextAdapter("alpha"))

	broker := NewEventBroker(16)
	events, stop := broker.Subscribe()
	defer stop()

	dispatcher := newTestDispatcher(t, registry, &fakeCredentials{}, WithEventSink(broker))
	if _, err := dispatcher.PublishToMany(context.Background(), core.Content{Caption: "hi"}, []core.AccountRef{
		{PlatformID: "alpha", AccountID: "acct_1"},
	}); err != nil {
		t.Fatalf("publish to many: %v", err)
	}
	broker.Close()

	var transitions []core.TaskStatus
	for event := range events {
		transitions = append(transitions, event.To)
	}
	if len(transitions) != 2 {
		t.Fatalf("expected uploading then published, got %v", transitions)
	}
	if transitions[0] != core.TaskStatusUploading || transitions[1] != core.TaskStatusPublished {
		t.Fatalf("unexpected transition order %v", transitions)
	}
}

func TestFoldResults_AggregateLaw(t *testing.T) {
	published := core.AccountResult{Status: core.TaskStatusPublished}
	failed := core.AccountResult{Status: core.TaskStatusFailed}

	if got := core.FoldResults(nil).Outcome; got != core.AggregateOutcomeFailed {
		t.Fatalf("empty fold: expected failed, got %s", got)
	}
	if got := core.FoldResults([]core.AccountResult{published}).Outcome; got != core.AggregateOutcomePublished {
		t.Fatalf("single published: got %s", got)
	}
	if got := core.FoldResults([]core.AccountResult{failed}).Outcome; got != core.AggregateOutcomeFailed {
		t.Fatalf("single failed: got %s", got)
	}
	if got := core.FoldResults([]core.AccountResult{published, failed}).Outcome; got != core.AggregateOutcomePartialSuccess {
		t.Fatalf("mixed: got %s", got)
	}
	if got := core.FoldResults([]core.AccountResult{published, published, published}).Outcome; got != core.AggregateOutcomePublished {
		t.Fatalf("all published: got %s", got)
	}
}
