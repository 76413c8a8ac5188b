package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memoryStore struct {
	mu        sync.Mutex
	creds     map[string]Credential
	loadCalls int
	upsertErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{creds: make(map[string]Credential)}
}

func (s *memoryStore) key(platformID, accountID string) string {
	return platformID + "::" + accountID
}

func (s *memoryStore) Load(_ context.Context, platformID, accountID string) (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	cred, ok := s.creds[s.key(platformID, accountID)]
	return cred, ok, nil
}

func (s *memoryStore) Upsert(_ context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.creds[s.key(cred.PlatformID, cred.AccountID)] = cred
	return nil
}

func (s *memoryStore) Delete(_ context.Context, platformID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, s.key(platformID, accountID))
	return nil
}

type countingRefresher struct {
	calls   atomic.Int64
	block   chan struct{}
	refresh func(cred Credential) (Credential, error)
}

func (r *countingRefresher) Refresh(_ context.Context, cred Credential) (Credential, error) {
	r.calls.Add(1)
	if r.block != nil {
		<-r.block
	}
	if r.refresh != nil {
		return r.refresh(cred)
	}
	expires := time.Now().UTC().Add(time.Hour)
	cred.AccessToken = "refreshed"
	cred.ExpiresAt = &expires
	return cred, nil
}

func newTestManager(t *testing.T, store DurableCredentialStore, opts ...CredentialManagerOption) *CredentialManager {
	t.Helper()
	manager, err := NewCredentialManager(store, opts...)
	if err != nil {
		t.Fatalf("new credential manager: %v", err)
	}
	return manager
}

func TestGetValid_CacheHitSkipsStore(t *testing.T) {
	store := newMemoryStore()
	expires := time.Now().UTC().Add(time.Hour)
	cred := Credential{PlatformID: "linkedin", AccountID: "member_1", AccessToken: "tok", ExpiresAt: &expires}
	if err := store.Upsert(context.Background(), cred); err != nil {
		t.Fatalf("seed: %v", err)
	}

	manager := newTestManager(t, store)

	for i := 0; i < 3; i++ {
		got, err := manager.GetValid(context.Background(), "linkedin", "member_1")
		if err != nil {
			t.Fatalf("get valid #%d: %v", i, err)
		}
		if got.AccessToken != "tok" {
			t.Fatalf("unexpected token %q", got.AccessToken)
		}
	}
	if store.loadCalls != 1 {
		t.Fatalf("expected one durable load, got %d", store.loadCalls)
	}
}

func TestGetValid_MissingCredentialIsAuthExpired(t *testing.T) {
	manager := newTestManager(t, newMemoryStore())

	_, err := manager.GetValid(context.Background(), "tiktok", "creator_1")
	if err == nil {
		t.Fatalf("expected error for missing credential")
	}
	if reason := FailureReasonForError(err); reason != FailureReasonAuthExpired {
		t.Fatalf("expected auth_expired reason, got %q", reason)
	}
	if IsRetryable(err) {
		t.Fatalf("auth expiry must not be retryable")
	}
}

func TestGetValid_ExpiredWithoutRefreshTokenIsAuthExpired(t *testing.T) {
	store := newMemoryStore()
	expired := time.Now().UTC().Add(-time.Minute)
	seed := Credential{PlatformID: "tiktok", AccountID: "creator_1", AccessToken: "tok", ExpiresAt: &expired}
	if err := store.Upsert(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	manager := newTestManager(t, store)
	_, err := manager.GetValid(context.Background(), "tiktok", "creator_1")
	if err == nil {
		t.Fatalf("expected auth expiry")
	}
	if reason := FailureReasonForError(err); reason != FailureReasonAuthExpired {
		t.Fatalf("expected auth_expired reason, got %q", reason)
	}
}

func TestGetValid_RefreshWithinMargin(t *testing.T) {
	store := newMemoryStore()
	nearExpiry := time.Now().UTC().Add(time.Minute)
	seed := Credential{
		PlatformID:   "tiktok",
		AccountID:    "creator_1",
		AccessToken:  "stale",
		RefreshToken: "refresh_1",
		ExpiresAt:    &nearExpiry,
	}
	if err := store.Upsert(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	manager := newTestManager(t, store, WithRefreshMargin(5*time.Minute))
	refresher := &countingRefresher{}
	if err := manager.RegisterRefresher("tiktok", refresher); err != nil {
		t.Fatalf("register refresher: %v", err)
	}

	got, err := manager.GetValid(context.Background(), "tiktok", "creator_1")
	if err != nil {
		t.Fatalf("get valid: %v", err)
	}
	if got.AccessToken != "refreshed" {
		t.Fatalf("expected refreshed token, got %q", got.AccessToken)
	}

	// refreshed credential landed durably, not just in cache
	stored, found, _ := store.Load(context.Background(), "tiktok", "creator_1")
	if !found || stored.AccessToken != "refreshed" {
		t.Fatalf("expected durable refreshed credential, got %#v found=%v", stored, found)
	}
}

func TestGetValid_SingleFlightCollapsesConcurrentRefreshes(t *testing.T) {
	store := newMemoryStore()
	nearExpiry := time.Now().UTC().Add(time.Second)
	seed := Credential{
		PlatformID:   "meta_instagram",
		AccountID:    "user_1",
		AccessToken:  "stale",
		RefreshToken: "refresh_1",
		ExpiresAt:    &nearExpiry,
	}
	if err := store.Upsert(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	manager := newTestManager(t, store, WithRefreshMargin(5*time.Minute))
	refresher := &countingRefresher{block: make(chan struct{})}
	if err := manager.RegisterRefresher("meta_instagram", refresher); err != nil {
		t.Fatalf("register refresher: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Credential, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = manager.GetValid(context.Background(), "meta_instagram", "user_1")
		}(i)
	}

	// let every caller pile onto the in-flight refresh before releasing it
	deadline := time.Now().Add(2 * time.Second)
	for refresher.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(refresher.block)
	wg.Wait()

	if calls := refresher.calls.Load(); calls != 1 {
		t.Fatalf("expected a single refresh endpoint call, got %d", calls)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].AccessToken != "refreshed" {
			t.Fatalf("caller %d got stale token %q", i, results[i].AccessToken)
		}
	}
}

func TestGetValid_RefreshFailureDropsCacheAndExpiresAuth(t *testing.T) {
	store := newMemoryStore()
	nearExpiry := time.Now().UTC().Add(time.Second)
	seed := Credential{
		PlatformID:   "linkedin",
		AccountID:    "member_1",
		AccessToken:  "stale",
		RefreshToken: "revoked",
		ExpiresAt:    &nearExpiry,
	}
	if err := store.Upsert(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	manager := newTestManager(t, store, WithRefreshMargin(5*time.Minute))
	refresher := &countingRefresher{
		refresh: func(Credential) (Credential, error) {
			return Credential{}, fmt.Errorf("invalid_grant")
		},
	}
	if err := manager.RegisterRefresher("linkedin", refresher); err != nil {
		t.Fatalf("register refresher: %v", err)
	}

	_, err := manager.GetValid(context.Background(), "linkedin", "member_1")
	if err == nil {
		t.Fatalf("expected refresh failure")
	}
	if reason := FailureReasonForError(err); reason != FailureReasonAuthExpired {
		t.Fatalf("expected auth_expired reason, got %q", reason)
	}
}

func TestSave_DurableFailureDropsCacheEntry(t *testing.T) {
	store := newMemoryStore()
	store.upsertErr = fmt.Errorf("database offline")

	manager := newTestManager(t, store,
		WithDurableWriteAttempts(2),
		WithCredentialBackoff(ExponentialBackoffScheduler{Initial: time.Millisecond, Max: time.Millisecond}),
	)

	expires := time.Now().UTC().Add(time.Hour)
	err := manager.Save(context.Background(), Credential{
		PlatformID:  "tiktok",
		AccountID:   "creator_1",
		AccessToken: "tok",
		ExpiresAt:   &expires,
	})
	if err == nil {
		t.Fatalf("expected durable write failure to surface")
	}

	// the failed save must not leave a cache-only token behind
	store.upsertErr = nil
	_, getErr := manager.GetValid(context.Background(), "tiktok", "creator_1")
	if getErr == nil {
		t.Fatalf("expected miss after failed save")
	}
}

func TestRevokeThenGetValid(t *testing.T) {
	store := newMemoryStore()
	manager := newTestManager(t, store)

	expires := time.Now().UTC().Add(time.Hour)
	if err := manager.Ingest(context.Background(), Credential{
		PlatformID:  "Meta_Facebook",
		AccountID:   "page_1",
		AccessToken: "tok",
		ExpiresAt:   &expires,
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// platform ids normalize to lower case on the way in
	if _, err := manager.GetValid(context.Background(), "meta_facebook", "page_1"); err != nil {
		t.Fatalf("get valid after ingest: %v", err)
	}

	if err := manager.Revoke(context.Background(), "meta_facebook", "page_1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := manager.GetValid(context.Background(), "meta_facebook", "page_1"); err == nil {
		t.Fatalf("expected auth expiry after revoke")
	}
}

func TestIngest_RequiresAccessToken(t *testing.T) {
	manager := newTestManager(t, newMemoryStore())
	if err := manager.Ingest(context.Background(), Credential{
		PlatformID: "tiktok",
		AccountID:  "creator_1",
	}); err == nil {
		t.Fatalf("expected access token requirement")
	}
}

func TestRegisterRefresher_RejectsDuplicates(t *testing.T) {
	manager := newTestManager(t, newMemoryStore())
	refresher := &countingRefresher{}
	if err := manager.RegisterRefresher("tiktok", refresher); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := manager.RegisterRefresher("TikTok", refresher); err == nil {
		t.Fatalf("expected duplicate registration rejection")
	}
}
