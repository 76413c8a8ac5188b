package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DefaultRefreshMargin      = 5 * time.Minute
	DefaultCredentialCacheTTL = time.Minute
	defaultDurableAttempts    = 3
)

// MemoryCredentialCache is the in-process fast path for credential reads.
// Entries expire on their own TTL; the durable store stays authoritative.
type MemoryCredentialCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	nowFn   func() time.Time
}

type cacheEntry struct {
	cred      Credential
	expiresAt time.Time
}

func NewMemoryCredentialCache() *MemoryCredentialCache {
	return &MemoryCredentialCache{
		entries: make(map[string]cacheEntry),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (c *MemoryCredentialCache) Get(platformID, accountID string) (Credential, bool) {
	if c == nil {
		return Credential{}, false
	}
	key := AccountRef{PlatformID: platformID, AccountID: accountID}.Key()
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.nowFn().After(entry.expiresAt) {
		return Credential{}, false
	}
	return entry.cred, true
}

func (c *MemoryCredentialCache) Put(cred Credential, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = DefaultCredentialCacheTTL
	}
	key := cred.Account().Key()
	c.mu.Lock()
	c.entries[key] = cacheEntry{cred: cred, expiresAt: c.nowFn().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryCredentialCache) Drop(platformID, accountID string) {
	if c == nil {
		return
	}
	key := AccountRef{PlatformID: platformID, AccountID: accountID}.Key()
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

var _ CredentialCache = (*MemoryCredentialCache)(nil)

// CredentialManager owns the OAuth2 credential lifecycle for every
// (platform, account) pair: cached reads, durable loads, proactive refresh
// inside the safety margin, and the two-phase save.
type CredentialManager struct {
	store      DurableCredentialStore
	cache      CredentialCache
	refreshers map[string]TokenRefresher

	refreshMargin   time.Duration
	cacheTTL        time.Duration
	durableAttempts int
	backoff         BackoffScheduler
	logger          Logger
	nowFn           func() time.Time

	mu       sync.Mutex
	inflight map[string]*refreshCall
}

type refreshCall struct {
	done chan struct{}
	cred Credential
	err  error
}

type CredentialManagerOption func(*CredentialManager)

func WithCredentialCache(cache CredentialCache) CredentialManagerOption {
	return func(m *CredentialManager) {
		m.cache = cache
	}
}

func WithRefreshMargin(margin time.Duration) CredentialManagerOption {
	return func(m *CredentialManager) {
		if margin > 0 {
			m.refreshMargin = margin
		}
	}
}

func WithCredentialCacheTTL(ttl time.Duration) CredentialManagerOption {
	return func(m *CredentialManager) {
		if ttl > 0 {
			m.cacheTTL = ttl
		}
	}
}

func WithDurableWriteAttempts(attempts int) CredentialManagerOption {
	return func(m *CredentialManager) {
		if attempts > 0 {
			m.durableAttempts = attempts
		}
	}
}

func WithCredentialBackoff(scheduler BackoffScheduler) CredentialManagerOption {
	return func(m *CredentialManager) {
		if scheduler != nil {
			m.backoff = scheduler
		}
	}
}

func WithCredentialLogger(logger Logger) CredentialManagerOption {
	return func(m *CredentialManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithCredentialClock(nowFn func() time.Time) CredentialManagerOption {
	return func(m *CredentialManager) {
		if nowFn != nil {
			m.nowFn = nowFn
		}
	}
}

func NewCredentialManager(store DurableCredentialStore, opts ...CredentialManagerOption) (*CredentialManager, error) {
	if store == nil {
		return nil, fmt.Errorf("core: durable credential store is required")
	}
	manager := &CredentialManager{
		store:           store,
		cache:           NewMemoryCredentialCache(),
		refreshers:      make(map[string]TokenRefresher),
		refreshMargin:   DefaultRefreshMargin,
		cacheTTL:        DefaultCredentialCacheTTL,
		durableAttempts: defaultDurableAttempts,
		backoff:         ExponentialBackoffScheduler{},
		nowFn:           func() time.Time { return time.Now().UTC() },
		inflight:        make(map[string]*refreshCall),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(manager)
	}
	return manager, nil
}

// RegisterRefresher binds the token-refresh client for one platform.
func (m *CredentialManager) RegisterRefresher(platformID string, refresher TokenRefresher) error {
	if m == nil {
		return fmt.Errorf("core: credential manager is nil")
	}
	id := strings.TrimSpace(strings.ToLower(platformID))
	if id == "" {
		return fmt.Errorf("core: platform id is required")
	}
	if refresher == nil {
		return fmt.Errorf("core: token refresher is required for platform %q", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.refreshers[id]; exists {
		return fmt.Errorf("core: token refresher already registered for platform %q", id)
	}
	m.refreshers[id] = refresher
	return nil
}

// GetValid returns a credential guaranteed usable for at least the refresh
// margin. Cache first, then the durable store; a missing durable record or
// a failed refresh surfaces as auth-expired so the caller stops the
// publish and asks the user to re-authorize.
func (m *CredentialManager) GetValid(ctx context.Context, platformID, accountID string) (Credential, error) {
	if m == nil {
		return Credential{}, fmt.Errorf("core: credential manager is nil")
	}
	platformID = strings.TrimSpace(strings.ToLower(platformID))
	accountID = strings.TrimSpace(accountID)
	if platformID == "" || accountID == "" {
		return Credential{}, MapError(fmt.Errorf("core: platform id and account id are required"))
	}

	now := m.nowFn()
	if cached, ok := m.cache.Get(platformID, accountID); ok && !cached.IsExpired(now, m.refreshMargin) {
		return cached, nil
	}

	cred, found, err := m.store.Load(ctx, platformID, accountID)
	if err != nil {
		return Credential{}, MapError(err)
	}
	if !found {
		return Credential{}, NewAuthExpiredError(platformID, accountID)
	}
	if !cred.IsExpired(now, m.refreshMargin) {
		m.cache.Put(cred, m.cacheTTL)
		return cred, nil
	}
	if !cred.Refreshable() {
		m.cache.Drop(platformID, accountID)
		return Credential{}, NewAuthExpiredError(platformID, accountID)
	}

	return m.refreshSingleFlight(ctx, cred)
}

// refreshSingleFlight funnels concurrent callers for the same account into
// one refresh-endpoint call; everyone gets the same refreshed credential
// or the same error. Different accounts never block each other.
func (m *CredentialManager) refreshSingleFlight(ctx context.Context, cred Credential) (Credential, error) {
	key := cred.Account().Key()

	m.mu.Lock()
	if call, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.cred, call.err
		case <-ctx.Done():
			return Credential{}, MapError(ctx.Err())
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight[key] = call
	m.mu.Unlock()

	call.cred, call.err = m.refresh(ctx, cred)
	close(call.done)

	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()

	return call.cred, call.err
}

func (m *CredentialManager) refresh(ctx context.Context, cred Credential) (Credential, error) {
	refresher := m.refresherFor(cred.PlatformID)
	if refresher == nil {
		return Credential{}, MapError(fmt.Errorf("core: no token refresher registered for platform %q", cred.PlatformID))
	}

	refreshed, err := refresher.Refresh(ctx, cred)
	if err != nil {
		m.cache.Drop(cred.PlatformID, cred.AccountID)
		m.logFields("credential refresh failed", map[string]any{
			"platform_id": cred.PlatformID,
			"account_id":  cred.AccountID,
			"error":       err.Error(),
		})
		return Credential{}, WrapAuthExpired(err, cred.PlatformID, cred.AccountID)
	}
	if strings.TrimSpace(refreshed.PlatformID) == "" {
		refreshed.PlatformID = cred.PlatformID
	}
	if strings.TrimSpace(refreshed.AccountID) == "" {
		refreshed.AccountID = cred.AccountID
	}
	refreshed.UpdatedAt = m.nowFn()

	if err := m.Save(ctx, refreshed); err != nil {
		return Credential{}, err
	}
	m.logFields("credential refreshed", map[string]any{
		"platform_id": refreshed.PlatformID,
		"account_id":  refreshed.AccountID,
	})
	return refreshed, nil
}

// Save writes the cache and the durable store. The durable write is the
// one that counts: it is retried with backoff, and if it never lands the
// cache entry is dropped and the save reports failure so no caller trusts
// a token that only exists in memory.
func (m *CredentialManager) Save(ctx context.Context, cred Credential) error {
	if m == nil {
		return fmt.Errorf("core: credential manager is nil")
	}
	if err := cred.Account().Validate(); err != nil {
		return MapError(err)
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = m.nowFn()
	}

	m.cache.Put(cred, m.cacheTTL)

	var lastErr error
	attempts := m.durableAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = m.store.Upsert(ctx, cred); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if waitErr := WaitWithContext(ctx, m.backoff.NextDelay(attempt)); waitErr != nil {
			lastErr = waitErr
			break
		}
	}

	m.cache.Drop(cred.PlatformID, cred.AccountID)
	return MapError(fmt.Errorf("core: durable credential write failed for %s/%s: %w", cred.PlatformID, cred.AccountID, lastErr))
}

// Revoke drops the credential from both tiers. Subsequent GetValid calls
// report auth-expired until the account re-authorizes.
func (m *CredentialManager) Revoke(ctx context.Context, platformID, accountID string) error {
	if m == nil {
		return fmt.Errorf("core: credential manager is nil")
	}
	platformID = strings.TrimSpace(strings.ToLower(platformID))
	accountID = strings.TrimSpace(accountID)
	if platformID == "" || accountID == "" {
		return MapError(fmt.Errorf("core: platform id and account id are required"))
	}
	m.cache.Drop(platformID, accountID)
	if err := m.store.Delete(ctx, platformID, accountID); err != nil {
		return MapError(err)
	}
	return nil
}

// Ingest normalizes and stores a credential obtained from an OAuth code
// exchange. ExpiresAt must already be absolute; ingestion is the single
// place a relative expires_in is allowed to have been converted.
func (m *CredentialManager) Ingest(ctx context.Context, cred Credential) error {
	if m == nil {
		return fmt.Errorf("core: credential manager is nil")
	}
	cred.PlatformID = strings.TrimSpace(strings.ToLower(cred.PlatformID))
	cred.AccountID = strings.TrimSpace(cred.AccountID)
	if strings.TrimSpace(cred.AccessToken) == "" {
		return MapError(fmt.Errorf("core: access token is required"))
	}
	return m.Save(ctx, cred)
}

func (m *CredentialManager) refresherFor(platformID string) TokenRefresher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshers[strings.TrimSpace(strings.ToLower(platformID))]
}

func (m *CredentialManager) logFields(message string, fields map[string]any) {
	if m == nil || m.logger == nil {
		return
	}
	logger := m.logger
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	logger.Info(message)
}
