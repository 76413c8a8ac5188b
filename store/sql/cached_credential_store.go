package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-publisher/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const credentialCacheKeyPrefix = "go-publisher::credential::v1"

type cachedCredentialEntry struct {
	Credential core.Credential
	Found      bool
}

// CachedCredentialStore is a read-through cache over the durable
// credential store. Writes go to the base store first and then drop the
// cache entry, so a stale token never outlives its row.
type CachedCredentialStore struct {
	base  core.DurableCredentialStore
	cache repositorycache.CacheService
}

func NewCachedCredentialStore(
	base core.DurableCredentialStore,
	cacheService repositorycache.CacheService,
) (*CachedCredentialStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base credential store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: credential cache service is required")
	}
	return &CachedCredentialStore{base: base, cache: cacheService}, nil
}

// CredentialCacheKey returns the deterministic cache key contract for
// credential reads: go-publisher::credential::v1::<platform>::<account>
// with each segment URL-path escaped.
func CredentialCacheKey(platformID, accountID string) (string, error) {
	platformID = strings.TrimSpace(platformID)
	accountID = strings.TrimSpace(accountID)
	if platformID == "" {
		return "", fmt.Errorf("sqlstore: platform id is required")
	}
	if accountID == "" {
		return "", fmt.Errorf("sqlstore: account id is required")
	}
	segments := []string{
		credentialCacheKeyPrefix,
		url.PathEscape(platformID),
		url.PathEscape(accountID),
	}
	return strings.Join(segments, "::"), nil
}

func (s *CachedCredentialStore) Load(ctx context.Context, platformID, accountID string) (core.Credential, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Credential{}, false, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	cacheKey, err := CredentialCacheKey(platformID, accountID)
	if err != nil {
		return core.Credential{}, false, err
	}

	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedCredentialEntry, error) {
		cred, found, fetchErr := s.base.Load(ctx, platformID, accountID)
		if fetchErr != nil {
			return cachedCredentialEntry{}, fetchErr
		}
		return cachedCredentialEntry{Credential: cloneCredential(cred), Found: found}, nil
	})
	if err != nil {
		return core.Credential{}, false, err
	}
	return cloneCredential(entry.Credential), entry.Found, nil
}

func (s *CachedCredentialStore) Upsert(ctx context.Context, cred core.Credential) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	if err := s.base.Upsert(ctx, cred); err != nil {
		return err
	}
	return s.dropEntry(ctx, cred.PlatformID, cred.AccountID)
}

func (s *CachedCredentialStore) Delete(ctx context.Context, platformID, accountID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	if err := s.base.Delete(ctx, platformID, accountID); err != nil {
		return err
	}
	return s.dropEntry(ctx, platformID, accountID)
}

// ListExpiring always reads the durable store: the sweep must never act
// on cached expiry data.
func (s *CachedCredentialStore) ListExpiring(ctx context.Context, before time.Time) ([]core.Credential, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	lister, ok := s.base.(core.ExpiringCredentialLister)
	if !ok {
		return nil, fmt.Errorf("sqlstore: base credential store does not list expiring credentials")
	}
	return lister.ListExpiring(ctx, before)
}

func (s *CachedCredentialStore) dropEntry(ctx context.Context, platformID, accountID string) error {
	cacheKey, err := CredentialCacheKey(platformID, accountID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneCredential(cred core.Credential) core.Credential {
	cloned := cred
	cloned.Scopes = copyStringSlice(cred.Scopes)
	cloned.Extra = copyAnyMap(cred.Extra)
	cloned.ExpiresAt = cloneTimePointer(cred.ExpiresAt)
	return cloned
}

var _ core.DurableCredentialStore = (*CachedCredentialStore)(nil)
