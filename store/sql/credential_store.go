package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-publisher/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// CredentialStore is the authoritative credential persistence boundary.
// One row per (platform, account); Upsert replaces in place so readers
// always observe the latest token state.
type CredentialStore struct {
	db   *bun.DB
	repo repository.Repository[*credentialRecord]
}

func (s *CredentialStore) Load(ctx context.Context, platformID, accountID string) (core.Credential, bool, error) {
	if s == nil || s.repo == nil {
		return core.Credential{}, false, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("platform_id", "=", strings.TrimSpace(platformID)),
		repository.SelectBy("account_id", "=", strings.TrimSpace(accountID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Credential{}, false, err
	}
	if len(records) == 0 {
		return core.Credential{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *CredentialStore) Upsert(ctx context.Context, cred core.Credential) error {
	if s == nil || s.repo == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	platformID := strings.TrimSpace(cred.PlatformID)
	accountID := strings.TrimSpace(cred.AccountID)
	if platformID == "" {
		return fmt.Errorf("sqlstore: platform id is required")
	}
	if accountID == "" {
		return fmt.Errorf("sqlstore: account id is required")
	}
	cred.PlatformID = platformID
	cred.AccountID = accountID
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := new(credentialRecord)
		err := tx.NewSelect().
			Model(existing).
			Where("platform_id = ?", platformID).
			Where("account_id = ?", accountID).
			Limit(1).
			Scan(ctx)
		if err == nil {
			_, updateErr := tx.NewUpdate().
				Model((*credentialRecord)(nil)).
				Set("token_type = ?", cred.TokenType).
				Set("access_token = ?", cred.AccessToken).
				Set("refresh_token = ?", cred.RefreshToken).
				Set("scopes = ?", jsonValue(copyStringSlice(cred.Scopes))).
				Set("expires_at = ?", cloneTimePointer(cred.ExpiresAt)).
				Set("extra = ?", jsonValue(copyAnyMap(cred.Extra))).
				Set("updated_at = ?", now).
				Where("id = ?", existing.ID).
				Exec(ctx)
			return updateErr
		}
		if !isNoRows(err) {
			return err
		}
		record := newCredentialRecord(cred, now)
		if _, createErr := s.repo.CreateTx(ctx, tx, record); createErr != nil {
			return createErr
		}
		return nil
	})
}

func (s *CredentialStore) Delete(ctx context.Context, platformID, accountID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*credentialRecord)(nil)).
		Where("platform_id = ?", strings.TrimSpace(platformID)).
		Where("account_id = ?", strings.TrimSpace(accountID)).
		Exec(ctx)
	return err
}

// ListExpiring feeds the proactive refresh sweep: credentials that expire
// before the cutoff and still hold a refresh token.
func (s *CredentialStore) ListExpiring(ctx context.Context, before time.Time) ([]core.Credential, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	var records []*credentialRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", before.UTC()).
		Where("refresh_token != ''").
		Order("expires_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Credential, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

var (
	_ core.DurableCredentialStore   = (*CredentialStore)(nil)
	_ core.ExpiringCredentialLister = (*CredentialStore)(nil)
)

func jsonValue(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
