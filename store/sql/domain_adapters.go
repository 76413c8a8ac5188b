package sqlstore

import (
	"time"

	"github.com/goliatone/go-publisher/core"
	"github.com/google/uuid"
)

func newCredentialRecord(cred core.Credential, now time.Time) *credentialRecord {
	return &credentialRecord{
		ID:           uuid.NewString(),
		PlatformID:   cred.PlatformID,
		AccountID:    cred.AccountID,
		TokenType:    cred.TokenType,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Scopes:       copyStringSlice(cred.Scopes),
		ExpiresAt:    cloneTimePointer(cred.ExpiresAt),
		Extra:        copyAnyMap(cred.Extra),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (r *credentialRecord) toDomain() core.Credential {
	if r == nil {
		return core.Credential{}
	}
	return core.Credential{
		PlatformID:   r.PlatformID,
		AccountID:    r.AccountID,
		TokenType:    r.TokenType,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		Scopes:       copyStringSlice(r.Scopes),
		ExpiresAt:    cloneTimePointer(r.ExpiresAt),
		Extra:        copyAnyMap(r.Extra),
		UpdatedAt:    r.UpdatedAt,
	}
}

func newTaskJournalRecord(task core.PublishTask, now time.Time) *taskJournalRecord {
	return &taskJournalRecord{
		ID:            task.ID,
		PlatformID:    task.PlatformID,
		AccountID:     task.AccountID,
		ContentKind:   string(task.Content.ResolveKind()),
		Title:         task.Content.Title,
		Caption:       task.Content.Caption,
		VideoURL:      task.Content.VideoURL,
		ImageURLs:     copyStringSlice(task.Content.ImageURLs),
		Visibility:    string(task.Content.Visibility),
		Metadata:      copyAnyMap(task.Content.Metadata),
		Status:        string(task.Status),
		RemoteID:      task.RemoteID,
		Permalink:     task.Permalink,
		FailureReason: string(task.FailureReason),
		FailureDetail: task.FailureDetail,
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     now,
	}
}

func (r *taskJournalRecord) toDomain() core.PublishTask {
	if r == nil {
		return core.PublishTask{}
	}
	return core.PublishTask{
		ID:         r.ID,
		PlatformID: r.PlatformID,
		AccountID:  r.AccountID,
		Content: core.Content{
			Kind:       core.ContentKind(r.ContentKind),
			Title:      r.Title,
			Caption:    r.Caption,
			VideoURL:   r.VideoURL,
			ImageURLs:  copyStringSlice(r.ImageURLs),
			Visibility: core.Visibility(r.Visibility),
			Metadata:   copyAnyMap(r.Metadata),
		},
		Status:        core.TaskStatus(r.Status),
		RemoteID:      r.RemoteID,
		Permalink:     r.Permalink,
		FailureReason: core.FailureReason(r.FailureReason),
		FailureDetail: r.FailureDetail,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func copyStringSlice(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := in.UTC()
	return &value
}
