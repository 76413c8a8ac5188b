package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-publisher/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// TaskJournal persists terminal publish-task outcomes keyed by task id.
// Record is idempotent; recording the same task twice keeps one row.
type TaskJournal struct {
	db   *bun.DB
	repo repository.Repository[*taskJournalRecord]
}

func (j *TaskJournal) Record(ctx context.Context, task core.PublishTask) error {
	if j == nil || j.repo == nil || j.db == nil {
		return fmt.Errorf("sqlstore: task journal is not configured")
	}
	taskID := strings.TrimSpace(task.ID)
	if taskID == "" {
		return fmt.Errorf("sqlstore: task id is required")
	}
	task.ID = taskID
	now := time.Now().UTC()

	return j.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := new(taskJournalRecord)
		err := tx.NewSelect().
			Model(existing).
			Where("id = ?", taskID).
			Limit(1).
			Scan(ctx)
		if err == nil {
			_, updateErr := tx.NewUpdate().
				Model((*taskJournalRecord)(nil)).
				Set("status = ?", string(task.Status)).
				Set("remote_id = ?", task.RemoteID).
				Set("permalink = ?", task.Permalink).
				Set("failure_reason = ?", string(task.FailureReason)).
				Set("failure_detail = ?", task.FailureDetail).
				Set("updated_at = ?", now).
				Where("id = ?", taskID).
				Exec(ctx)
			return updateErr
		}
		if !isNoRows(err) {
			return err
		}
		record := newTaskJournalRecord(task, now)
		if _, createErr := j.repo.CreateTx(ctx, tx, record); createErr != nil {
			return createErr
		}
		return nil
	})
}

func (j *TaskJournal) ListByAccount(ctx context.Context, platformID, accountID string, limit int) ([]core.PublishTask, error) {
	if j == nil || j.repo == nil {
		return nil, fmt.Errorf("sqlstore: task journal is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := j.repo.List(ctx,
		repository.SelectBy("platform_id", "=", strings.TrimSpace(platformID)),
		repository.SelectBy("account_id", "=", strings.TrimSpace(accountID)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.PublishTask, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

var _ core.TaskJournal = (*TaskJournal)(nil)
