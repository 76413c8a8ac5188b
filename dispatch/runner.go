package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-publisher/core"
)

// runTask drives one task through its state machine. Every transition is
// emitted on the event stream; the task always ends terminal.
func (d *Dispatcher) runTask(ctx context.Context, task *core.PublishTask) {
	adapter, ok := d.registry.Get(task.PlatformID)
	if !ok {
		d.fail(task, core.FailureReasonUnsupportedCapability,
			fmt.Sprintf("no adapter registered for platform %q", task.PlatformID))
		return
	}

	capability := core.CapabilityForKind(task.Content.ResolveKind())
	if !core.AdapterSupports(adapter, capability) {
		d.fail(task, core.FailureReasonUnsupportedCapability,
			fmt.Sprintf("platform %s does not support %s", adapter.ID(), capability))
		return
	}

	// Cancellation before the adapter was invoked is pure cleanup.
	if ctx.Err() != nil {
		d.fail(task, core.FailureReasonCancelled, "cancelled before upload started")
		return
	}

	cred, err := d.credentials.GetValid(ctx, task.PlatformID, task.AccountID)
	if err != nil {
		d.failFromError(task, err)
		return
	}

	d.transition(task, core.TaskStatusUploading)

	result, err := adapter.Publish(ctx, core.PublishRequest{
		Credential: cred,
		AccountID:  task.AccountID,
		Content:    task.Content,
	})
	if err != nil {
		if ctx.Err() != nil {
			d.fail(task, core.FailureReasonCancelled, "cancelled during upload; active upload session aborted")
			return
		}
		d.failFromError(task, err)
		return
	}

	task.RemoteID = result.RemoteID
	task.Permalink = result.Permalink

	if result.Status == core.PublishStatusPublished {
		d.transition(task, core.TaskStatusPublished)
		return
	}

	d.transition(task, core.TaskStatusProcessing)
	d.pollProcessing(ctx, task, adapter, cred)
}

// pollProcessing waits for an async platform to finish server-side
// processing, bounded by a fixed interval and a wall-clock budget.
func (d *Dispatcher) pollProcessing(ctx context.Context, task *core.PublishTask, adapter core.Adapter, cred core.Credential) {
	poller, ok := adapter.(core.ProcessingPublisher)
	if !ok {
		d.fail(task, core.FailureReasonProcessingFailed,
			fmt.Sprintf("platform %s returned a processing outcome but cannot be polled", adapter.ID()))
		return
	}

	deadline := d.nowFn().Add(d.pollTimeout)
	for {
		if d.nowFn().After(deadline) {
			d.fail(task, core.FailureReasonProcessingFailed,
				fmt.Sprintf("processing did not complete within %s", d.pollTimeout))
			return
		}
		if err := core.WaitWithContext(ctx, d.pollInterval); err != nil {
			// Polling stops here; the platform keeps processing and may
			// still publish the post on its own.
			d.fail(task, core.FailureReasonCancelled,
				"cancelled during processing; the submitted post is not retracted")
			return
		}

		status, err := poller.QueryProcessingStatus(ctx, cred, task.RemoteID)
		if err != nil {
			if core.IsRetryable(err) {
				d.logger.Warn("processing status poll failed",
					"task_id", task.ID,
					"error", err,
				)
				continue
			}
			d.failFromError(task, err)
			return
		}

		switch status.State {
		case core.ProcessingStateCompleted:
			final, finalizeErr := poller.FinalizePublish(ctx, cred, task.RemoteID, task.Content)
			if finalizeErr != nil {
				d.failFromError(task, finalizeErr)
				return
			}
			task.RemoteID = final.RemoteID
			task.Permalink = final.Permalink
			d.transition(task, core.TaskStatusPublished)
			return
		case core.ProcessingStateFailed:
			detail := status.Detail
			if detail == "" {
				detail = "platform reported processing failure"
			}
			d.fail(task, core.FailureReasonProcessingFailed, detail)
			return
		}
	}
}

func (d *Dispatcher) transition(task *core.PublishTask, status core.TaskStatus) {
	from := task.Status
	if err := task.TransitionTo(status, d.nowFn()); err != nil {
		d.logger.Error("task transition rejected",
			"task_id", task.ID,
			"from", string(from),
			"to", string(status),
			"error", err,
		)
		return
	}
	d.emit(task, from)
}

func (d *Dispatcher) fail(task *core.PublishTask, reason core.FailureReason, detail string) {
	from := task.Status
	if err := task.Fail(reason, detail, d.nowFn()); err != nil {
		// Terminal tasks stay as they are; a late failure is dropped.
		d.logger.Warn("late failure ignored for terminal task",
			"task_id", task.ID,
			"reason", string(reason),
		)
		return
	}
	d.emit(task, from)
}

func (d *Dispatcher) failFromError(task *core.PublishTask, err error) {
	reason := core.FailureReasonForError(err)
	detail := strings.TrimSpace(err.Error())
	d.fail(task, reason, detail)
}

func (d *Dispatcher) emit(task *core.PublishTask, from core.TaskStatus) {
	if d.events == nil {
		return
	}
	d.events.Publish(core.TaskEvent{
		TaskID:        task.ID,
		PlatformID:    task.PlatformID,
		AccountID:     task.AccountID,
		From:          from,
		To:            task.Status,
		FailureReason: task.FailureReason,
		RemoteID:      task.RemoteID,
		At:            task.UpdatedAt,
	})
}
