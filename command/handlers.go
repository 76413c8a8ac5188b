package command

import (
	"context"
	"fmt"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-publisher/core"
)

// PublishingService is the dispatcher surface the publish commands drive.
type PublishingService interface {
	PublishToMany(ctx context.Context, content core.Content, accounts []core.AccountRef) (core.AggregateResult, error)
	Cancel(taskID string) bool
}

// CredentialService is the credential lifecycle surface.
type CredentialService interface {
	GetValid(ctx context.Context, platformID, accountID string) (core.Credential, error)
	Revoke(ctx context.Context, platformID, accountID string) error
	Ingest(ctx context.Context, cred core.Credential) error
}

type PublishCommand struct {
	service PublishingService
}

func NewPublishCommand(service PublishingService) *PublishCommand {
	return &PublishCommand{service: service}
}

func (c *PublishCommand) Execute(ctx context.Context, msg PublishMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: publishing service is required")
	}
	out, err := c.service.PublishToMany(ctx, msg.Content, msg.Accounts)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CancelTaskCommand struct {
	service PublishingService
}

func NewCancelTaskCommand(service PublishingService) *CancelTaskCommand {
	return &CancelTaskCommand{service: service}
}

func (c *CancelTaskCommand) Execute(ctx context.Context, msg CancelTaskMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: publishing service is required")
	}
	if !c.service.Cancel(msg.TaskID) {
		return commandNotFoundError(fmt.Sprintf("command: no active task %q", msg.TaskID))
	}
	storeResult(ctx, msg.TaskID)
	return nil
}

type RefreshCredentialCommand struct {
	service CredentialService
}

func NewRefreshCredentialCommand(service CredentialService) *RefreshCredentialCommand {
	return &RefreshCredentialCommand{service: service}
}

func (c *RefreshCredentialCommand) Execute(ctx context.Context, msg RefreshCredentialMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	cred, err := c.service.GetValid(ctx, msg.Account.PlatformID, msg.Account.AccountID)
	if err != nil {
		return err
	}
	storeResult(ctx, cred)
	return nil
}

type RevokeCredentialCommand struct {
	service CredentialService
}

func NewRevokeCredentialCommand(service CredentialService) *RevokeCredentialCommand {
	return &RevokeCredentialCommand{service: service}
}

func (c *RevokeCredentialCommand) Execute(ctx context.Context, msg RevokeCredentialMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	return c.service.Revoke(ctx, msg.Account.PlatformID, msg.Account.AccountID)
}

type IngestCredentialCommand struct {
	service CredentialService
}

func NewIngestCredentialCommand(service CredentialService) *IngestCredentialCommand {
	return &IngestCredentialCommand{service: service}
}

func (c *IngestCredentialCommand) Execute(ctx context.Context, msg IngestCredentialMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	return c.service.Ingest(ctx, msg.Credential)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
