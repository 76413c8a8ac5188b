package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-publisher/core"
)

const (
	TypePublish           = "publisher.command.publish"
	TypeCancelTask        = "publisher.command.task.cancel"
	TypeRefreshCredential = "publisher.command.credential.refresh"
	TypeRevokeCredential  = "publisher.command.credential.revoke"
	TypeIngestCredential  = "publisher.command.credential.ingest"
)

type PublishMessage struct {
	Content  core.Content
	Accounts []core.AccountRef
}

func (PublishMessage) Type() string { return TypePublish }

func (m PublishMessage) Validate() error {
	if err := m.Content.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	if len(m.Accounts) == 0 {
		return fmt.Errorf("command: at least one target account is required")
	}
	for _, account := range m.Accounts {
		if err := validateAccount(account); err != nil {
			return err
		}
	}
	return nil
}

type CancelTaskMessage struct {
	TaskID string
}

func (CancelTaskMessage) Type() string { return TypeCancelTask }

func (m CancelTaskMessage) Validate() error {
	if strings.TrimSpace(m.TaskID) == "" {
		return fmt.Errorf("command: task id is required")
	}
	return nil
}

type RefreshCredentialMessage struct {
	Account core.AccountRef
}

func (RefreshCredentialMessage) Type() string { return TypeRefreshCredential }

func (m RefreshCredentialMessage) Validate() error {
	return validateAccount(m.Account)
}

type RevokeCredentialMessage struct {
	Account core.AccountRef
	Reason  string
}

func (RevokeCredentialMessage) Type() string { return TypeRevokeCredential }

func (m RevokeCredentialMessage) Validate() error {
	return validateAccount(m.Account)
}

type IngestCredentialMessage struct {
	Credential core.Credential
}

func (IngestCredentialMessage) Type() string { return TypeIngestCredential }

func (m IngestCredentialMessage) Validate() error {
	if strings.TrimSpace(m.Credential.PlatformID) == "" {
		return fmt.Errorf("command: platform id is required")
	}
	if strings.TrimSpace(m.Credential.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	if strings.TrimSpace(m.Credential.AccessToken) == "" {
		return fmt.Errorf("command: access token is required")
	}
	return nil
}

func validateAccount(account core.AccountRef) error {
	if strings.TrimSpace(account.PlatformID) == "" {
		return fmt.Errorf("command: platform id is required")
	}
	if strings.TrimSpace(account.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	return nil
}
