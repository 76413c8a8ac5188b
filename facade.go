package publisher

import (
	"fmt"

	publishercommand "github.com/goliatone/go-publisher/command"
)

// Commands bundles every command handler the module exposes, ready to be
// registered on a go-command dispatcher.
type Commands struct {
	Publish           *publishercommand.PublishCommand
	CancelTask        *publishercommand.CancelTaskCommand
	RefreshCredential *publishercommand.RefreshCredentialCommand
	RevokeCredential  *publishercommand.RevokeCredentialCommand
	IngestCredential  *publishercommand.IngestCredentialCommand
}

type Facade struct {
	publishing  publishercommand.PublishingService
	credentials publishercommand.CredentialService
	commands    Commands
}

func NewFacade(
	publishing publishercommand.PublishingService,
	credentials publishercommand.CredentialService,
) (*Facade, error) {
	if publishing == nil {
		return nil, fmt.Errorf("publisher: publishing service is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("publisher: credential service is required")
	}

	facade := &Facade{publishing: publishing, credentials: credentials}
	facade.commands = Commands{
		Publish:           publishercommand.NewPublishCommand(publishing),
		CancelTask:        publishercommand.NewCancelTaskCommand(publishing),
		RefreshCredential: publishercommand.NewRefreshCredentialCommand(credentials),
		RevokeCredential:  publishercommand.NewRevokeCredentialCommand(credentials),
		IngestCredential:  publishercommand.NewIngestCredentialCommand(credentials),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Publishing() publishercommand.PublishingService {
	if f == nil {
		return nil
	}
	return f.publishing
}

func (f *Facade) Credentials() publishercommand.CredentialService {
	if f == nil {
		return nil
	}
	return f.credentials
}
