package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidTaskStatusTransition  = errors.New("core: invalid publish task status transition")
	ErrInvalidUploadStateTransition = errors.New("core: invalid upload session state transition")
	ErrUploadOffsetRegression       = errors.New("core: upload offset may not decrease")
	ErrUploadIncomplete             = errors.New("core: upload session has not transferred all bytes")
	ErrTaskTerminal                 = errors.New("core: publish task already reached a terminal status")
)

type ContentKind string

const (
	ContentKindText     ContentKind = "text"
	ContentKindImageSet ContentKind = "image_set"
	ContentKindVideo    ContentKind = "video"
	ContentKindReel     ContentKind = "reel"
	ContentKindStory    ContentKind = "story"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityUnlisted Visibility = "unlisted"
)

// Content is the platform-neutral payload a caller wants published. The
// same value fans out to every target account unchanged; adapters translate
// it into their platform's dialect.
type Content struct {
	Kind        ContentKind
	Title       string
	Caption     string
	VideoURL    string
	ImageURLs   []string
	Visibility  Visibility
	ScheduledAt *time.Time
	Metadata    map[string]any
}

// ResolveKind applies the fixed media precedence: a video URL always wins,
// then images, then text. Reels and stories keep their declared kind as
// long as a video URL backs them.
func (c Content) ResolveKind() ContentKind {
	if strings.TrimSpace(c.VideoURL) != "" {
		switch c.Kind {
		case ContentKindReel, ContentKindStory:
			return c.Kind
		}
		return ContentKindVideo
	}
	if len(c.ImageURLs) > 0 {
		return ContentKindImageSet
	}
	return ContentKindText
}

func (c Content) Validate() error {
	switch c.ResolveKind() {
	case ContentKindText:
		if strings.TrimSpace(c.Caption) == "" {
			return fmt.Errorf("core: text content requires a caption")
		}
	case ContentKindReel, ContentKindStory, ContentKindVideo:
		if strings.TrimSpace(c.VideoURL) == "" {
			return fmt.Errorf("core: %s content requires a video url", c.ResolveKind())
		}
	}
	return nil
}

// AccountRef identifies one (platform, account) publish target.
type AccountRef struct {
	PlatformID string
	AccountID  string
}

func (a AccountRef) Validate() error {
	if strings.TrimSpace(a.PlatformID) == "" {
		return fmt.Errorf("core: platform id is required")
	}
	if strings.TrimSpace(a.AccountID) == "" {
		return fmt.Errorf("core: account id is required")
	}
	return nil
}

func (a AccountRef) Key() string {
	return strings.TrimSpace(strings.ToLower(a.PlatformID)) + "::" + strings.TrimSpace(a.AccountID)
}

// Credential carries the OAuth2 state for one (platform, account).
// ExpiresAt is always an absolute instant: a platform's relative
// expires_in is converted exactly once, at ingestion.
type Credential struct {
	PlatformID   string
	AccountID    string
	TokenType    string
	AccessToken  string
	RefreshToken string
	Scopes       []string
	ExpiresAt    *time.Time
	Extra        map[string]any
	UpdatedAt    time.Time
}

func (c Credential) Account() AccountRef {
	return AccountRef{PlatformID: c.PlatformID, AccountID: c.AccountID}
}

func (c Credential) Refreshable() bool {
	return strings.TrimSpace(c.RefreshToken) != ""
}

// IsExpired reports whether the access token is unusable at now, with the
// caller's safety margin already applied.
func (c Credential) IsExpired(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt == nil {
		return strings.TrimSpace(c.AccessToken) == ""
	}
	if margin < 0 {
		margin = 0
	}
	return !c.ExpiresAt.UTC().After(now.UTC().Add(margin))
}

type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusUploading  TaskStatus = "uploading"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusPublished  TaskStatus = "published"
	TaskStatusFailed     TaskStatus = "failed"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusPublished || s == TaskStatusFailed
}

// FailureReason is the stable machine-readable code stored on a failed
// task. Callers branch on these values, so they never change spelling.
type FailureReason string

const (
	FailureReasonAuthExpired           FailureReason = "auth_expired"
	FailureReasonUploadFailed          FailureReason = "upload_failed"
	FailureReasonProcessingFailed      FailureReason = "processing_failed"
	FailureReasonPlatformRejected      FailureReason = "platform_rejected"
	FailureReasonUnsupportedCapability FailureReason = "unsupported_capability"
	FailureReasonCancelled             FailureReason = "cancelled"
)

// PublishTask is one (content, account) publish attempt. It is owned by
// the dispatcher that created it and mutated only through TransitionTo and
// Fail, which enforce terminal immutability.
type PublishTask struct {
	ID            string
	PlatformID    string
	AccountID     string
	Content       Content
	Status        TaskStatus
	RemoteID      string
	Permalink     string
	FailureReason FailureReason
	FailureDetail string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (t *PublishTask) Account() AccountRef {
	if t == nil {
		return AccountRef{}
	}
	return AccountRef{PlatformID: t.PlatformID, AccountID: t.AccountID}
}

func (t *PublishTask) TransitionTo(status TaskStatus, now time.Time) error {
	if t == nil {
		return nil
	}
	if t.Status == status {
		t.UpdatedAt = now
		return nil
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTaskTerminal, t.Status, status)
	}
	if !taskTransitionAllowed(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTaskStatusTransition, t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = now
	return nil
}

// Fail moves the task to its failed terminal state with a stable reason
// code. Failing an already-terminal task is rejected so a stray late poll
// response can never overwrite a published outcome.
func (t *PublishTask) Fail(reason FailureReason, detail string, now time.Time) error {
	if t == nil {
		return nil
	}
	if err := t.TransitionTo(TaskStatusFailed, now); err != nil {
		return err
	}
	t.FailureReason = reason
	t.FailureDetail = strings.TrimSpace(detail)
	return nil
}

func (t *PublishTask) Result() AccountResult {
	if t == nil {
		return AccountResult{}
	}
	return AccountResult{
		TaskID:        t.ID,
		PlatformID:    t.PlatformID,
		AccountID:     t.AccountID,
		Status:        t.Status,
		RemoteID:      t.RemoteID,
		Permalink:     t.Permalink,
		FailureReason: t.FailureReason,
		FailureDetail: t.FailureDetail,
	}
}

func taskTransitionAllowed(current, next TaskStatus) bool {
	allowed := map[TaskStatus]map[TaskStatus]struct{}{
		TaskStatusQueued: {
			TaskStatusUploading: {},
			TaskStatusFailed:    {},
		},
		TaskStatusUploading: {
			TaskStatusProcessing: {},
			TaskStatusPublished:  {},
			TaskStatusFailed:     {},
		},
		TaskStatusProcessing: {
			TaskStatusPublished: {},
			TaskStatusFailed:    {},
		},
		TaskStatusPublished: {},
		TaskStatusFailed:    {},
	}
	_, ok := allowed[current][next]
	return ok
}

type UploadState string

const (
	UploadStateStarted      UploadState = "started"
	UploadStateTransferring UploadState = "transferring"
	UploadStateFinalized    UploadState = "finalized"
	UploadStateAborted      UploadState = "aborted"
)

// UploadSession tracks one resumable chunked upload. NextOffset only ever
// grows; the next byte range is dictated by the platform after every chunk,
// never chosen by the caller.
type UploadSession struct {
	ID            string
	RemoteID      string
	TotalBytes    int64
	NextOffset    int64
	NextLength    int64
	State         UploadState
	RemoteMediaID string
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Advance records the platform-dictated next range after a chunk was
// accepted. Offsets are monotonic; a regressing offset is a protocol
// violation, not a retry.
func (s *UploadSession) Advance(nextOffset, nextLength int64, now time.Time) error {
	if s == nil {
		return nil
	}
	if s.State != UploadStateStarted && s.State != UploadStateTransferring {
		return fmt.Errorf("%w: advance in state %s", ErrInvalidUploadStateTransition, s.State)
	}
	if nextOffset < s.NextOffset {
		return fmt.Errorf("%w: %d -> %d", ErrUploadOffsetRegression, s.NextOffset, nextOffset)
	}
	s.NextOffset = nextOffset
	s.NextLength = nextLength
	s.State = UploadStateTransferring
	s.UpdatedAt = now
	return nil
}

func (s *UploadSession) Complete() bool {
	if s == nil {
		return false
	}
	return s.NextOffset >= s.TotalBytes
}

// MarkFinalized records the remote media id. Re-finalizing keeps the
// original id: some platforms are not idempotent on their finish call, so
// a retry after a timeout must not be treated as a failure.
func (s *UploadSession) MarkFinalized(remoteMediaID string, now time.Time) error {
	if s == nil {
		return nil
	}
	if s.State == UploadStateFinalized {
		return nil
	}
	if s.State == UploadStateAborted {
		return fmt.Errorf("%w: finalize in state %s", ErrInvalidUploadStateTransition, s.State)
	}
	if !s.Complete() {
		return fmt.Errorf("%w: %d of %d bytes", ErrUploadIncomplete, s.NextOffset, s.TotalBytes)
	}
	s.State = UploadStateFinalized
	s.RemoteMediaID = strings.TrimSpace(remoteMediaID)
	s.UpdatedAt = now
	return nil
}

func (s *UploadSession) MarkAborted(now time.Time) error {
	if s == nil {
		return nil
	}
	if s.State == UploadStateFinalized {
		return fmt.Errorf("%w: abort in state %s", ErrInvalidUploadStateTransition, s.State)
	}
	s.State = UploadStateAborted
	s.UpdatedAt = now
	return nil
}

type AggregateOutcome string

const (
	AggregateOutcomePublished      AggregateOutcome = "published"
	AggregateOutcomePartialSuccess AggregateOutcome = "partial_success"
	AggregateOutcomeFailed         AggregateOutcome = "failed"
)

// AccountResult is one account's terminal detail inside an aggregate.
type AccountResult struct {
	TaskID        string
	PlatformID    string
	AccountID     string
	Status        TaskStatus
	RemoteID      string
	Permalink     string
	FailureReason FailureReason
	FailureDetail string
}

// AggregateResult is derived, never stored: the fold of every task's
// terminal state for one publish request.
type AggregateResult struct {
	Outcome AggregateOutcome
	Results []AccountResult
}

// FoldResults applies the aggregate outcome law: published iff every
// detail entry published, failed iff none did, partial otherwise. An empty
// input folds to failed.
func FoldResults(results []AccountResult) AggregateResult {
	published := 0
	for _, result := range results {
		if result.Status == TaskStatusPublished {
			published++
		}
	}
	outcome := AggregateOutcomePartialSuccess
	switch {
	case len(results) > 0 && published == len(results):
		outcome = AggregateOutcomePublished
	case published == 0:
		outcome = AggregateOutcomeFailed
	}
	return AggregateResult{
		Outcome: outcome,
		Results: append([]AccountResult(nil), results...),
	}
}
