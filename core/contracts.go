package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Capability string

const (
	CapabilityPublishText  Capability = "publish.text"
	CapabilityPublishImage Capability = "publish.image"
	CapabilityPublishVideo Capability = "publish.video"
	CapabilityPublishReel  Capability = "publish.reel"
	CapabilityPublishStory Capability = "publish.story"
	CapabilityQueryStatus  Capability = "publish.query_status"
	CapabilityListPosts    Capability = "posts.list"
	CapabilityComment      Capability = "posts.comment"
	CapabilityDeletePost   Capability = "posts.delete"
)

// CapabilityDescriptor tags one operation an adapter supports. Absence of a
// descriptor is a configuration fact, not an error: callers check the set
// before invoking.
type CapabilityDescriptor struct {
	Name  Capability
	Async bool
}

// CapabilityForKind maps a resolved content kind to the capability the
// dispatcher must check before invoking an adapter.
func CapabilityForKind(kind ContentKind) Capability {
	switch kind {
	case ContentKindVideo:
		return CapabilityPublishVideo
	case ContentKindReel:
		return CapabilityPublishReel
	case ContentKindStory:
		return CapabilityPublishStory
	case ContentKindImageSet:
		return CapabilityPublishImage
	default:
		return CapabilityPublishText
	}
}

type PublishStatus string

const (
	PublishStatusPublished  PublishStatus = "published"
	PublishStatusProcessing PublishStatus = "processing"
)

type ProcessingState string

const (
	ProcessingStateCompleted  ProcessingState = "completed"
	ProcessingStateFailed     ProcessingState = "failed"
	ProcessingStateInProgress ProcessingState = "in_progress"
)

type PublishRequest struct {
	Credential Credential
	AccountID  string
	Content    Content
}

// PublishResult is the normalized publish outcome. Synchronous platforms
// return PublishStatusPublished with the final remote id; async platforms
// return PublishStatusProcessing and the caller polls then finalizes.
type PublishResult struct {
	RemoteID  string
	Permalink string
	Status    PublishStatus
	Metadata  map[string]any
}

type ProcessingStatus struct {
	State  ProcessingState
	Detail string
}

// Adapter is the normalized publish surface one platform family
// implements. Optional operations live on the capability-tagged extension
// interfaces below; the capability set is the source of truth for what the
// adapter can do.
type Adapter interface {
	ID() string
	Capabilities() []CapabilityDescriptor
	Publish(ctx context.Context, req PublishRequest) (PublishResult, error)
}

// ProcessingPublisher is implemented by adapters whose Publish can return
// PublishStatusProcessing. QueryProcessingStatus is read-only and safe to
// call repeatedly; FinalizePublish before completion fails, it never queues.
type ProcessingPublisher interface {
	QueryProcessingStatus(ctx context.Context, cred Credential, remoteID string) (ProcessingStatus, error)
	FinalizePublish(ctx context.Context, cred Credential, remoteID string, content Content) (PublishResult, error)
}

type RemotePost struct {
	RemoteID  string
	Permalink string
	Caption   string
	CreatedAt *time.Time
	Metadata  map[string]any
}

type PostLister interface {
	ListPosts(ctx context.Context, cred Credential, accountID string, limit int) ([]RemotePost, error)
}

type Commenter interface {
	Comment(ctx context.Context, cred Credential, remoteID string, message string) (string, error)
}

type PostDeleter interface {
	DeletePost(ctx context.Context, cred Credential, remoteID string) error
}

// AdapterSupports reports capability-set membership.
func AdapterSupports(adapter Adapter, capability Capability) bool {
	if adapter == nil {
		return false
	}
	for _, descriptor := range adapter.Capabilities() {
		if descriptor.Name == capability {
			return true
		}
	}
	return false
}

// Registry resolves a platform id to its adapter. Constructed once at
// process start and handed to the dispatcher by reference; nothing reads
// it ambiently.
type Registry interface {
	Register(adapter Adapter) error
	Get(platformID string) (Adapter, bool)
	List() []Adapter
}

// DurableCredentialStore is the authoritative persistence boundary for
// credentials. Implementations provide read-your-writes consistency for a
// single caller.
type DurableCredentialStore interface {
	Load(ctx context.Context, platformID, accountID string) (Credential, bool, error)
	Upsert(ctx context.Context, cred Credential) error
	Delete(ctx context.Context, platformID, accountID string) error
}

// ExpiringCredentialLister is implemented by durable stores that can feed
// the proactive refresh sweep.
type ExpiringCredentialLister interface {
	ListExpiring(ctx context.Context, before time.Time) ([]Credential, error)
}

// CredentialCache is the non-owning fast path. Entries are time-bounded
// copies; the durable store always wins on disagreement.
type CredentialCache interface {
	Get(platformID, accountID string) (Credential, bool)
	Put(cred Credential, ttl time.Duration)
	Drop(platformID, accountID string)
}

// TokenRefresher exchanges a refresh token for a new access token at one
// platform's token endpoint.
type TokenRefresher interface {
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}

// CodeExchanger turns an OAuth callback code into a credential. Routing of
// the HTTP callback itself is outside this module.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, accountID string, code string) (Credential, error)
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	Metadata             map[string]any
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

// TransportAdapter executes one platform HTTP call. Adapters speak their
// platform dialect through this seam so tests can script responses.
type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// ByteRangeSource reads media by absolute byte range, never wholesale. The
// chunked upload engine fetches exactly the range the platform dictated.
type ByteRangeSource interface {
	Size(ctx context.Context) (int64, error)
	ReadRange(ctx context.Context, start, end int64) ([]byte, error)
}

// TaskEvent is one observed task state transition, published on the
// dispatcher's progress stream.
type TaskEvent struct {
	TaskID        string
	PlatformID    string
	AccountID     string
	From          TaskStatus
	To            TaskStatus
	FailureReason FailureReason
	RemoteID      string
	At            time.Time
}

type EventSink interface {
	Publish(event TaskEvent)
}

// TaskJournal persists terminal task outcomes so callers can list past
// publish attempts per account.
type TaskJournal interface {
	Record(ctx context.Context, task PublishTask) error
	ListByAccount(ctx context.Context, platformID, accountID string, limit int) ([]PublishTask, error)
}

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string)       {}
func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

// JobEnqueuer hands work to the background queue; the schedule package
// adapts it onto go-job.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}
