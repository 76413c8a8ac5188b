package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-publisher/core"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultSweepLead     = 15 * time.Minute
)

// CredentialRefresher forces a refresh for one account. The credential
// manager satisfies this: GetValid refreshes whenever the token sits
// inside the configured safety margin.
type CredentialRefresher interface {
	GetValid(ctx context.Context, platformID, accountID string) (core.Credential, error)
}

// RefreshSweeper walks credentials that expire inside the lead window and
// enqueues one refresh job per account. The lead window should be at least
// as wide as the credential manager's refresh margin, otherwise the worker
// picks up jobs it has nothing to do for.
type RefreshSweeper struct {
	lister   core.ExpiringCredentialLister
	enqueuer core.JobEnqueuer

	lead     time.Duration
	interval time.Duration
	logger   core.Logger
	nowFn    func() time.Time
}

type SweeperOption func(*RefreshSweeper)

func WithSweepLead(lead time.Duration) SweeperOption {
	return func(s *RefreshSweeper) {
		if lead > 0 {
			s.lead = lead
		}
	}
}

func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *RefreshSweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithSweeperLogger(logger core.Logger) SweeperOption {
	return func(s *RefreshSweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSweeperClock(nowFn func() time.Time) SweeperOption {
	return func(s *RefreshSweeper) {
		if nowFn != nil {
			s.nowFn = nowFn
		}
	}
}

func NewRefreshSweeper(
	lister core.ExpiringCredentialLister,
	enqueuer core.JobEnqueuer,
	opts ...SweeperOption,
) (*RefreshSweeper, error) {
	if lister == nil {
		return nil, fmt.Errorf("schedule: expiring credential lister is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("schedule: job enqueuer is required")
	}
	_, logger := glog.Resolve("schedule", nil, nil)
	sweeper := &RefreshSweeper{
		lister:   lister,
		enqueuer: enqueuer,
		lead:     DefaultSweepLead,
		interval: DefaultSweepInterval,
		logger:   logger,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sweeper)
		}
	}
	return sweeper, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *RefreshSweeper) Run(ctx context.Context) error {
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("credential refresh sweep failed", "error", err)
		}
		if err := core.WaitWithContext(ctx, s.interval); err != nil {
			return err
		}
	}
}

// RunOnce performs a single sweep and reports how many refresh jobs were
// enqueued. Per-account enqueue failures are logged and skipped so one bad
// row never starves the rest of the window.
func (s *RefreshSweeper) RunOnce(ctx context.Context) (int, error) {
	if s == nil || s.lister == nil || s.enqueuer == nil {
		return 0, fmt.Errorf("schedule: refresh sweeper is not configured")
	}
	cutoff := s.nowFn().Add(s.lead)
	expiring, err := s.lister.ListExpiring(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("schedule: list expiring credentials: %w", err)
	}

	enqueued := 0
	for _, cred := range expiring {
		msg := refreshMessage(cred)
		if err := s.enqueuer.Enqueue(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return enqueued, ctx.Err()
			}
			s.logger.Warn("enqueue credential refresh failed",
				"platform_id", cred.PlatformID,
				"account_id", cred.AccountID,
				"error", err,
			)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.Info("credential refresh sweep enqueued jobs", "count", enqueued)
	}
	return enqueued, nil
}

func refreshMessage(cred core.Credential) *core.JobExecutionMessage {
	expiry := ""
	if cred.ExpiresAt != nil {
		expiry = cred.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return &core.JobExecutionMessage{
		JobID: JobIDCredentialRefresh,
		Parameters: map[string]any{
			"platform_id": cred.PlatformID,
			"account_id":  cred.AccountID,
		},
		IdempotencyKey: strings.Join([]string{
			JobIDCredentialRefresh, cred.PlatformID, cred.AccountID, expiry,
		}, "::"),
		DedupPolicy: "drop",
	}
}

// HandleRefreshJob executes one enqueued refresh. It is the worker-side
// counterpart of RunOnce: read the account from the job parameters and let
// the credential manager decide whether a refresh is actually due.
func HandleRefreshJob(ctx context.Context, refresher CredentialRefresher, msg *core.JobExecutionMessage) error {
	if refresher == nil {
		return fmt.Errorf("schedule: credential refresher is required")
	}
	if msg == nil {
		return fmt.Errorf("schedule: execution message is required")
	}
	platformID := stringParam(msg.Parameters, "platform_id")
	accountID := stringParam(msg.Parameters, "account_id")
	if platformID == "" || accountID == "" {
		return fmt.Errorf("schedule: refresh job requires platform_id and account_id parameters")
	}
	if _, err := refresher.GetValid(ctx, platformID, accountID); err != nil {
		return fmt.Errorf("schedule: refresh %s/%s: %w", platformID, accountID, err)
	}
	return nil
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}
