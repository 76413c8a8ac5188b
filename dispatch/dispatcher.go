package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-publisher/core"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 5 * time.Minute
)

// CredentialSource yields a usable credential for one account, refreshing
// behind the scenes when needed.
type CredentialSource interface {
	GetValid(ctx context.Context, platformID, accountID string) (core.Credential, error)
}

// Dispatcher fans one piece of content out to many accounts. Each target
// runs as its own goroutine-backed task; the dispatcher joins on all of
// them and folds the terminal states into one aggregate.
type Dispatcher struct {
	registry     core.Registry
	credentials  CredentialSource
	events       core.EventSink
	journal      core.TaskJournal
	metrics      core.MetricsRecorder
	logger       core.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
	nowFn        func() time.Time
	idFn         func() string

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

type Option func(*Dispatcher)

func WithEventSink(sink core.EventSink) Option {
	return func(d *Dispatcher) {
		if sink != nil {
			d.events = sink
		}
	}
}

func WithTaskJournal(journal core.TaskJournal) Option {
	return func(d *Dispatcher) {
		if journal != nil {
			d.journal = journal
		}
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if metrics != nil {
			d.metrics = metrics
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithPolling(interval, timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
		if timeout > 0 {
			d.pollTimeout = timeout
		}
	}
}

func WithClock(nowFn func() time.Time) Option {
	return func(d *Dispatcher) {
		if nowFn != nil {
			d.nowFn = nowFn
		}
	}
}

func New(registry core.Registry, credentials CredentialSource, options ...Option) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("dispatch: adapter registry is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("dispatch: credential source is required")
	}

	_, logger := glog.Resolve("dispatch", nil, nil)
	dispatcher := &Dispatcher{
		registry:     registry,
		credentials:  credentials,
		metrics:      core.NopMetricsRecorder{},
		logger:       logger,
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
		nowFn:        func() time.Time { return time.Now().UTC() },
		idFn:         uuid.NewString,
		active:       map[string]context.CancelFunc{},
	}
	for _, option := range options {
		if option != nil {
			option(dispatcher)
		}
	}
	return dispatcher, nil
}

// PublishToMany runs one task per target account and waits for every one
// of them to reach a terminal state. A single account's failure never
// aborts the others; the fold over all terminal states is the result.
func (d *Dispatcher) PublishToMany(ctx context.Context, content core.Content, accounts []core.AccountRef) (core.AggregateResult, error) {
	if d == nil {
		return core.AggregateResult{}, fmt.Errorf("dispatch: dispatcher is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := content.Validate(); err != nil {
		return core.AggregateResult{}, core.MapError(err)
	}
	if len(accounts) == 0 {
		return core.FoldResults(nil), nil
	}

	tasks := make([]*core.PublishTask, len(accounts))
	now := d.nowFn()
	for i, account := range accounts {
		tasks[i] = &core.PublishTask{
			ID:         d.idFn(),
			PlatformID: account.PlatformID,
			AccountID:  account.AccountID,
			Content:    content,
			Status:     core.TaskStatusQueued,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task *core.PublishTask) {
			defer wg.Done()
			d.runTracked(ctx, task)
		}(task)
	}
	wg.Wait()

	results := make([]core.AccountResult, 0, len(tasks))
	for _, task := range tasks {
		results = append(results, task.Result())
	}
	return core.FoldResults(results), nil
}

// Cancel stops one in-flight task. Side effects already submitted to the
// platform are not retracted.
func (d *Dispatcher) Cancel(taskID string) bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	cancel, ok := d.active[taskID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (d *Dispatcher) runTracked(ctx context.Context, task *core.PublishTask) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.active[task.ID] = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.active, task.ID)
		d.mu.Unlock()
	}()

	d.runTask(taskCtx, task)
	d.recordOutcome(task)
}

func (d *Dispatcher) recordOutcome(task *core.PublishTask) {
	tags := map[string]string{
		"platform": task.PlatformID,
		"status":   string(task.Status),
	}
	if task.FailureReason != "" {
		tags["reason"] = string(task.FailureReason)
	}
	d.metrics.IncCounter(context.Background(), "publisher.tasks.total", 1, tags)

	if d.journal == nil {
		return
	}
	if err := d.journal.Record(context.Background(), *task); err != nil {
		d.logger.Warn("task journal write failed",
			"task_id", task.ID,
			"error", err,
		)
	}
}
