package upload

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-publisher/core"
)

const defaultMaxChunkRetries = 3

// InitHints carries media facts a platform may want before negotiating
// the first byte range.
type InitHints struct {
	ContentType string
	FileName    string
	Metadata    map[string]any
}

// Protocol is one platform's chunked-upload dialect. The engine owns the
// transfer loop and session bookkeeping; the protocol owns the wire
// format of each phase.
type Protocol interface {
	// InitUpload opens a session. The returned session carries the first
	// platform-dictated range in NextOffset/NextLength.
	InitUpload(ctx context.Context, cred core.Credential, totalBytes int64, hints InitHints) (core.UploadSession, error)

	// UploadChunk transmits exactly [start, end). It returns the next
	// range the platform requires.
	UploadChunk(ctx context.Context, cred core.Credential, session core.UploadSession, start, end int64, data []byte) (nextOffset, nextLength int64, err error)

	// Finalize closes a fully transferred session and returns the remote
	// media identifier. Platforms are not assumed idempotent here; the
	// engine is.
	Finalize(ctx context.Context, cred core.Credential, session core.UploadSession) (string, error)

	// Abort discards a session. Best effort.
	Abort(ctx context.Context, cred core.Credential, session core.UploadSession) error
}

type Engine struct {
	maxChunkRetries int
	backoff         core.BackoffScheduler
	logger          core.Logger
	nowFn           func() time.Time
}

type EngineOption func(*Engine)

func WithMaxChunkRetries(retries int) EngineOption {
	return func(e *Engine) {
		if retries > 0 {
			e.maxChunkRetries = retries
		}
	}
}

func WithBackoff(backoff core.BackoffScheduler) EngineOption {
	return func(e *Engine) {
		if backoff != nil {
			e.backoff = backoff
		}
	}
}

func WithLogger(logger core.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithClock(nowFn func() time.Time) EngineOption {
	return func(e *Engine) {
		if nowFn != nil {
			e.nowFn = nowFn
		}
	}
}

func NewEngine(options ...EngineOption) *Engine {
	_, logger := glog.Resolve("upload", nil, nil)
	engine := &Engine{
		maxChunkRetries: defaultMaxChunkRetries,
		backoff:         core.ExponentialBackoffScheduler{},
		logger:          logger,
		nowFn:           func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine
}

// Run drives one complete upload: init, platform-dictated transfer loop,
// finalize. Every range comes from the previous platform response, never
// from a local chunk-size policy. A chunk failure is retried with the
// same range; exhausting retries aborts the session.
func (e *Engine) Run(
	ctx context.Context,
	protocol Protocol,
	cred core.Credential,
	source core.ByteRangeSource,
	hints InitHints,
) (core.UploadSession, error) {
	if e == nil {
		return core.UploadSession{}, fmt.Errorf("upload: engine is nil")
	}
	if protocol == nil {
		return core.UploadSession{}, fmt.Errorf("upload: protocol is required")
	}
	if source == nil {
		return core.UploadSession{}, fmt.Errorf("upload: byte range source is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	totalBytes, err := source.Size(ctx)
	if err != nil {
		return core.UploadSession{}, core.NewUploadFailedError(err, "upload: resolve source size")
	}
	if totalBytes <= 0 {
		return core.UploadSession{}, core.NewUploadFailedError(nil, "upload: source is empty")
	}

	session, err := protocol.InitUpload(ctx, cred, totalBytes, hints)
	if err != nil {
		return core.UploadSession{}, core.NewUploadFailedError(err, "upload: init upload")
	}
	if session.TotalBytes == 0 {
		session.TotalBytes = totalBytes
	}
	if session.State == "" {
		session.State = core.UploadStateStarted
	}

	for !session.Complete() {
		start := session.NextOffset
		end := start + session.NextLength
		if session.NextLength <= 0 || end > session.TotalBytes {
			end = session.TotalBytes
		}

		nextOffset, nextLength, chunkErr := e.transferChunk(ctx, protocol, cred, source, session, start, end)
		if chunkErr != nil {
			e.abort(ctx, protocol, cred, &session)
			return session, chunkErr
		}
		if err := session.Advance(nextOffset, nextLength, e.nowFn()); err != nil {
			e.abort(ctx, protocol, cred, &session)
			return session, core.NewUploadFailedError(err, "upload: apply platform range")
		}
	}

	remoteMediaID, err := e.finalize(ctx, protocol, cred, session)
	if err != nil {
		e.abort(ctx, protocol, cred, &session)
		return session, err
	}
	if err := session.MarkFinalized(remoteMediaID, e.nowFn()); err != nil {
		return session, core.NewUploadFailedError(err, "upload: mark session finalized")
	}
	return session, nil
}

// transferChunk reads and transmits one range, retrying the same range on
// transient failures.
func (e *Engine) transferChunk(
	ctx context.Context,
	protocol Protocol,
	cred core.Credential,
	source core.ByteRangeSource,
	session core.UploadSession,
	start, end int64,
) (int64, int64, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxChunkRetries; attempt++ {
		if attempt > 1 {
			if err := core.WaitWithContext(ctx, e.backoff.NextDelay(attempt-1)); err != nil {
				return 0, 0, core.NewUploadFailedError(err, "upload: cancelled during retry wait")
			}
		}

		data, readErr := source.ReadRange(ctx, start, end)
		if readErr != nil {
			lastErr = readErr
			e.logChunkFailure(session, start, end, attempt, readErr)
			continue
		}

		nextOffset, nextLength, sendErr := protocol.UploadChunk(ctx, cred, session, start, end, data)
		if sendErr == nil {
			return nextOffset, nextLength, nil
		}
		if !core.IsRetryable(sendErr) {
			return 0, 0, sendErr
		}
		lastErr = sendErr
		e.logChunkFailure(session, start, end, attempt, sendErr)
	}
	return 0, 0, core.NewUploadFailedError(
		lastErr,
		fmt.Sprintf("upload: chunk [%d,%d) failed after %d attempts", start, end, e.maxChunkRetries),
	)
}

func (e *Engine) finalize(
	ctx context.Context,
	protocol Protocol,
	cred core.Credential,
	session core.UploadSession,
) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxChunkRetries; attempt++ {
		if attempt > 1 {
			if err := core.WaitWithContext(ctx, e.backoff.NextDelay(attempt-1)); err != nil {
				return "", core.NewUploadFailedError(err, "upload: cancelled during finalize wait")
			}
		}
		remoteMediaID, err := protocol.Finalize(ctx, cred, session)
		if err == nil {
			if strings.TrimSpace(remoteMediaID) == "" {
				return "", core.NewUploadFailedError(nil, "upload: finalize returned empty media id")
			}
			return remoteMediaID, nil
		}
		if !core.IsRetryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", core.NewUploadFailedError(
		lastErr,
		fmt.Sprintf("upload: finalize failed after %d attempts", e.maxChunkRetries),
	)
}

func (e *Engine) abort(ctx context.Context, protocol Protocol, cred core.Credential, session *core.UploadSession) {
	if session == nil || session.State == core.UploadStateFinalized {
		return
	}
	abortCtx := ctx
	if abortCtx == nil || abortCtx.Err() != nil {
		abortCtx = context.Background()
	}
	if err := protocol.Abort(abortCtx, cred, *session); err != nil {
		e.logger.Warn("upload session abort failed",
			"session_id", session.ID,
			"error", err,
		)
	}
	_ = session.MarkAborted(e.nowFn())
}

func (e *Engine) logChunkFailure(session core.UploadSession, start, end int64, attempt int, err error) {
	e.logger.Warn("upload chunk attempt failed",
		"session_id", session.ID,
		"range_start", start,
		"range_end", end,
		"attempt", attempt,
		"error", err,
	)
}
