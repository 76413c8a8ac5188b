package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	PublishErrorBadInput              = "PUBLISH_BAD_INPUT"
	PublishErrorAdapterNotFound       = "PUBLISH_ADAPTER_NOT_FOUND"
	PublishErrorAuthExpired           = "PUBLISH_AUTH_EXPIRED"
	PublishErrorUploadFailed          = "PUBLISH_UPLOAD_FAILED"
	PublishErrorProcessingFailed      = "PUBLISH_PROCESSING_FAILED"
	PublishErrorPlatformRejected      = "PUBLISH_PLATFORM_REJECTED"
	PublishErrorCapabilityUnsupported = "PUBLISH_CAPABILITY_UNSUPPORTED"
	PublishErrorStillProcessing       = "PUBLISH_STILL_PROCESSING"
	PublishErrorTransient             = "PUBLISH_TRANSIENT"
	PublishErrorInternal              = "PUBLISH_INTERNAL_ERROR"
)

// NewAuthExpiredError marks a credential unusable and unrefreshable. Not
// retryable: the account owner must re-authorize.
func NewAuthExpiredError(platformID, accountID string) *goerrors.Error {
	return goerrors.New("core: credential expired and cannot be refreshed", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(PublishErrorAuthExpired).
		WithMetadata(map[string]any{
			"platform_id": strings.TrimSpace(platformID),
			"account_id":  strings.TrimSpace(accountID),
		})
}

// WrapAuthExpired keeps the refresh failure as the cause while surfacing
// the stable auth-expired envelope.
func WrapAuthExpired(source error, platformID, accountID string) *goerrors.Error {
	if source == nil {
		return NewAuthExpiredError(platformID, accountID)
	}
	return goerrors.Wrap(source, goerrors.CategoryAuth, "core: credential refresh failed").
		WithCode(http.StatusUnauthorized).
		WithTextCode(PublishErrorAuthExpired).
		WithMetadata(map[string]any{
			"platform_id": strings.TrimSpace(platformID),
			"account_id":  strings.TrimSpace(accountID),
		})
}

func NewCapabilityUnsupportedError(platformID string, capability Capability) *goerrors.Error {
	return goerrors.New("core: capability not supported by adapter", goerrors.CategoryOperation).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(PublishErrorCapabilityUnsupported).
		WithMetadata(map[string]any{
			"platform_id": strings.TrimSpace(platformID),
			"capability":  string(capability),
		})
}

func NewPlatformRejectedError(message string, statusCode int, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, goerrors.CategoryExternal).
		WithCode(statusCode).
		WithTextCode(PublishErrorPlatformRejected)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func NewTransientError(source error, message string) *goerrors.Error {
	if source == nil {
		return goerrors.New(message, goerrors.CategoryExternal).
			WithCode(http.StatusBadGateway).
			WithTextCode(PublishErrorTransient)
	}
	return goerrors.Wrap(source, goerrors.CategoryExternal, message).
		WithCode(http.StatusBadGateway).
		WithTextCode(PublishErrorTransient)
}

func NewUploadFailedError(source error, message string) *goerrors.Error {
	if source == nil {
		return goerrors.New(message, goerrors.CategoryExternal).
			WithCode(http.StatusBadGateway).
			WithTextCode(PublishErrorUploadFailed)
	}
	return goerrors.Wrap(source, goerrors.CategoryExternal, message).
		WithCode(http.StatusBadGateway).
		WithTextCode(PublishErrorUploadFailed)
}

func NewProcessingFailedError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(PublishErrorProcessingFailed)
}

// NewStillProcessingError rejects a finalize attempt made before the
// platform reported completion. Non-retryable at the call site: the caller
// must keep polling instead.
func NewStillProcessingError(remoteID string) *goerrors.Error {
	return goerrors.New("core: remote media is still processing", goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(PublishErrorStillProcessing).
		WithMetadata(map[string]any{"remote_id": strings.TrimSpace(remoteID)})
}

// IsRetryable reports whether a local bounded retry may help. Auth,
// validation, and well-formed platform rejections never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz,
			goerrors.CategoryValidation, goerrors.CategoryBadInput,
			goerrors.CategoryNotFound, goerrors.CategoryOperation,
			goerrors.CategoryConflict:
			return false
		}
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case PublishErrorAuthExpired, PublishErrorPlatformRejected,
			PublishErrorCapabilityUnsupported, PublishErrorProcessingFailed,
			PublishErrorStillProcessing:
			return false
		}
		return true
	}
	return true
}

// FailureReasonForError maps any adapter-level error onto the stable
// failure reason the task records.
func FailureReasonForError(err error) FailureReason {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case PublishErrorAuthExpired:
			return FailureReasonAuthExpired
		case PublishErrorUploadFailed:
			return FailureReasonUploadFailed
		case PublishErrorProcessingFailed, PublishErrorStillProcessing:
			return FailureReasonProcessingFailed
		case PublishErrorCapabilityUnsupported:
			return FailureReasonUnsupportedCapability
		case PublishErrorPlatformRejected:
			return FailureReasonPlatformRejected
		}
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return FailureReasonAuthExpired
		case goerrors.CategoryOperation:
			return FailureReasonUnsupportedCapability
		}
	}
	return FailureReasonPlatformRejected
}

func publishErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensurePublishErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "adapter") && strings.Contains(msg, "not registered"):
		return newPublishError(err.Error(), goerrors.CategoryNotFound, PublishErrorAdapterNotFound)
	case strings.Contains(msg, "capability") && strings.Contains(msg, "not supported"):
		return newPublishError(err.Error(), goerrors.CategoryOperation, PublishErrorCapabilityUnsupported)
	case strings.Contains(msg, "invalid_grant"), strings.Contains(msg, "re-authorize"):
		return newPublishError(err.Error(), goerrors.CategoryAuth, PublishErrorAuthExpired)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newPublishError(err.Error(), goerrors.CategoryBadInput, PublishErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensurePublishErrorEnvelope(mapped)
}

func newPublishError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensurePublishErrorEnvelope(
		goerrors.New(message, category).WithTextCode(textCode),
	)
}

func ensurePublishErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = publishHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultPublishTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultPublishTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return PublishErrorBadInput
	case goerrors.CategoryNotFound:
		return PublishErrorAdapterNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return PublishErrorAuthExpired
	case goerrors.CategoryOperation:
		return PublishErrorCapabilityUnsupported
	case goerrors.CategoryConflict:
		return PublishErrorStillProcessing
	case goerrors.CategoryExternal:
		return PublishErrorTransient
	default:
		return PublishErrorInternal
	}
}

func publishHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MapError envelopes any error into the module's rich error contract.
func MapError(err error) *goerrors.Error {
	return publishErrorMapper(err)
}
