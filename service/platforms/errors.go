package platforms

import (
	"fmt"

	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
)

type ErrorKind string

const (
	KIND_AUTH_EXPIRED      ErrorKind = "AuthExpired"
	KIND_PERMISSION_DENIED ErrorKind = "PermissionDenied"
	KIND_RATE_LIMITED      ErrorKind = "RateLimited"
	KIND_VALIDATION_FAILED ErrorKind = "ValidationFailed"
	KIND_TRANSIENT_NETWORK ErrorKind = "TransientNetworkError"
	KIND_UNKNOWN_PLATFORM  ErrorKind = "UnknownPlatformError"
)

// PlatformError carries the platform-side failure taxonomy. The text
// embeds HTTP status and platform code so retry classification can
// pattern-match on the rendered message.
type PlatformError struct {
	Platform   tables.Platform
	Kind       ErrorKind
	HTTPStatus int
	Code       int
	Message    string
}

func (e *PlatformError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s %s: HTTP %d code %d: %s", e.Platform, e.Kind, e.HTTPStatus, e.Code, e.Message)
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Platform, e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Platform, e.Kind, e.Message)
}

func KindOf(err error) ErrorKind {
	if pe, ok := err.(*PlatformError); ok {
		return pe.Kind
	}
	return KIND_UNKNOWN_PLATFORM
}

// classifyStatus maps an HTTP status plus optional platform error code
// to the failure taxonomy. Facebook-family code 190 means an expired
// token even on HTTP 400; codes 4, 368 and 36000 are throttles.
func classifyStatus(platform tables.Platform, httpStatus int, code int, message string) *PlatformError {
	kind := KIND_UNKNOWN_PLATFORM
	switch {
	case code == 190 || httpStatus == 401:
		kind = KIND_AUTH_EXPIRED
	case code == 4 || code == 368 || code == 36000 || httpStatus == 429:
		kind = KIND_RATE_LIMITED
	case code == 200 && httpStatus == 403:
		kind = KIND_PERMISSION_DENIED
	case httpStatus == 403:
		kind = KIND_PERMISSION_DENIED
	case httpStatus == 400 || httpStatus == 422:
		kind = KIND_VALIDATION_FAILED
	case httpStatus >= 500:
		kind = KIND_TRANSIENT_NETWORK
	}
	return &PlatformError{
		Platform:   platform,
		Kind:       kind,
		HTTPStatus: httpStatus,
		Code:       code,
		Message:    message,
	}
}

func networkError(platform tables.Platform, err error) *PlatformError {
	return &PlatformError{
		Platform: platform,
		Kind:     KIND_TRANSIENT_NETWORK,
		Message:  err.Error(),
	}
}

func validationError(platform tables.Platform, message string) *PlatformError {
	return &PlatformError{
		Platform: platform,
		Kind:     KIND_VALIDATION_FAILED,
		Message:  message,
	}
}
