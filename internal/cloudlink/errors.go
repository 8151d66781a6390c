package cloudlink

import (
	"errors"
	"fmt"
	"time"
)

// ErrKind tags the distinct failure conditions of the link-resolution API.
type ErrKind string

const (
	KindNotFound    ErrKind = "not_found"   // 404: file id unknown or link expired
	KindAuth        ErrKind = "auth"        // 401: token rejected
	KindRateLimited ErrKind = "rate_limit"  // 429: carries a retry-after hint
	KindTooLarge    ErrKind = "too_large"   // 413: payload over the service limit
	KindTimeout     ErrKind = "timeout"     // request deadline exceeded
	KindUnreachable ErrKind = "unreachable" // connect failure / DNS / 5xx
)

// APIError is the typed condition returned by the client. Each kind maps to
// a distinct user-facing message.
type APIError struct {
	Kind       ErrKind
	Status     int
	Detail     string
	RetryAfter time.Duration // set for KindRateLimited when the service hinted
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindNotFound:
		return "file not found or link expired"
	case KindAuth:
		return "cloud service rejected credentials, check the configured token"
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("cloud service rate limited, retry after %s", e.RetryAfter)
		}
		return "cloud service rate limited"
	case KindTooLarge:
		return "file exceeds the cloud service size limit"
	case KindTimeout:
		return "cloud service request timed out"
	case KindUnreachable:
		return "cloud service unreachable"
	default:
		return "cloud service error: " + e.Detail
	}
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
