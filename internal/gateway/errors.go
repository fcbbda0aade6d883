package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind names the gateway that failed.
type Kind string

const (
	KindRetrieval     Kind = "retrieval"
	KindExpansion     Kind = "expansion"
	KindIssueCreation Kind = "issue_creation"
)

// Error is returned by gateway implementations. Status carries the HTTP
// status when the failure came from a remote response.
type Error struct {
	Kind      Kind
	Retryable bool
	Status    int
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RetrievalError wraps err as a retrieval failure.
func RetrievalError(err error, retryable bool) *Error {
	return &Error{Kind: KindRetrieval, Retryable: retryable, Err: err}
}

// ExpansionError wraps err as an expansion failure.
func ExpansionError(err error, retryable bool) *Error {
	return &Error{Kind: KindExpansion, Retryable: retryable, Err: err}
}

// IssueCreationError wraps err as an issue creation failure.
func IssueCreationError(err error, retryable bool) *Error {
	return &Error{Kind: KindIssueCreation, Retryable: retryable, Err: err}
}

// HTTPError builds an Error from a non-success response. 408, 429 and 5xx
// are retryable.
func HTTPError(kind Kind, status int, body string) *Error {
	body = strings.TrimSpace(body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return &Error{
		Kind:      kind,
		Status:    status,
		Retryable: RetryableStatus(status),
		Err:       errors.New(firstNonEmpty(body, http.StatusText(status))),
	}
}

// RetryableStatus reports whether an HTTP status is worth retrying.
func RetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

// IsRetryable reports whether err is transient. Cancellation is never
// retryable; a gateway *Error answers for itself; anything else is
// classified by message.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	transientHints := []string{
		"timeout",
		"rate limit",
		"too many requests",
		"temporar",
		"connection",
		"unavailable",
		"network",
		"i/o",
	}
	for _, h := range transientHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
