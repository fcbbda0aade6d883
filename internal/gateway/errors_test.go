package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"wrapped cancel", fmt.Errorf("expand: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"declared retryable", ExpansionError(errors.New("boom"), true), true},
		{"declared permanent", IssueCreationError(errors.New("timeout"), false), false},
		{"wrapped declared", fmt.Errorf("x: %w", RetrievalError(errors.New("e"), true)), true},
		{"rate limit text", errors.New("Rate limit exceeded"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"logic", errors.New("field 'summary' is required"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestHTTPError(t *testing.T) {
	e := HTTPError(KindIssueCreation, http.StatusTooManyRequests, "")
	assert.True(t, e.Retryable)
	assert.Equal(t, "issue_creation: status 429: Too Many Requests", e.Error())

	e = HTTPError(KindIssueCreation, http.StatusBadRequest, `{"errors":{"summary":"required"}}`)
	assert.False(t, e.Retryable)
	assert.Contains(t, e.Error(), "summary")

	assert.True(t, HTTPError(KindExpansion, http.StatusBadGateway, "bad").Retryable)
}

func TestErrorUnwrap(t *testing.T) {
	root := errors.New("root cause")
	err := fmt.Errorf("outer: %w", RetrievalError(root, false))

	var gwErr *Error
	assert.ErrorAs(t, err, &gwErr)
	assert.Equal(t, KindRetrieval, gwErr.Kind)
	assert.ErrorIs(t, err, root)
}

func TestIssueRefIsZero(t *testing.T) {
	assert.True(t, IssueRef{}.IsZero())
	assert.False(t, IssueRef{Key: "P-1"}.IsZero())
}
