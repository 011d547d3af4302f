package crawlerr

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	captcha := New("xhs", 461, "captcha", ErrRateLimited)
	wrapped := fmt.Errorf("search: %w", captcha)

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsFatal(wrapped))
	assert.Equal(t, "rate_limited", Class(wrapped))

	blocked := fmt.Errorf("feed: %w", New("xhs", 300012, "ip blocked", ErrForbidden))
	assert.True(t, IsFatal(blocked))
	assert.False(t, IsRetryable(blocked))

	assert.False(t, IsRetryable(ErrNotFound))
	assert.False(t, IsRetryable(context.Canceled))
	assert.Equal(t, "other", Class(context.Canceled))
	assert.Equal(t, "none", Class(nil))
}
