package internal

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_abc")
	assert.Equal(t, "req_abc", GetRequestID(ctx))
	assert.Equal(t, "unknown", GetRequestID(context.Background()))
}

func TestNewRequestIDIsUnique(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	assert.True(t, strings.HasPrefix(a, "req_"))
	assert.Len(t, a, len("req_")+8)
	assert.NotEqual(t, a, b)
}
