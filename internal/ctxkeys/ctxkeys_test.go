package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	_, ok := RequestID(context.Background())
	assert.False(t, ok)

	ctx := WithRequestID(context.Background(), "req-1")
	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	_, ok = RequestID(WithRequestID(context.Background(), ""))
	assert.False(t, ok)
}

func TestClientIP(t *testing.T) {
	ctx := WithClientIP(context.Background(), "10.0.0.1")
	ip, ok := ClientIP(ctx)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", ip)
}
