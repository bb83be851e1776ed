package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewClientFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewClient(ctx, Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}, nil)
	assert.ErrorContains(t, err, "redis ping")
}

func TestCheckOnNilClient(t *testing.T) {
	var c *Client
	assert.ErrorContains(t, c.Check(context.Background()), "not configured")
}
