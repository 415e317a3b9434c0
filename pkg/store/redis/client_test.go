package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameupdater/gameupdater/pkg/config"
)

func TestNewClientRequiresAddresses(t *testing.T) {
	_, err := NewClient(context.Background(), &config.RedisConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	// Port 1 on loopback refuses connections.
	_, err := NewClient(context.Background(), &config.RedisConfig{Addresses: []string{"127.0.0.1:1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: ping")
}
