package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_InvalidDSN(t *testing.T) {
	pool, err := NewPool(context.Background(), "://bad", PoolOptions{})
	require.Error(t, err)
	assert.Nil(t, pool)
}

func TestNewPool_AppliesOptions(t *testing.T) {
	// Construction against an unreachable host is lazy in pgxpool, so the
	// pool comes back configured without a live database.
	pool, err := NewPool(context.Background(),
		"postgres://user:pw@localhost:1/painpoints?sslmode=disable",
		PoolOptions{MaxConns: 3, MinConns: 1})
	require.NoError(t, err)
	defer pool.Close()
	assert.Equal(t, int32(3), pool.Config().MaxConns)
	assert.Equal(t, int32(1), pool.Config().MinConns)
}
