//go:build integration

package infra_test

import (
	"context"
	"testing"
	"time"

	"restopos/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	rdC, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })

	url, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)
	rdb, err := infra.NewRedis(url)
	require.NoError(t, err)

	l := infra.NewRedisLocker(rdb, 5*time.Second)
	unlock, err := l.Lock(ctx, "cashier:s1")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "cashier:s1")
	assert.ErrorIs(t, err, infra.ErrLockNotObtained)

	other, err := l.Lock(ctx, "cashier:s2")
	require.NoError(t, err)
	other()

	unlock()
	again, err := l.Lock(ctx, "cashier:s1")
	require.NoError(t, err)
	again()
}
