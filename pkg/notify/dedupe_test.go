package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseDeduper(t *testing.T, d Deduper) {
	ctx := context.Background()
	txID := uuid.NewString()

	ok, err := d.Claim(ctx, txID, models.COMPLETED)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, txID, models.COMPLETED)
	require.NoError(t, err)
	assert.False(t, ok, "second claim of the same pair")

	ok, err = d.Claim(ctx, txID, models.FAILED)
	require.NoError(t, err)
	assert.True(t, ok, "different status is a different pair")

	require.NoError(t, d.Release(ctx, txID, models.COMPLETED))
	ok, err = d.Claim(ctx, txID, models.COMPLETED)
	require.NoError(t, err)
	assert.True(t, ok, "released pair can be claimed again")
}

func TestMemoryDeduper(t *testing.T) {
	exerciseDeduper(t, NewMemoryDeduper())
}

func TestRedisDeduper(t *testing.T) {
	addr := os.Getenv("SETTLEMENT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SETTLEMENT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	exerciseDeduper(t, NewRedisDeduper(client, time.Minute))
}
