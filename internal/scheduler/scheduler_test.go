package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhr/workerauth/internal/clock"
	"github.com/dhr/workerauth/internal/models"
	"github.com/dhr/workerauth/internal/repository"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func seed(t *testing.T, store *repository.MemoryOTPStore, now time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, models.OTPRecord{Phone: "+911111111111", CodeHash: "a", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, store.Put(ctx, models.OTPRecord{Phone: "+912222222222", CodeHash: "b", ExpiresAt: now.Add(time.Minute)}))
}

func TestSweepExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := repository.NewMemoryOTPStore()
	seed(t, store, now)

	require.NoError(t, SweepExpired(context.Background(), store, clock.NewFixed(now), quietLogger()))
	assert.Equal(t, 1, store.Len())

	_, err := store.Get(context.Background(), "+912222222222")
	assert.NoError(t, err)
}

func TestRegisterOTPSweep(t *testing.T) {
	now := time.Now()
	store := repository.NewMemoryOTPStore()
	seed(t, store, now)

	s, err := New(quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	require.NoError(t, RegisterOTPSweep(context.Background(), s, store, clock.NewFixed(now), 20*time.Millisecond, quietLogger()))

	assert.Eventually(t, func() bool { return store.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}
