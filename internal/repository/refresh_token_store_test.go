package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhr/workerauth/internal/models"
)

func refreshStores() map[string]func(t *testing.T) RefreshTokenStore {
	return map[string]func(t *testing.T) RefreshTokenStore{
		"memory": func(*testing.T) RefreshTokenStore { return NewMemoryRefreshTokenStore() },
		"redis": func(t *testing.T) RefreshTokenStore {
			_, client := newTestRedis(t)
			return NewRedisRefreshTokenStore(client, quietLogger())
		},
		"dynamodb": func(*testing.T) RefreshTokenStore {
			return NewRefreshTokenRepository(newFakeDynamoDB(), "WorkerAuth", quietLogger())
		},
	}
}

func token(jti, family string) models.RefreshTokenData {
	now := time.Now().Truncate(time.Second)
	return models.RefreshTokenData{
		JTI:       jti,
		UserID:    "u-1",
		Phone:     phone,
		Role:      models.RoleWorker,
		FamilyID:  family,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestRefreshTokenStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, newStore := range refreshStores() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)

			require.NoError(t, store.Store(ctx, token("a", "fam-1")))
			require.NoError(t, store.Store(ctx, token("b", "fam-1")))
			require.NoError(t, store.Store(ctx, token("c", "fam-2")))

			got, err := store.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "u-1", got.UserID)
			assert.Equal(t, "fam-1", got.FamilyID)
			assert.Equal(t, models.RoleWorker, got.Role)

			_, err = store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
			assert.ErrorIs(t, store.Revoke(ctx, "missing"), ErrRefreshTokenNotFound)

			revoked, err := store.IsRevoked(ctx, "a")
			require.NoError(t, err)
			assert.False(t, revoked)

			require.NoError(t, store.Revoke(ctx, "a"))
			revoked, err = store.IsRevoked(ctx, "a")
			require.NoError(t, err)
			assert.True(t, revoked)

			require.NoError(t, store.RevokeFamily(ctx, "fam-1"))
			revoked, err = store.IsRevoked(ctx, "b")
			require.NoError(t, err)
			assert.True(t, revoked)

			revoked, err = store.IsRevoked(ctx, "c")
			require.NoError(t, err)
			assert.False(t, revoked)
		})
	}
}

func TestRefreshTokenStoreRotate(t *testing.T) {
	ctx := context.Background()

	for name, newStore := range refreshStores() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			require.NoError(t, store.Store(ctx, token("a", "fam-1")))

			_, err := store.Rotate(ctx, "missing")
			assert.ErrorIs(t, err, ErrRefreshTokenNotFound)

			got, err := store.Rotate(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "fam-1", got.FamilyID)
			assert.True(t, got.Revoked)

			revoked, err := store.IsRevoked(ctx, "a")
			require.NoError(t, err)
			assert.True(t, revoked)

			_, err = store.Rotate(ctx, "a")
			assert.ErrorIs(t, err, ErrRefreshTokenReused)
		})

		t.Run(name+"/after revoke", func(t *testing.T) {
			store := newStore(t)
			require.NoError(t, store.Store(ctx, token("a", "fam-1")))
			require.NoError(t, store.Revoke(ctx, "a"))

			_, err := store.Rotate(ctx, "a")
			assert.ErrorIs(t, err, ErrRefreshTokenReused)
		})

		t.Run(name+"/concurrent", func(t *testing.T) {
			store := newStore(t)
			require.NoError(t, store.Store(ctx, token("a", "fam-1")))

			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				won    int
				reused int
			)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Rotate(ctx, "a")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						won++
					case errors.Is(err, ErrRefreshTokenReused):
						reused++
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, won)
			assert.Equal(t, 9, reused)
		})
	}
}
