package users

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	u, err := repo.Create(ctx, &User{FirstName: "Aye", LastName: "Chan", UserName: "ayechan", Email: " Aye@Example.com ", PasswordHash: "h"})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, "aye@example.com", u.Email)
	assert.False(t, u.CreatedAt.IsZero())

	byEmail, err := repo.GetByEmail(ctx, "AYE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	byID, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ayechan", byID.UserName)

	// Returned values are copies.
	byID.Role = RoleAdmin
	again, _ := repo.GetByID(ctx, u.ID)
	assert.Equal(t, RoleUser, again.Role)
}

func TestMemoryRepository_Duplicates(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.Create(ctx, &User{UserName: "a", Email: "a@x.io"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &User{UserName: "b", Email: "A@X.io"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = repo.Create(ctx, &User{UserName: "A", Email: "c@x.io"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryRepository_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.GetByEmail(context.Background(), "nobody@x.io")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_ConcurrentCreateSameEmail(t *testing.T) {
	repo := NewMemoryRepository()
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := repo.Create(context.Background(), &User{UserName: string(rune('a' + i)), Email: "same@x.io"}); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestValidRole(t *testing.T) {
	for _, r := range []string{RoleUser, RoleModerator, RoleAdmin} {
		assert.True(t, ValidRole(r))
	}
	assert.False(t, ValidRole("root"))

	repo := NewMemoryRepository()
	_, err := repo.Create(context.Background(), &User{UserName: "r", Email: "r@x.io", Role: "root"})
	assert.ErrorIs(t, err, ErrInvalidRole)
	got, err := repo.Create(context.Background(), &User{UserName: "m", Email: "m@x.io", Role: RoleModerator})
	require.NoError(t, err)
	assert.Equal(t, RoleModerator, got.Role)
}
