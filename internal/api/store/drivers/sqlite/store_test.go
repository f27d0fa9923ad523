package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kalimotxo/enginewatch/internal/api/domain"
	"github.com/kalimotxo/enginewatch/internal/api/store"
	"github.com/kalimotxo/enginewatch/internal/api/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func TestUsersRepo(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	alice := domain.User{
		ProviderID: "kc-alice",
		Username:   "alice",
		Email:      "a@x.com",
		Active:     true,
	}

	t.Run("create assigns id and created_at", func(t *testing.T) {
		created, err := st.Users().Create(ctx, alice)
		require.NoError(t, err)
		require.Positive(t, created.ID)
		require.False(t, created.CreatedAt.IsZero())
		require.False(t, created.ProfileCompleted)
	})

	t.Run("lookup by provider id", func(t *testing.T) {
		got, err := st.Users().GetByProviderID(ctx, "kc-alice")
		require.NoError(t, err)
		require.Equal(t, "alice", got.Username)
		require.Nil(t, got.UpdatedAt)
	})

	t.Run("missing provider id maps to ErrNotFound", func(t *testing.T) {
		_, err := st.Users().GetByProviderID(ctx, "kc-nobody")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("duplicate provider id maps to ErrAlreadyExists", func(t *testing.T) {
		dup := alice
		dup.Email = "other@x.com"
		_, err := st.Users().Create(ctx, dup)
		require.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("duplicate email maps to ErrAlreadyExists", func(t *testing.T) {
		dup := alice
		dup.ProviderID = "kc-someone-else"
		_, err := st.Users().Create(ctx, dup)
		require.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("set profile completed bumps updated_at", func(t *testing.T) {
		u, err := st.Users().GetByProviderID(ctx, "kc-alice")
		require.NoError(t, err)

		require.NoError(t, st.Users().SetProfileCompleted(ctx, u.ID, true))

		got, err := st.Users().GetByID(ctx, u.ID)
		require.NoError(t, err)
		require.True(t, got.ProfileCompleted)
		require.NotNil(t, got.UpdatedAt)
	})

	t.Run("set profile completed on unknown id", func(t *testing.T) {
		err := st.Users().SetProfileCompleted(ctx, 9999, true)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		users, err := st.Users().List(ctx)
		require.NoError(t, err)
		require.Len(t, users, 1)
	})
}

func TestReadingsRepo(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	event := "overheat"
	first := domain.Reading{
		DeviceID:    "m1",
		DeviceName:  "Engine 1",
		Temperature: 75.5,
		RPM:         1200,
		Status:      domain.StatusRunning,
		Event:       &event,
		Timestamp:   1700000000,
		Datetime:    "2023-11-14 22:13:20",
	}

	t.Run("insert assigns sequence id and insertion timestamp", func(t *testing.T) {
		inserted, err := st.Readings().Insert(ctx, first)
		require.NoError(t, err)
		require.Positive(t, inserted.ID)
		require.False(t, inserted.CreatedAt.IsZero())
	})

	t.Run("list recent is most-recent-first", func(t *testing.T) {
		second := first
		second.Event = nil
		second.Temperature = 80
		_, err := st.Readings().Insert(ctx, second)
		require.NoError(t, err)

		readings, err := st.Readings().ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, readings, 2)
		require.InDelta(t, 80, readings[0].Temperature, 0.001)
		require.Nil(t, readings[0].Event)
		require.NotNil(t, readings[1].Event)
		require.Equal(t, "overheat", *readings[1].Event)
	})

	t.Run("limit bounds the result", func(t *testing.T) {
		readings, err := st.Readings().ListRecent(ctx, 1)
		require.NoError(t, err)
		require.Len(t, readings, 1)
	})

	t.Run("count", func(t *testing.T) {
		count, err := st.Readings().CountAll(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 2, count)
	})
}
