// Package metatest holds the behaviour every meta.Backend must share. Backend
// packages call Run from their own tests.
package metatest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabinmap/core-go/internal/meta"
)

// Run exercises newBackend against the shared contract. newBackend must return
// an empty backend; it is called once per subtest.
func Run(t *testing.T, newBackend func(t *testing.T) meta.Backend) {
	t.Helper()

	t.Run("get unset returns nil", func(t *testing.T) {
		b := newBackend(t)
		v, err := b.Get(context.Background(), meta.KindContent, 1, "_connections")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("set get delete", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		require.NoError(t, b.Set(ctx, meta.KindAccount, 44, "cabin_number", []byte(`"99"`)))
		require.NoError(t, b.Set(ctx, meta.KindContent, 44, "cabin_number", []byte(`"content"`)))

		v, err := b.Get(ctx, meta.KindAccount, 44, "cabin_number")
		require.NoError(t, err)
		assert.Equal(t, `"99"`, string(v))

		require.NoError(t, b.Set(ctx, meta.KindAccount, 44, "cabin_number", []byte(`"100"`)))
		v, err = b.Get(ctx, meta.KindAccount, 44, "cabin_number")
		require.NoError(t, err)
		assert.Equal(t, `"100"`, string(v))

		require.NoError(t, b.Delete(ctx, meta.KindAccount, 44, "cabin_number"))
		v, err = b.Get(ctx, meta.KindAccount, 44, "cabin_number")
		require.NoError(t, err)
		assert.Nil(t, v)

		v, err = b.Get(ctx, meta.KindContent, 44, "cabin_number")
		require.NoError(t, err)
		assert.Equal(t, `"content"`, string(v), "kinds have separate attribute slots")

		require.NoError(t, b.Delete(ctx, meta.KindTerm, 9, "never-set"))
	})

	t.Run("values that are not json round-trip", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		require.NoError(t, b.Set(ctx, meta.KindContent, 1, "_coordinates", []byte(`lat=1`)))
		v, err := b.Get(ctx, meta.KindContent, 1, "_coordinates")
		require.NoError(t, err)
		assert.Equal(t, "lat=1", string(v))
	})

	t.Run("entities", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		first, err := b.CreateEntity(ctx, meta.Entity{Kind: meta.KindContent, Subtype: meta.SubtypeLocation, Title: "Beach"})
		require.NoError(t, err)
		assert.Positive(t, first.ID)

		explicit, err := b.CreateEntity(ctx, meta.Entity{ID: 55, Kind: meta.KindContent, Subtype: "post", Title: "News", Link: "/news"})
		require.NoError(t, err)
		assert.Equal(t, int64(55), explicit.ID)

		next, err := b.CreateEntity(ctx, meta.Entity{Kind: meta.KindContent, Subtype: meta.SubtypeLocation, Title: "Dock"})
		require.NoError(t, err)
		assert.Greater(t, next.ID, int64(55))

		_, err = b.CreateEntity(ctx, meta.Entity{ID: 55, Kind: meta.KindContent})
		assert.Error(t, err, "duplicate id")

		acct, err := b.CreateEntity(ctx, meta.Entity{ID: 55, Kind: meta.KindAccount, Subtype: meta.SubtypeAccount})
		require.NoError(t, err, "ids are per kind")
		assert.Equal(t, meta.KindAccount, acct.Kind)

		got, err := b.Entity(ctx, meta.KindContent, 55)
		require.NoError(t, err)
		assert.Equal(t, meta.Entity{ID: 55, Kind: meta.KindContent, Subtype: "post", Title: "News", Link: "/news"}, got)

		locs, err := b.ListEntities(ctx, meta.KindContent, meta.SubtypeLocation)
		require.NoError(t, err)
		require.Len(t, locs, 2)
		assert.Equal(t, first.ID, locs[0].ID)
		assert.Equal(t, next.ID, locs[1].ID)

		all, err := b.ListEntities(ctx, meta.KindContent, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		got.Title = "Old news"
		updated, err := b.UpdateEntity(ctx, got)
		require.NoError(t, err)
		assert.Equal(t, "Old news", updated.Title)

		_, err = b.UpdateEntity(ctx, meta.Entity{ID: 999, Kind: meta.KindContent})
		assert.True(t, errors.Is(err, meta.ErrNotFound))

		_, err = b.Entity(ctx, meta.KindTerm, 55)
		assert.True(t, errors.Is(err, meta.ErrNotFound))
	})

	t.Run("delete entity removes attributes", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		e, err := b.CreateEntity(ctx, meta.Entity{Kind: meta.KindContent, Subtype: meta.SubtypeLocation})
		require.NoError(t, err)
		require.NoError(t, b.Set(ctx, meta.KindContent, e.ID, "_label", []byte(`"A"`)))
		require.NoError(t, b.Set(ctx, meta.KindAccount, e.ID, "_label", []byte(`"other kind"`)))

		require.NoError(t, b.DeleteEntity(ctx, meta.KindContent, e.ID))

		_, err = b.Entity(ctx, meta.KindContent, e.ID)
		assert.True(t, errors.Is(err, meta.ErrNotFound))
		v, err := b.Get(ctx, meta.KindContent, e.ID, "_label")
		require.NoError(t, err)
		assert.Nil(t, v)
		v, err = b.Get(ctx, meta.KindAccount, e.ID, "_label")
		require.NoError(t, err)
		assert.Equal(t, `"other kind"`, string(v))

		assert.True(t, errors.Is(b.DeleteEntity(ctx, meta.KindContent, e.ID), meta.ErrNotFound))
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, newBackend(t).Ping(context.Background()))
	})
}
