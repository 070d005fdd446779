// Package storetest holds the behaviour every store.DB implementation must show.
package storetest

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store"
)

// Run exercises db using networks net and net+"-other", which must hold no data.
func Run(t *testing.T, db store.DB, net string) {
	t.Helper()

	ctx := context.Background()

	t.Run("Subjects", func(t *testing.T) {
		got, err := db.GetSubjects(ctx, net)
		require.NoError(t, err)
		assert.Empty(t, got)

		require.NoError(t, db.AddSubject(ctx, net, "a"))
		require.NoError(t, db.AddSubject(ctx, net, "b"))
		require.NoError(t, db.AddSubject(ctx, net, "a"))
		require.NoError(t, db.AddSubject(ctx, net+"-other", "c"))

		got, err = db.GetSubjects(ctx, net)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got)

		require.NoError(t, db.RemoveSubject(ctx, net, "a"))
		err = db.RemoveSubject(ctx, net, "a")
		assert.True(t, errors.Is(err, store.ErrSubjectNotFound), "got %v", err)

		got, err = db.GetSubjects(ctx, net)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, got)

		require.NoError(t, db.RemoveSubject(ctx, net, "b"))
		require.NoError(t, db.RemoveSubject(ctx, net+"-other", "c"))
	})

	t.Run("Lists", func(t *testing.T) {
		_, err := db.LoadLists(ctx, net)
		assert.True(t, errors.Is(err, store.ErrDataNotFound), "got %v", err)

		want := model.FilterLists{Allowlist: []string{"p1", "p2"}, Denylist: []string{"d1"}}
		require.NoError(t, db.SaveLists(ctx, net, want))

		got, err := db.LoadLists(ctx, net)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		want = model.FilterLists{Allowlist: []string{"p3"}, Denylist: []string{}}
		require.NoError(t, db.SaveLists(ctx, net, want))

		got, err = db.LoadLists(ctx, net)
		require.NoError(t, err)
		assert.Equal(t, want.Allowlist, got.Allowlist)
		assert.Empty(t, got.Denylist)
	})
}
