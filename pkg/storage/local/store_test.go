package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-engine/pkg/storage"
)

func TestStorePutGetCopy(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	require.NoError(t, err)

	pdf := []byte("%PDF-1.4\nsign design")
	require.NoError(t, store.Put(ctx, "designs/order-1.pdf", pdf, ""))

	data, ct, err := store.Get(ctx, "designs/order-1.pdf")
	require.NoError(t, err)
	require.Equal(t, pdf, data)
	require.Equal(t, "application/pdf", ct)

	require.NoError(t, store.Copy(ctx, "designs/order-1.pdf", "print-jobs/job-1.pdf"))
	ok, err := store.Exists(ctx, "print-jobs/job-1.pdf")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Put(ctx, "print-jobs/job-1.json", []byte(`{"job_id":"job-1"}`), "application/json"))
	_, ct, err = store.Get(ctx, "print-jobs/job-1.json")
	require.NoError(t, err)
	require.Equal(t, "application/json", ct)
}

func TestStoreMissingObject(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, err = store.Get(ctx, "nope.pdf")
	require.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Copy(ctx, "nope.pdf", "dst.pdf")
	require.ErrorIs(t, err, storage.ErrNotFound)

	ok, err := store.Exists(ctx, "nope.pdf")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = New("")
	require.Error(t, err)
}

var _ storage.Store = (*Store)(nil)
