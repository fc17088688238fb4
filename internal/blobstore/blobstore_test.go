package blobstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avesa-io/avesa/internal/avesaerr"
	"github.com/avesa-io/avesa/internal/blobstore"
)

func TestMemStorePutGetExists(t *testing.T) {
	store := blobstore.NewMemStore()
	ctx := context.Background()
	path := blobstore.RawBlobPath("acme", "connectwise", "companies", "job-1", "chunk-1")

	ok, err := store.Exists(ctx, path)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Put(ctx, path, []byte("data")))

	ok, err = store.Exists(ctx, path)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := store.Get(ctx, path)
	require.NoError(t, err)
	require.Equal(t, []byte("data"), data)
}

func TestMemStoreGetMissing(t *testing.T) {
	store := blobstore.NewMemStore()
	_, err := store.Get(context.Background(), "nope")
	require.True(t, avesaerr.Is(err, avesaerr.KindNotFound))
}

func TestPathHelpers(t *testing.T) {
	require.Equal(t, "acme/raw/connectwise/companies/job-1/chunk-1.parquet",
		blobstore.RawBlobPath("acme", "connectwise", "companies", "job-1", "chunk-1"))
	require.Equal(t, "acme/rejects/companies/job-1.jsonl",
		blobstore.RejectBlobPath("acme", "companies", "job-1"))
}
