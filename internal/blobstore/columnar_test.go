package blobstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avesa-io/avesa/internal/blobstore"
	"github.com/avesa-io/avesa/internal/model"
)

func TestWriteReadRawRecordsRoundTrip(t *testing.T) {
	records := []model.RawRecord{
		{"id": "42", "name": "Acme"},
		{"id": "43", "name": "Globex"},
	}

	data, err := blobstore.WriteRawRecords(records)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, err := blobstore.ReadRawRecords(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "42", got[0]["id"])
	require.Equal(t, "Globex", got[1]["name"])
}

func TestWriteReadEmptyRecords(t *testing.T) {
	data, err := blobstore.WriteRawRecords(nil)
	require.NoError(t, err)

	got, err := blobstore.ReadRawRecords(data)
	require.NoError(t, err)
	require.Empty(t, got)
}
