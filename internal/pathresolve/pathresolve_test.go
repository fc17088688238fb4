package pathresolve_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avesa-io/avesa/internal/pathresolve"
)

func TestResolveNestedAndIndexed(t *testing.T) {
	record := map[string]any{
		"id": "42",
		"owner": map[string]any{
			"id": "u-7",
		},
		"tags": []any{"alpha", "beta"},
	}

	v, ok := pathresolve.Resolve(record, "id")
	require.True(t, ok)
	require.Equal(t, "42", v)

	v, ok = pathresolve.Resolve(record, "owner.id")
	require.True(t, ok)
	require.Equal(t, "u-7", v)

	v, ok = pathresolve.Resolve(record, "tags.1")
	require.True(t, ok)
	require.Equal(t, "beta", v)
}

func TestResolveMissing(t *testing.T) {
	record := map[string]any{"id": "42"}

	_, ok := pathresolve.Resolve(record, "owner.id")
	require.False(t, ok)

	_, ok = pathresolve.Resolve(record, "tags.0")
	require.False(t, ok)

	_, ok = pathresolve.Resolve(record, "")
	require.False(t, ok)
}

func TestResolveOutOfRangeIndex(t *testing.T) {
	record := map[string]any{"tags": []any{"alpha"}}

	_, ok := pathresolve.Resolve(record, "tags.5")
	require.False(t, ok)
}
