package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avesa-io/avesa/internal/metrics"
)

func TestAllCollectorsRegisterCleanly(t *testing.T) {
	reg := prometheus.NewRegistry()
	for _, c := range metrics.All() {
		require.NoError(t, reg.Register(c))
	}
	assert.Len(t, metrics.All(), 7)
}
