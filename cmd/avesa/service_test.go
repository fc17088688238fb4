package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avesa-io/avesa/internal/model"
)

func TestApplyEndpointOverrides(t *testing.T) {
	endpoints := map[string]model.EndpointConfig{
		"companies": {Enabled: true},
		"tickets":   {Enabled: true},
	}

	err := applyEndpointOverrides(endpoints, []string{"tickets=false"})
	require.NoError(t, err)
	assert.True(t, endpoints["companies"].Enabled)
	assert.False(t, endpoints["tickets"].Enabled)
}

func TestApplyEndpointOverrides_UnknownTable(t *testing.T) {
	endpoints := map[string]model.EndpointConfig{"companies": {Enabled: true}}

	err := applyEndpointOverrides(endpoints, []string{"unknown=true"})
	assert.Error(t, err)
}

func TestApplyEndpointOverrides_InvalidFormat(t *testing.T) {
	endpoints := map[string]model.EndpointConfig{"companies": {Enabled: true}}

	err := applyEndpointOverrides(endpoints, []string{"companies"})
	assert.Error(t, err)
}

func TestLoadEndpoints_EmptyPath(t *testing.T) {
	endpoints, err := loadEndpoints("")
	require.NoError(t, err)
	assert.Empty(t, endpoints)
}
