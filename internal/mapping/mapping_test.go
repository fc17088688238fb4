package mapping_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avesa-io/avesa/internal/avesaerr"
	"github.com/avesa-io/avesa/internal/mapping"
)

const companiesYAML = `
canonical_table: companies
scd_type: type2
natural_key: [id]
source_mappings:
  connectwise:
    endpoint_path: company/companies
    fields:
      - canonical_field: id
        source_path: id
        required: true
      - canonical_field: company_name
        source_path: name
        required: true
      - canonical_field: status
        source_path: status.name
        required: false
        transform: lowercase
`

func writeMapping(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o600))
}

func TestLoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "companies.yaml", companiesYAML)

	reg, err := mapping.Load(dir)
	require.NoError(t, err)
	require.Len(t, reg.Documents(), 1)

	doc := reg.Resolve("connectwise", "company/companies")
	require.NotNil(t, doc)
	require.Equal(t, "companies", doc.CanonicalTable)
	require.Equal(t, []string{"id"}, doc.NaturalKey)

	require.Nil(t, reg.Resolve("servicenow", "company/companies"))
}

func TestLoadRejectsUnknownTransform(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "bad.yaml", `
canonical_table: companies
scd_type: type2
natural_key: [id]
source_mappings:
  connectwise:
    endpoint_path: company/companies
    fields:
      - canonical_field: id
        source_path: id
        required: true
        transform: reverse
`)

	_, err := mapping.Load(dir)
	require.True(t, avesaerr.Is(err, avesaerr.KindMappingError))
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "bad.yaml", `
canonical_table: companies
scd_type: type2
natural_key: [id]
source_mappings:
  connectwise:
    endpoint_path: company/companies
    fields:
      - canonical_field: id
        required: true
`)

	_, err := mapping.Load(dir)
	require.True(t, avesaerr.Is(err, avesaerr.KindMappingError))
}
