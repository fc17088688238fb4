// Package mapping is the Mapping Registry (spec.md §4.3): canonical-table
// mapping documents loaded once per process from YAML, validated with
// struct tags, and resolved by (service, endpoint). The parse/validate
// split follows the teacher's pkg/config/loader.go + pkg/config/validator.go
// shape; the transform set is a closed registry of named pure functions,
// failing mapping load (not runtime) on an unknown name, matching
// pkg/config/errors.go's fail-closed philosophy.
package mapping

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/avesa-io/avesa/internal/avesaerr"
)

// SCDType is the SCD strategy a mapping declares for its canonical table.
type SCDType string

const (
	SCDType2 SCDType = "type2"
	SCDType1 SCDType = "type1"
)

// Field describes one canonical field's projection from a raw record.
type Field struct {
	CanonicalField string `yaml:"canonical_field" validate:"required"`
	SourcePath     string `yaml:"source_path" validate:"required"`
	Required       bool   `yaml:"required"`
	Transform      string `yaml:"transform"`
}

// SourceMapping is one service's field list for a canonical table.
type SourceMapping struct {
	EndpointPath string  `yaml:"endpoint_path" validate:"required"`
	Fields       []Field `yaml:"fields" validate:"required,dive"`
}

// Document is one canonical-table mapping document, as loaded from YAML
// (spec.md §4.3's `mapping :=` grammar).
type Document struct {
	CanonicalTable string                   `yaml:"canonical_table" validate:"required"`
	SourceMappings map[string]SourceMapping `yaml:"source_mappings" validate:"required,dive"`
	SCDType        SCDType                  `yaml:"scd_type" validate:"required,oneof=type1 type2"`
	NaturalKey     []string                 `yaml:"natural_key" validate:"required,min=1"`
}

// Registry holds every loaded mapping document, indexed for Resolve.
type Registry struct {
	documents []Document
	byKey     map[registryKey]*Document
}

type registryKey struct {
	service  string
	endpoint string
}

// Load reads every *.yaml/*.yml file in dir, parses and validates each,
// and returns a ready Registry. Loading fails fast: a malformed document,
// a failed validation, or a reference to an unknown transform aborts the
// whole load (spec.md §4.3) with a MappingError kind.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, avesaerr.New("mapping.Load", avesaerr.KindMappingError, fmt.Errorf("reading %s: %w", dir, err))
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	reg := &Registry{byKey: make(map[registryKey]*Document)}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, avesaerr.New("mapping.Load", avesaerr.KindMappingError, fmt.Errorf("reading %s: %w", path, err))
		}

		var doc Document
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, avesaerr.New("mapping.Load", avesaerr.KindMappingError, fmt.Errorf("parsing %s: %w", path, err))
		}
		if err := v.Struct(doc); err != nil {
			return nil, avesaerr.New("mapping.Load", avesaerr.KindMappingError, fmt.Errorf("validating %s: %w", path, err))
		}
		if err := validateTransforms(doc); err != nil {
			return nil, avesaerr.New("mapping.Load", avesaerr.KindMappingError, fmt.Errorf("%s: %w", path, err))
		}

		reg.documents = append(reg.documents, doc)
		last := &reg.documents[len(reg.documents)-1]
		for service, sm := range doc.SourceMappings {
			reg.byKey[registryKey{service: service, endpoint: sm.EndpointPath}] = last
		}
	}

	return reg, nil
}

func validateTransforms(doc Document) error {
	for service, sm := range doc.SourceMappings {
		for _, f := range sm.Fields {
			if f.Transform == "" {
				continue
			}
			if _, ok := transforms[f.Transform]; !ok {
				return fmt.Errorf("service %s: field %s: unknown transform %q", service, f.CanonicalField, f.Transform)
			}
		}
	}
	return nil
}

// Resolve locates the mapping document targeting (service, endpoint), or
// nil if none is registered.
func (r *Registry) Resolve(service, endpoint string) *Document {
	return r.byKey[registryKey{service: service, endpoint: endpoint}]
}

// Documents returns every loaded mapping document, for callers (e.g. the
// Tenant Processor) that need to enumerate canonical tables touched.
func (r *Registry) Documents() []Document {
	return r.documents
}
