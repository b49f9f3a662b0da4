package schema

import (
	"fmt"
	"os"

	"github.com/fieldsync/opqueue/pkg/types"
	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk shape of a schema definitions file: a flat
// list under a top-level "schemas" key, one entry per entity type.
type fileDocument struct {
	Schemas []fileSchema `yaml:"schemas"`
}

type fileSchema struct {
	EntityType     string               `yaml:"entity_type"`
	Version        string               `yaml:"version"`
	Fields         map[string]fileField `yaml:"fields"`
	RequiredFields []string             `yaml:"required_fields"`
	IndexedFields  []string             `yaml:"indexed_fields"`
	FullTextFields []string             `yaml:"fulltext_fields"`
}

type fileField struct {
	Type      string   `yaml:"type"`
	Required  bool     `yaml:"required"`
	Min       *float64 `yaml:"min"`
	Max       *float64 `yaml:"max"`
	MinLength *int     `yaml:"min_length"`
	MaxLength *int     `yaml:"max_length"`
	Enum      []string `yaml:"enum"`
}

// LoadFile parses a YAML document of entity schema definitions, per
// spec.md §9's "registries populated at startup" note and SPEC_FULL.md
// §2.1's configuration section — schemas loaded this way are passed
// through Register exactly as a caller constructing *types.EntitySchema
// by hand would.
func LoadFile(path string) ([]*types.EntitySchema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", path, err)
	}

	schemas := make([]*types.EntitySchema, 0, len(doc.Schemas))
	for _, fs := range doc.Schemas {
		s := &types.EntitySchema{
			EntityType:     fs.EntityType,
			Version:        fs.Version,
			Fields:         make(map[string]types.FieldDef, len(fs.Fields)),
			RequiredFields: toSet(fs.RequiredFields),
			IndexedFields:  toSet(fs.IndexedFields),
			FullTextFields: toSet(fs.FullTextFields),
		}
		for name, ff := range fs.Fields {
			s.Fields[name] = types.FieldDef{
				Type:       types.FieldType(ff.Type),
				Required:   ff.Required,
				Min:        ff.Min,
				Max:        ff.Max,
				MinLength:  ff.MinLength,
				MaxLength:  ff.MaxLength,
				EnumValues: ff.Enum,
			}
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

func toSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
