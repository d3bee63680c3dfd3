// Package generator provides the report generators run for every task.
// The generators are mock analysis services described by a YAML catalog;
// they produce seeded, deterministic reports after a simulated delay.
package generator

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Range is an inclusive [Min, Max] interval.
type Range[T ~int64 | ~float64] struct {
	Min T `yaml:"min"`
	Max T `yaml:"max"`
}

func (r Range[T]) validate(field string) error {
	if r.Min < 0 || r.Max < r.Min {
		return fmt.Errorf("%s: invalid range [%v, %v]", field, r.Min, r.Max)
	}
	return nil
}

// Section is one block of issue counts, e.g. "bugs". Max maps each counter
// to its upper bound.
type Section struct {
	Name string         `yaml:"name"`
	Max  map[string]int `yaml:"max"`
}

// Spec describes one mock generator.
type Spec struct {
	Name       string               `yaml:"name"`
	Delay      Range[time.Duration] `yaml:"delay"`
	SeedOffset uint64               `yaml:"seed_offset"`
	Coverage   Range[float64]       `yaml:"coverage"`
	Sections   []Section            `yaml:"sections"`

	// Fail makes every invocation return an error.
	Fail bool `yaml:"fail"`
}

// Catalog is the set of generators to run.
type Catalog struct {
	Generators []Spec `yaml:"generators"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) { return ParseCatalog(defaultCatalog) }

// LoadCatalogFile reads a catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read generator catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse generator catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that names are unique and every range is well formed.
func (c *Catalog) Validate() error {
	if len(c.Generators) == 0 {
		return errors.New("generator catalog is empty")
	}

	seen := make(map[string]struct{}, len(c.Generators))
	for i, s := range c.Generators {
		if s.Name == "" {
			return fmt.Errorf("generator %d: name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("generator %s: duplicate name", s.Name)
		}
		seen[s.Name] = struct{}{}

		if err := s.Delay.validate(s.Name + ".delay"); err != nil {
			return err
		}
		if err := s.Coverage.validate(s.Name + ".coverage"); err != nil {
			return err
		}
		for _, sec := range s.Sections {
			if sec.Name == "" {
				return fmt.Errorf("generator %s: section name is required", s.Name)
			}
			for k, v := range sec.Max {
				if v < 0 {
					return fmt.Errorf("generator %s: %s.%s must not be negative", s.Name, sec.Name, k)
				}
			}
		}
	}

	return nil
}
