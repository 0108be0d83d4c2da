// Package scenario defines the per-run configuration snapshot for a
// deployment scenario: which data sources it declares and which connector
// serves each of them. A snapshot is immutable; re-resolving a scenario
// produces a new snapshot rather than mutating an existing one.
package scenario

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Well-known data source categories. A scenario manifest may declare
// additional categories; the provisioning pipeline only reacts to these two.
const (
	SourceGraph     = "graph"
	SourceTelemetry = "telemetry"
)

// DataSource is one named data source declaration in a scenario manifest.
type DataSource struct {
	// Connector selects the backend implementation serving this source
	// (e.g., "fabric-gql", "fabric-kql", "cosmosdb-nosql").
	Connector string `yaml:"connector" validate:"required"`

	// Params is an opaque parameter mapping for the connector
	// (database name, container prefix, endpoint overrides).
	Params map[string]string `yaml:"params,omitempty"`
}

// Config is the immutable per-run scenario snapshot.
type Config struct {
	// ScenarioID identifies the deployment scenario.
	ScenarioID string `yaml:"scenario_id" validate:"required,min=1,max=64"`

	// Sources maps a data source category to its declaration.
	Sources map[string]DataSource `yaml:"sources" validate:"required,dive"`
}

// Connector returns the connector name declared for a source category,
// or "" when the scenario does not declare that category.
func (c *Config) Connector(category string) string {
	src, ok := c.Sources[category]
	if !ok {
		return ""
	}
	return src.Connector
}

// Param returns a named parameter of a source category declaration.
func (c *Config) Param(category, key string) string {
	src, ok := c.Sources[category]
	if !ok {
		return ""
	}
	return src.Params[key]
}

// SourceNames returns the declared source categories in sorted order.
// Sorted so that anything derived from the set is deterministic.
func (c *Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy. Callers that need to re-resolve configuration
// build a fresh snapshot; Clone exists for read-only hand-off.
func (c *Config) Clone() *Config {
	out := &Config{
		ScenarioID: c.ScenarioID,
		Sources:    make(map[string]DataSource, len(c.Sources)),
	}
	for name, src := range c.Sources {
		params := make(map[string]string, len(src.Params))
		for k, v := range src.Params {
			params[k] = v
		}
		out.Sources[name] = DataSource{Connector: src.Connector, Params: params}
	}
	return out
}

var validate = validator.New()

// Validate checks the snapshot against the manifest constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Load reads and validates a scenario manifest from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario manifest: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a scenario manifest from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse scenario manifest: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario manifest: %w", err)
	}
	return &cfg, nil
}
