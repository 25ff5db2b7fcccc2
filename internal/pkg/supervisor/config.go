package supervisor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Config is the top of the live-die-repeat configuration structure.
type Config struct {
	Logging *Logging `yaml:"log,omitempty" json:"log,omitempty"`

	Metric *Metric `yaml:"metric,omitempty" json:"metric,omitempty"`

	// Watch lists files or directories whose changes request a restart.
	Watch []string `yaml:"watch,omitempty" json:"watch,omitempty"`
}

// LoadConfig decodes a YAML document from file. Unknown keys are rejected.
func LoadConfig(name string) (*Config, error) {
	values, err := LoadValues(name)
	if err != nil {
		return nil, err
	}

	cfg, err := DecodeConfig(values)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", name, err)
	}
	return cfg, nil
}

// LoadValues reads a YAML document from file as generic values, so that
// command line overrides can be merged in before decoding.
func LoadValues(name string) (map[string]interface{}, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	values := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", name, err)
	}
	return values, nil
}

// DecodeConfig converts generic values into a Config. Unknown keys are
// rejected.
func DecodeConfig(values map[string]interface{}) (*Config, error) {
	cfg := new(Config)
	if len(values) == 0 {
		return cfg, nil
	}

	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verify that configuration data.
func (c *Config) Validate() error {
	if c.Metric != nil {
		if c.Metric.OutPath == "" {
			return fmt.Errorf("metric: outPath is required")
		}
		if c.Metric.ScrapInterval < 0 {
			return fmt.Errorf("metric: invalid scrapInterval %d", c.Metric.ScrapInterval)
		}
	}

	if c.Logging != nil && (c.Logging.RollSize < 0 || c.Logging.RollKeep < 0) {
		return fmt.Errorf("log: rollSize and rollKeep must not be negative")
	}
	return nil
}
