// Package config loads the externally managed mapping between dataset files
// and tenant organizations. Each entry points one GeoPackage file at the org
// whose road network it carries.
package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Dataset struct {
	File        string    `yaml:"file"`
	OrgID       uuid.UUID `yaml:"org_id"`
	Table       string    `yaml:"table"`
	IDColumn    string    `yaml:"id_column"`
	NameColumn  string    `yaml:"name_column"`
	ClassColumn string    `yaml:"class_column"`
}

type DatasetConfig struct {
	Datasets []Dataset `yaml:"datasets"`
}

// LoadDatasets reads the YAML mapping file. A missing path is not an error
// profile worth crashing on: the caller decides whether a file source without
// datasets is acceptable.
func LoadDatasets(path string) (*DatasetConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset config: %w", err)
	}
	var cfg DatasetConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse dataset config: %w", err)
	}
	for i, ds := range cfg.Datasets {
		if ds.File == "" {
			return nil, fmt.Errorf("dataset %d: file is required", i)
		}
		if ds.OrgID == uuid.Nil {
			return nil, fmt.Errorf("dataset %d (%s): org_id is required", i, ds.File)
		}
	}
	return &cfg, nil
}

// ByOrg groups the configured datasets per organization.
func (c *DatasetConfig) ByOrg() map[uuid.UUID][]Dataset {
	out := make(map[uuid.UUID][]Dataset)
	for _, ds := range c.Datasets {
		out[ds.OrgID] = append(out[ds.OrgID], ds)
	}
	return out
}
