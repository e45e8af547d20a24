package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datasets.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadDatasets(t *testing.T) {
	path := writeTemp(t, `
datasets:
  - file: data/bcn.gpkg
    org_id: 6ba7b810-9dad-11d1-80b4-00c04fd430c8
    table: roads
    id_column: fid
    name_column: name
  - file: data/girona.gpkg
    org_id: 6ba7b810-9dad-11d1-80b4-00c04fd430c8
`)
	cfg, err := LoadDatasets(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(cfg.Datasets))
	}
	if cfg.Datasets[0].Table != "roads" || cfg.Datasets[0].IDColumn != "fid" {
		t.Fatalf("unexpected first dataset: %+v", cfg.Datasets[0])
	}
	byOrg := cfg.ByOrg()
	if len(byOrg) != 1 {
		t.Fatalf("expected one org, got %d", len(byOrg))
	}
	for _, list := range byOrg {
		if len(list) != 2 {
			t.Fatalf("expected 2 datasets for org, got %d", len(list))
		}
	}
}

func TestLoadDatasets_Invalid(t *testing.T) {
	if _, err := LoadDatasets(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file should error")
	}
	path := writeTemp(t, "datasets:\n  - file: x.gpkg\n")
	if _, err := LoadDatasets(path); err == nil {
		t.Fatalf("missing org_id should error")
	}
	path = writeTemp(t, "datasets: [not a mapping")
	if _, err := LoadDatasets(path); err == nil {
		t.Fatalf("bad yaml should error")
	}
}
