package adaptermanager

import (
	"path/filepath"
	"testing"
)

func TestLoadEngineConfigDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpu-config.yaml")

	cfg, err := loadEngineConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Strategy != "replica" {
		t.Fatalf("expected default replica strategy, got %q", cfg.Strategy)
	}
	if len(cfg.LoraModules) != 0 {
		t.Fatalf("expected no lora modules, got %+v", cfg.LoraModules)
	}
}

func TestSaveThenLoadEngineConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpu-config.yaml")

	cfg := EngineConfig{
		Strategy: "pipeline",
		Models:   []ModelPlacement{{ID: "llama-3-8b", GPUs: []int{0, 1}, Mode: "tensor_parallel"}},
	}
	if err := saveEngineConfig(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := loadEngineConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Strategy != "pipeline" || len(got.Models) != 1 || got.Models[0].ID != "llama-3-8b" {
		t.Fatalf("unexpected round-trip result: %+v", got)
	}
}

func TestUpsertLoraModuleReplacesSameName(t *testing.T) {
	cfg := EngineConfig{LoraModules: []LoraModule{
		{Name: "llama-lora", Path: "/old/path", BaseModel: "llama-3-8b"},
		{Name: "other-lora", Path: "/other/path", BaseModel: "mistral-7b"},
	}}

	cfg = upsertLoraModule(cfg, LoraModule{Name: "llama-lora", Path: "/new/path", BaseModel: "llama-3-8b"})

	if len(cfg.LoraModules) != 2 {
		t.Fatalf("expected 2 modules after upsert, got %d", len(cfg.LoraModules))
	}
	var found bool
	for _, m := range cfg.LoraModules {
		if m.Name == "llama-lora" {
			found = true
			if m.Path != "/new/path" {
				t.Fatalf("expected replaced path, got %q", m.Path)
			}
		}
	}
	if !found {
		t.Fatal("expected llama-lora entry present")
	}
}

func TestRemoveLoraModuleDropsOnlyNamedEntry(t *testing.T) {
	cfg := EngineConfig{LoraModules: []LoraModule{
		{Name: "llama-lora"},
		{Name: "other-lora"},
	}}

	cfg = removeLoraModule(cfg, "llama-lora")

	if len(cfg.LoraModules) != 1 || cfg.LoraModules[0].Name != "other-lora" {
		t.Fatalf("unexpected result after remove: %+v", cfg.LoraModules)
	}
}

func TestLoadEngineConfigPropagatesReadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := loadEngineConfig(dir); err == nil {
		t.Fatal("expected error reading a directory as a file")
	}
}
