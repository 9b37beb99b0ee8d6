package adaptermanager

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LoraModule is one entry of the engine's lora_modules placement list —
// the on-disk shape the inference engine itself reads at startup.
type LoraModule struct {
	Name      string `yaml:"name"`
	Path      string `yaml:"path"`
	BaseModel string `yaml:"base_model"`
}

// ModelPlacement is one entry of the engine's base-model GPU placement
// list, left untouched by adapter activation/deactivation but preserved
// across rewrites of the file.
type ModelPlacement struct {
	ID   string `yaml:"id"`
	GPUs []int  `yaml:"gpus"`
	Mode string `yaml:"mode"`
}

// EngineConfig is the single YAML file the adapter manager owns alongside
// the GPU scheduler: model placement policy plus the active LoRA list the
// engine loads via --lora-modules.
type EngineConfig struct {
	Strategy    string           `yaml:"strategy"`
	Models      []ModelPlacement `yaml:"models"`
	LoraModules []LoraModule     `yaml:"lora_modules"`
}

// loadEngineConfig reads path, defaulting to an empty replica-strategy
// config when the file doesn't exist yet — the engine has a sensible
// config to start from on a fresh install.
func loadEngineConfig(path string) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return EngineConfig{Strategy: "replica"}, nil
	}
	if err != nil {
		return EngineConfig{}, err
	}
	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, err
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "replica"
	}
	return cfg, nil
}

func saveEngineConfig(path string, cfg EngineConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// upsertLoraModule removes any existing module with the same name and
// appends m, matching activate_adapter's "remove any existing entry with
// same name" rule.
func upsertLoraModule(cfg EngineConfig, m LoraModule) EngineConfig {
	modules := make([]LoraModule, 0, len(cfg.LoraModules)+1)
	for _, existing := range cfg.LoraModules {
		if existing.Name != m.Name {
			modules = append(modules, existing)
		}
	}
	cfg.LoraModules = append(modules, m)
	return cfg
}

// removeLoraModule drops any module with the given name.
func removeLoraModule(cfg EngineConfig, name string) EngineConfig {
	modules := make([]LoraModule, 0, len(cfg.LoraModules))
	for _, existing := range cfg.LoraModules {
		if existing.Name != name {
			modules = append(modules, existing)
		}
	}
	cfg.LoraModules = modules
	return cfg
}
