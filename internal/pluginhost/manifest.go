package pluginhost

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ManifestEntry declares one plugin's enabled state in a plugin manifest
// file, letting an operator flip a plugin on or off without a redeploy.
type ManifestEntry struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

// Manifest is the top-level shape of a plugin manifest file.
type Manifest struct {
	Plugins []ManifestEntry `yaml:"plugins"`
}

// LoadManifest reads and parses a YAML plugin manifest from path.
// Grounded on the teacher's internal/config/loader.go MCP-servers.yaml
// loading shape (plain os.ReadFile + yaml.Unmarshal, no config framework).
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// ApplyManifest sets the enabled flag of every already-registered plugin
// named in m. An entry naming a plugin that hasn't been Register-ed yet is
// ignored: Registry never loads entrypoint code itself (plugin
// loading/compilation is a deployment concern out of this module's scope,
// spec.md §1), so a manifest can only toggle what the process already
// registered in code.
func (r *Registry) ApplyManifest(m Manifest) {
	for _, e := range m.Plugins {
		r.SetEnabled(e.Name, e.Enabled)
	}
}
