package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TemplateManifest describes the scaffold a template tree provides, read
// from a template.yaml at the tree's root. When set, BuildScript and
// StartScript are the shell commands the lifecycle engine runs in the build
// and run containers in place of the default npm commands. Generated file
// maps are validated against package.json, not against this manifest.
type TemplateManifest struct {
	Name        string `yaml:"name"`
	BuildScript string `yaml:"build_script"`
	StartScript string `yaml:"start_script"`
}

// LoadManifest reads template.yaml from templateRoot. A missing manifest is
// not an error; templateRoot may be a bare scaffold with no metadata.
func LoadManifest(templateRoot string) (*TemplateManifest, error) {
	if templateRoot == "" {
		return nil, nil
	}
	path := filepath.Join(templateRoot, "template.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read template manifest: %w", err)
	}
	var manifest TemplateManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse template manifest: %w", err)
	}
	return &manifest, nil
}
