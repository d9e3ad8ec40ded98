// Package generate is the client side of the external code-generation
// interface: one adapter per provider, each turning (prompt, model) into a
// file map the Workspace Manager can overlay onto the template tree.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

// manifestFile is the package manifest every template tree and every
// generated file set is checked against.
const manifestFile = "package.json"

// Generator turns a prompt into a set of generated files for one model.
type Generator interface {
	Generate(ctx context.Context, prompt string, model domain.ModelRef) (map[string]string, error)
}

// Registry dispatches to the Generator registered for a provider name.
type Registry struct {
	generators map[string]Generator
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register associates a Generator with a provider name.
func (r *Registry) Register(provider string, g Generator) {
	r.generators[provider] = g
}

// Generate dispatches to the Generator for model.Provider and validates the
// result before returning it.
func (r *Registry) Generate(ctx context.Context, prompt string, model domain.ModelRef) (map[string]string, error) {
	g, ok := r.generators[model.Provider]
	if !ok {
		return nil, &domain.GenerationError{Msg: fmt.Sprintf("no generator registered for provider %q", model.Provider)}
	}
	files, err := g.Generate(ctx, prompt, model)
	if err != nil {
		return nil, &domain.GenerationError{Msg: "code generation call failed", Err: err}
	}
	if err := Validate(files); err != nil {
		return nil, err
	}
	return files, nil
}

// manifestScripts is the subset of package.json this orchestrator reads.
type manifestScripts struct {
	Scripts map[string]string `json:"scripts"`
}

// Validate enforces the file-set invariants a generation call's result
// must satisfy: the manifest exists and declares both a build and a start
// script, and at least one page-level source file exists. Duplicate
// filenames never reach here — the caller folds them with map-merge
// semantics (last occurrence wins) before Validate is called.
func Validate(files map[string]string) error {
	manifestContent, ok := files[manifestFile]
	if !ok {
		return &domain.ValidationError{Msg: fmt.Sprintf("missing required file %q", manifestFile)}
	}

	scripts, err := parseManifestScripts(manifestContent)
	if err != nil {
		return &domain.ValidationError{Msg: fmt.Sprintf("missing required file %q: %v", manifestFile, err)}
	}
	if scripts["build"] == "" {
		return domain.NewValidationError("manifest %q missing required file: build script", manifestFile)
	}
	if scripts["start"] == "" {
		return domain.NewValidationError("manifest %q missing required file: start script", manifestFile)
	}

	if !hasPageLevelSource(files) {
		return domain.NewValidationError("missing required file: no page-level source file in generated output")
	}
	return nil
}

func hasPageLevelSource(files map[string]string) bool {
	for name := range files {
		if name == manifestFile {
			continue
		}
		lower := strings.ToLower(name)
		if strings.HasSuffix(lower, ".tsx") || strings.HasSuffix(lower, ".jsx") ||
			strings.HasSuffix(lower, ".vue") || strings.HasSuffix(lower, ".html") {
			return true
		}
		if strings.Contains(lower, "/pages/") || strings.Contains(lower, "/app/") || strings.HasPrefix(lower, "pages/") || strings.HasPrefix(lower, "app/") {
			return true
		}
	}
	return false
}
