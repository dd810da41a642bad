// Package agentengine is the Agent Invoker: it loads the catalog of known
// coding-agent engines (builtin and repo-local) and builds a
// contracts.Engine for whichever one a task's run is configured to use.
package agentengine

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

const (
	builtinEngineDir    = "builtin"
	engineConfigDir     = ".gralph"
	customEngineRelPath = "engines"
)

// BackendDefinition is one entry of the engine catalog: enough to build a
// GenericCLIRunnerAdapter without the caller knowing which concrete CLI is
// behind it. Builtin definitions ship embedded in the binary; a repo can
// add its own under .gralph/engines/*.yaml.
type BackendDefinition struct {
	Name                string   `yaml:"name" json:"name"`
	Adapter             string   `yaml:"adapter" json:"adapter"`
	Binary              string   `yaml:"binary" json:"binary"`
	Command             string   `yaml:"command" json:"command"`
	Args                []string `yaml:"args" json:"args"`
	SupportsReview      bool     `yaml:"supports_review" json:"supports_review"`
	SupportsStream      bool     `yaml:"supports_stream" json:"supports_stream"`
	SupportedModels     []string `yaml:"supported_models" json:"supported_models"`
	RequiredCredentials []string `yaml:"required_credentials" json:"required_credentials"`
}

// BackendCapabilities is the subset of BackendDefinition the Task
// Supervisor needs in order to decide how to drive an engine.
type BackendCapabilities struct {
	SupportsReview bool
	SupportsStream bool
}

// Catalog is the full set of engines known for one run, builtin plus
// repo-local overrides, keyed by lower-cased name.
type Catalog struct {
	backends map[string]BackendDefinition
}

// LoadCatalog loads the builtin engine catalog and merges in any repo-local
// definitions found under .gralph/engines/ within repoRoot.
func LoadCatalog(repoRoot string) (Catalog, error) {
	catalog := Catalog{backends: map[string]BackendDefinition{}}

	builtin, err := loadBuiltinBackends()
	if err != nil {
		return Catalog{}, err
	}
	for _, definition := range builtin {
		if err := catalog.add(definition); err != nil {
			return Catalog{}, err
		}
	}

	repoRoot = strings.TrimSpace(repoRoot)
	if repoRoot == "" {
		return catalog, nil
	}

	customDir := filepath.Join(repoRoot, engineConfigDir, customEngineRelPath)
	entries, err := os.ReadDir(customDir)
	if err != nil {
		if os.IsNotExist(err) {
			return catalog, nil
		}
		return Catalog{}, fmt.Errorf("cannot read custom engine definitions from %q: %w", customDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		extension := strings.ToLower(filepath.Ext(entry.Name()))
		switch extension {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}

		fullPath := filepath.Join(customDir, entry.Name())
		payload, err := os.ReadFile(fullPath)
		if err != nil {
			return Catalog{}, fmt.Errorf("read custom engine definition %q: %w", fullPath, err)
		}

		definition, err := parseBackendDefinition(payload, extension)
		if err != nil {
			return Catalog{}, fmt.Errorf("parse custom engine definition %q: %w", fullPath, err)
		}
		definition = normalizeBackendDefinition(definition)
		if err := validateBackendDefinition(definition); err != nil {
			return Catalog{}, fmt.Errorf("invalid custom engine definition %q: %w", fullPath, err)
		}
		if err := catalog.add(definition); err != nil {
			return Catalog{}, err
		}
	}

	return catalog, nil
}

func (c *Catalog) add(raw BackendDefinition) error {
	if c.backends == nil {
		c.backends = map[string]BackendDefinition{}
	}
	definition := normalizeBackendDefinition(raw)
	if strings.TrimSpace(definition.Name) == "" {
		return fmt.Errorf("engine name is required")
	}
	if err := validateBackendDefinition(definition); err != nil {
		return fmt.Errorf("invalid engine definition %q: %w", strings.TrimSpace(definition.Name), err)
	}
	c.backends[definition.Name] = definition
	return nil
}

// Backend returns the engine definition registered under name.
func (c Catalog) Backend(name string) (BackendDefinition, bool) {
	if c.backends == nil {
		return BackendDefinition{}, false
	}
	backend, ok := c.backends[normalizeBackend(name)]
	return backend, ok
}

// Names returns every registered engine name, sorted.
func (c Catalog) Names() []string {
	if len(c.backends) == 0 {
		return nil
	}
	values := make([]string, 0, len(c.backends))
	for name := range c.backends {
		values = append(values, name)
	}
	sort.Strings(values)
	return values
}

// CapabilityProfile reports whether name supports review mode and live
// streaming.
func (c Catalog) CapabilityProfile(name string) (BackendCapabilities, bool) {
	backend, ok := c.Backend(name)
	if !ok {
		return BackendCapabilities{}, false
	}
	return BackendCapabilities{SupportsReview: backend.SupportsReview, SupportsStream: backend.SupportsStream}, true
}

// ValidateBackendUsage checks that model is accepted by name's supported
// model patterns and that every credential it requires is present in the
// environment, via getenv (os.Getenv if nil).
func (c Catalog) ValidateBackendUsage(name string, model string, getenv func(string) string) error {
	backend, ok := c.Backend(name)
	if !ok {
		return fmt.Errorf("unsupported engine %q", name)
	}

	if strings.TrimSpace(model) != "" && !supportsModelPattern(backend.SupportedModels, model) {
		return fmt.Errorf("unsupported model %q for engine %q (supported: %s)", strings.TrimSpace(model), backend.Name, strings.Join(backend.SupportedModels, ", "))
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	for _, envVar := range backend.RequiredCredentials {
		trimmedEnvVar := strings.TrimSpace(envVar)
		if trimmedEnvVar == "" {
			continue
		}
		if strings.TrimSpace(getenv(trimmedEnvVar)) == "" {
			return fmt.Errorf("missing auth token from %s for engine %q", trimmedEnvVar, backend.Name)
		}
	}
	return nil
}

// NewEngine builds the contracts.Engine for name using the catalog's
// recorded binary and args template.
func (c Catalog) NewEngine(name string) (*GenericCLIRunnerAdapter, error) {
	backend, ok := c.Backend(name)
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", name)
	}
	return NewGenericCLIRunnerAdapter(backend.Name, backend.Binary, backend.Args, nil), nil
}

func loadBuiltinBackends() ([]BackendDefinition, error) {
	entries, err := fs.ReadDir(builtinFS, builtinEngineDir)
	if err != nil {
		return nil, fmt.Errorf("read builtin engine definitions: %w", err)
	}
	out := make([]BackendDefinition, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		extension := strings.ToLower(filepath.Ext(entry.Name()))
		switch extension {
		case ".yaml", ".yml":
		default:
			continue
		}
		payload, err := fs.ReadFile(builtinFS, filepath.ToSlash(filepath.Join(builtinEngineDir, entry.Name())))
		if err != nil {
			return nil, fmt.Errorf("read builtin engine definition %q: %w", entry.Name(), err)
		}
		definition, err := parseBackendDefinition(payload, extension)
		if err != nil {
			return nil, fmt.Errorf("parse builtin engine definition %q: %w", entry.Name(), err)
		}
		definition = normalizeBackendDefinition(definition)
		if err := validateBackendDefinition(definition); err != nil {
			return nil, fmt.Errorf("invalid builtin engine definition %q: %w", entry.Name(), err)
		}
		out = append(out, definition)
	}
	return out, nil
}

func parseBackendDefinition(payload []byte, extension string) (BackendDefinition, error) {
	definition := BackendDefinition{}
	content := strings.TrimSpace(string(payload))
	if content == "" {
		return BackendDefinition{}, fmt.Errorf("engine definition is empty")
	}
	switch strings.TrimSpace(strings.ToLower(extension)) {
	case ".json":
		if err := json.Unmarshal([]byte(content), &definition); err != nil {
			return BackendDefinition{}, err
		}
	default:
		if err := yaml.Unmarshal([]byte(content), &definition); err != nil {
			return BackendDefinition{}, err
		}
	}
	definition = normalizeBackendDefinition(definition)
	if definition.Name == "" {
		return BackendDefinition{}, fmt.Errorf("engine name is required")
	}
	if definition.Adapter == "" {
		definition.Adapter = "command"
	}
	if definition.Command != "" && definition.Binary == "" {
		definition.Binary = definition.Command
	}
	return definition, nil
}

func validateBackendDefinition(definition BackendDefinition) error {
	if definition.Name == "" {
		return fmt.Errorf("engine name is required")
	}
	if definition.Adapter == "" {
		return fmt.Errorf("engine adapter is required")
	}
	if strings.TrimSpace(definition.Binary) == "" {
		return fmt.Errorf("engine %q requires a binary", definition.Name)
	}
	for _, raw := range definition.SupportedModels {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, err := filepath.Match(trimmed, "sample-text"); err != nil {
			return fmt.Errorf("invalid supported model pattern %q", trimmed)
		}
	}
	return nil
}

func normalizeBackendDefinition(definition BackendDefinition) BackendDefinition {
	definition.Name = normalizeBackend(definition.Name)
	definition.Adapter = strings.ToLower(strings.TrimSpace(definition.Adapter))
	definition.Binary = strings.TrimSpace(definition.Binary)
	definition.Command = strings.TrimSpace(definition.Command)
	if definition.Command != "" && definition.Binary == "" {
		definition.Binary = definition.Command
	}

	definition.Args = normalizeStringSlice(definition.Args)
	definition.RequiredCredentials = normalizeStringSlice(definition.RequiredCredentials)
	definition.SupportedModels = normalizeStringSlice(definition.SupportedModels)
	return definition
}

func supportsModelPattern(patterns []string, model string) bool {
	if len(patterns) == 0 {
		return true
	}
	trimmedModel := strings.TrimSpace(model)
	if trimmedModel == "" {
		return true
	}
	for _, pattern := range patterns {
		trimmedPattern := strings.TrimSpace(pattern)
		if trimmedPattern == "" {
			continue
		}
		matched, err := filepath.Match(trimmedPattern, trimmedModel)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeBackend(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
