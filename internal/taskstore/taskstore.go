// Package taskstore loads, validates, and durably mutates the on-disk
// tasks file that is the single source of truth for the task graph (§6.1).
// Every load goes through two stages, mirroring the teacher's engine
// catalog: a JSON-Schema structural pass against embed.FS-ed schema.json,
// then the semantic Validate defined in contracts.TaskSet.
package taskstore

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/FacuVCanale/gralph/internal/contracts"
)

//go:embed schema.json
var schemaFS embed.FS

const schemaURL = "gralph://tasks-file-schema.json"

var compiledSchema *jsonschema.Schema

func init() {
	data, err := schemaFS.ReadFile("schema.json")
	if err != nil {
		panic(fmt.Sprintf("embed tasks file schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("load tasks file schema: %v", err))
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("compile tasks file schema: %v", err))
	}
	compiledSchema = schema
}

// Store guards one tasks.yaml file on disk.
type Store struct {
	path string
}

// New returns a Store for the tasks file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads, schema-validates, and semantically validates the tasks file.
// A structural violation (unknown field, wrong type) is reported before any
// semantic one (cycle, unknown dependency), since a malformed document
// can't be meaningfully checked for cycles.
func (s *Store) Load() (contracts.TaskSet, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return contracts.TaskSet{}, fmt.Errorf("read tasks file %q: %w", s.path, err)
	}

	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return contracts.TaskSet{}, fmt.Errorf("parse tasks file %q: %w", s.path, err)
	}
	asJSON, err := toJSONCompatible(generic)
	if err != nil {
		return contracts.TaskSet{}, fmt.Errorf("normalize tasks file %q: %w", s.path, err)
	}
	if err := compiledSchema.Validate(asJSON); err != nil {
		return contracts.TaskSet{}, fmt.Errorf("tasks file %q failed schema validation: %w", s.path, err)
	}

	var taskSet contracts.TaskSet
	if err := yaml.Unmarshal(raw, &taskSet); err != nil {
		return contracts.TaskSet{}, fmt.Errorf("decode tasks file %q: %w", s.path, err)
	}
	if verr := taskSet.Validate(); verr != nil {
		return contracts.TaskSet{}, fmt.Errorf("tasks file %q failed validation: %w", s.path, verr)
	}
	return taskSet, nil
}

// Save writes taskSet back to disk atomically (temp file + rename), so a
// crash mid-write never corrupts the tasks file a concurrent supervisor
// might read.
func (s *Store) Save(taskSet contracts.TaskSet) error {
	data, err := yaml.Marshal(taskSet)
	if err != nil {
		return fmt.Errorf("marshal tasks file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// MarkCompleted flips completed=true for taskID and persists the change.
// The caller must already hold whatever external synchronization prevents
// two tasks from racing on the same file (the Integrator serializes
// merge-back, which is the only place tasks are marked completed).
func (s *Store) MarkCompleted(taskID string) error {
	taskSet, err := s.Load()
	if err != nil {
		return err
	}
	found := false
	for i := range taskSet.Tasks {
		if taskSet.Tasks[i].ID == taskID {
			taskSet.Tasks[i].Completed = true
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("task %q not found in tasks file", taskID)
	}
	return s.Save(taskSet)
}

func toJSONCompatible(value interface{}) (interface{}, error) {
	data, err := json.Marshal(yamlToJSON(value))
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// yamlToJSON recursively converts map[interface{}]interface{} (produced by
// some YAML decode paths) into map[string]interface{} so encoding/json can
// marshal it.
func yamlToJSON(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = yamlToJSON(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[fmt.Sprintf("%v", k)] = yamlToJSON(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = yamlToJSON(val)
		}
		return out
	default:
		return v
	}
}
