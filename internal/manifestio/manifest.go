// Package manifestio reads and writes <project>/.dork/agent.json, atomic
// writes, and schema validation. See spec §4.16, §6.
package manifestio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

const manifestSchemaURL = "https://dorkos.local/schema/agent-manifest.json"

const manifestSchemaDoc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name", "runtime"],
	"properties": {
		"id": {"type": "string"},
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"runtime": {"type": "string", "minLength": 1},
		"capabilities": {"type": "array", "items": {"type": "string"}},
		"behavior": {
			"type": "object",
			"properties": {"response_mode": {"type": "string"}}
		},
		"budget": {
			"type": "object",
			"properties": {
				"max_hops_per_message": {"type": "integer"},
				"max_calls_per_hour": {"type": "integer"}
			}
		},
		"namespace": {"type": "string"},
		"registered_at": {"type": "string"},
		"registered_by": {"type": "string"}
	}
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(manifestSchemaURL, strings.NewReader(manifestSchemaDoc)); err != nil {
		panic(fmt.Sprintf("manifestio: load schema: %v", err))
	}
	compiled, err := c.Compile(manifestSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("manifestio: compile schema: %v", err))
	}
	return compiled
}

// relPath returns the manifest path for a project directory.
func relPath(projectPath string) string {
	return filepath.Join(projectPath, ".dork", "agent.json")
}

// ReadManifest reads and validates the manifest at
// <projectPath>/.dork/agent.json against the schema, preserving any
// fields the schema does not recognise in Manifest.Extra.
func ReadManifest(projectPath string) (protocol.AgentManifest, error) {
	path := relPath(projectPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.AgentManifest{}, fmt.Errorf("manifestio: read %s: %w", path, err)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return protocol.AgentManifest{}, fmt.Errorf("manifestio: parse %s: %w", path, err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return protocol.AgentManifest{}, fmt.Errorf("manifestio: validate %s: %w", path, err)
	}

	var m protocol.AgentManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return protocol.AgentManifest{}, fmt.Errorf("manifestio: unmarshal %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return protocol.AgentManifest{}, fmt.Errorf("manifestio: unmarshal raw %s: %w", path, err)
	}
	known := map[string]bool{
		"id": true, "name": true, "description": true, "runtime": true,
		"capabilities": true, "behavior": true, "budget": true,
		"namespace": true, "registered_at": true, "registered_by": true,
	}
	for k, v := range raw {
		if known[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return protocol.AgentManifest{}, fmt.Errorf("manifestio: unmarshal extra field %q: %w", k, err)
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = val
	}

	return m, nil
}

// WriteManifest validates and atomically writes m to
// <projectPath>/.dork/agent.json, preserving m.Extra fields.
func WriteManifest(projectPath string, m protocol.AgentManifest) error {
	path := relPath(projectPath)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("manifestio: mkdir %s: %w", dir, err)
	}

	base, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifestio: marshal: %w", err)
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return fmt.Errorf("manifestio: remarshal: %w", err)
	}
	for k, v := range m.Extra {
		if _, known := merged[k]; known {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("manifestio: marshal extra field %q: %w", k, err)
		}
		merged[k] = raw
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("manifestio: marshal merged: %w", err)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("manifestio: parse for validation: %w", err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return fmt.Errorf("manifestio: validate before write: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-agent-*.json")
	if err != nil {
		return fmt.Errorf("manifestio: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("manifestio: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifestio: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifestio: rename: %w", err)
	}
	return nil
}

// Exists reports whether a project directory already has a manifest.
func Exists(projectPath string) bool {
	_, err := os.Stat(relPath(projectPath))
	return err == nil
}
