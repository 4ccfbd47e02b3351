package registry

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/rendis/waypoint/pkg/schema"
)

// definitionPattern matches definition files anywhere under a directory.
const definitionPattern = "**/*.{yaml,yml,json}"

// ParseDefinition decodes a YAML or JSON definition. Unknown fields are
// rejected so typos fail loudly.
func ParseDefinition(data []byte, ext string) (*schema.WorkflowDefinition, error) {
	var def schema.WorkflowDefinition
	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidFormat, "parse JSON definition: %v", err).WithCause(err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidFormat, "parse YAML definition: %v", err).WithCause(err)
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidFormat, "unsupported definition extension %q", ext)
	}
	return &def, nil
}

// LoadFile parses and registers one definition file.
func (r *Registry) LoadFile(path string) (*Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read definition %s: %v", path, err).WithCause(err)
	}
	def, err := ParseDefinition(data, filepath.Ext(path))
	if err != nil {
		return nil, schema.NewErrorf(schema.CodeOf(err), "%s: %v", path, err).WithCause(err)
	}
	b, err := r.Register(Block{Definition: def})
	if err != nil {
		return nil, schema.NewErrorf(schema.CodeOf(err), "%s: %v", path, err).WithCause(err)
	}
	return b, nil
}

// LoadDir registers every definition file under dir and returns how many
// were loaded. Loading stops at the first bad file.
func (r *Registry) LoadDir(dir string) (int, error) {
	matches, err := DefinitionFiles(dir)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, path := range matches {
		b, err := r.LoadFile(path)
		if err != nil {
			return loaded, err
		}
		r.logger.Info("workflow loaded", "workflow", b.Name(), "path", path)
		loaded++
	}
	return loaded, nil
}

// DefinitionFiles lists the definition files under dir in lexical order.
func DefinitionFiles(dir string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(filepath.Clean(dir), definitionPattern))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidFormat, "glob %s: %v", dir, err).WithCause(err)
	}
	return matches, nil
}
