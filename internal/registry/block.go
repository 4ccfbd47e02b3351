// Package registry holds the workflow blocks an engine can run. Blocks are
// registered explicitly at startup or loaded from definition files.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/internal/state"
	"github.com/rendis/waypoint/pkg/schema"
)

// Block is a registered workflow: its definition plus the Go-side pieces a
// definition file cannot carry.
type Block struct {
	Definition *schema.WorkflowDefinition
	// Helpers are callable from ${{ }} expressions in this workflow.
	Helpers expressions.Helpers
	// TemplateHelpers are handlebars helpers for this workflow's templates.
	TemplateHelpers expressions.Helpers
	// Fields declares how the workflow's own invocation sees its data.
	Fields isolation.Fields

	stateValidator state.Validator
	argsValidator  func(map[string]any) error
	hash           string
}

// Name returns the workflow name.
func (b *Block) Name() string { return b.Definition.Name }

// StateValidator checks candidate states against the definition's
// stateSchema. It is nil when no schema is declared.
func (b *Block) StateValidator() state.Validator { return b.stateValidator }

// ValidateArgs checks run arguments against the definition's argsSchema.
func (b *Block) ValidateArgs(args map[string]any) error {
	if b.argsValidator == nil {
		return nil
	}
	if err := b.argsValidator(args); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "arguments rejected by workflow %q", b.Name()).WithCause(err)
	}
	return nil
}

// DefinitionHash fingerprints the definition. Equal definitions hash equal
// no matter how they were loaded.
func (b *Block) DefinitionHash() string { return b.hash }

func hashDefinition(def *schema.WorkflowDefinition) (string, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
