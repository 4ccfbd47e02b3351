package tools

import (
	"context"

	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/pkg/schema"
)

// EffectTools returns the tools whose output is a transition side effect.
func EffectTools(validator SchemaValidator) []Tool {
	return []Tool{
		&documentCreateTool{base{
			name: "document.create",
			schema: Schema{
				Description: "Add a document to the workflow; earlier documents with the same messageId are invalidated",
				Args: obj(map[string]any{
					"messageId":   map[string]any{"type": "string"},
					"content":     map[string]any{},
					"contentType": map[string]any{"type": "string"},
				}, "content"),
				Fields: isolation.Fields{Args: []string{"messageId", "content", "contentType"}},
			},
			validator: validator,
		}},
		&placeSetTool{base{
			name: "place.set",
			schema: Schema{
				Description: "Choose the transition's resulting place",
				Args: obj(map[string]any{
					"place": map[string]any{"type": "string", "minLength": 1},
				}, "place"),
				Fields: isolation.Fields{Args: []string{"place"}},
			},
			validator: validator,
		}},
	}
}

// --- document.create ---

type documentCreateTool struct{ base }

type documentArgs struct {
	MessageID   string `mapstructure:"messageId"`
	Content     any    `mapstructure:"content"`
	ContentType string `mapstructure:"contentType"`
}

func (t *documentCreateTool) Execute(_ context.Context, inv *isolation.Invocation) (*schema.ToolResult, error) {
	var args documentArgs
	if err := t.decode(inv, &args); err != nil {
		return nil, err
	}
	doc := schema.Document{
		MessageID:   args.MessageID,
		Content:     args.Content,
		ContentType: args.ContentType,
	}
	return &schema.ToolResult{
		Data:    map[string]any{"messageId": args.MessageID},
		Effects: &schema.Effects{AddWorkflowDocuments: []schema.Document{doc}},
	}, nil
}

// --- place.set ---

type placeSetTool struct{ base }

type placeArgs struct {
	Place string `mapstructure:"place"`
}

func (t *placeSetTool) Execute(_ context.Context, inv *isolation.Invocation) (*schema.ToolResult, error) {
	var args placeArgs
	if err := t.decode(inv, &args); err != nil {
		return nil, err
	}
	return &schema.ToolResult{
		Data:    map[string]any{"place": args.Place},
		Effects: &schema.Effects{SetTransitionPlace: args.Place},
	}, nil
}
