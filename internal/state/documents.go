package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/pkg/schema"
)

// appendDocuments adds docs to the chain. A document whose MessageID matches
// earlier documents invalidates all of them and takes the next version.
// It returns the new chain and the documents as stored.
func appendDocuments(chain []schema.Document, docs []schema.Document, now time.Time) ([]schema.Document, []schema.Document) {
	added := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		if doc.MessageID == "" {
			doc.MessageID = doc.ID
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		doc.Content = expressions.DeepCopy(doc.Content)
		doc.Invalidated = false
		doc.InvalidatedAt = nil

		prior := 0
		for i := range chain {
			if chain[i].MessageID != doc.MessageID {
				continue
			}
			prior++
			if !chain[i].Invalidated {
				at := now
				chain[i].Invalidated = true
				chain[i].InvalidatedAt = &at
			}
		}
		doc.Version = prior + 1

		chain = append(chain, doc)
		added = append(added, doc)
	}
	return chain, added
}

func cloneDocuments(docs []schema.Document) []schema.Document {
	if docs == nil {
		return nil
	}
	out := make([]schema.Document, len(docs))
	for i, d := range docs {
		d.Content = expressions.DeepCopy(d.Content)
		if d.InvalidatedAt != nil {
			at := *d.InvalidatedAt
			d.InvalidatedAt = &at
		}
		out[i] = d
	}
	return out
}

// ActiveDocuments filters out invalidated documents.
func ActiveDocuments(docs []schema.Document) []schema.Document {
	var out []schema.Document
	for _, d := range docs {
		if !d.Invalidated {
			out = append(out, d)
		}
	}
	return out
}
