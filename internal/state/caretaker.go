package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/pkg/schema"
)

// Memento is an immutable snapshot of a WorkflowState taken after a step.
type Memento struct {
	Step      string         `json:"step"`
	State     map[string]any `json:"state"`
	Metadata  Metadata       `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
	Version   int            `json:"version"`
}

func (m Memento) clone() Memento {
	m.State = expressions.DeepCopyMap(m.State)
	m.Metadata = m.Metadata.clone()
	return m
}

// Caretaker is the append-only history of mementos. Entries are stored and
// handed out as deep copies, so no caller can alter recorded history.
type Caretaker struct {
	mu       sync.RWMutex
	mementos []Memento
}

// NewCaretaker creates an empty history.
func NewCaretaker() *Caretaker {
	return &Caretaker{}
}

// Add appends a memento.
func (c *Caretaker) Add(m Memento) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mementos = append(c.mementos, m.clone())
}

// Len returns the number of recorded mementos.
func (c *Caretaker) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mementos)
}

// Latest returns the newest memento.
func (c *Caretaker) Latest() (Memento, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.mementos) == 0 {
		return Memento{}, false
	}
	return c.mementos[len(c.mementos)-1].clone(), true
}

// ByStep returns the most recent memento recorded under step. Earlier
// mementos sharing the name remain in History but are not reachable here.
func (c *Caretaker) ByStep(step string) (Memento, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.mementos) - 1; i >= 0; i-- {
		if c.mementos[i].Step == step {
			return c.mementos[i].clone(), true
		}
	}
	return Memento{}, false
}

// History returns every memento, oldest first.
func (c *Caretaker) History() []Memento {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Memento, len(c.mementos))
	for i, m := range c.mementos {
		out[i] = m.clone()
	}
	return out
}

// Serialize encodes the full history as a JSON array.
func (c *Caretaker) Serialize() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mementos == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(c.mementos)
	if err != nil {
		return nil, fmt.Errorf("serialize history: %w", err)
	}
	return b, nil
}

// DeserializeCaretaker rebuilds a history produced by Serialize. Empty input
// yields an empty history.
func DeserializeCaretaker(raw []byte) (*Caretaker, error) {
	c := NewCaretaker()
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c.mementos); err != nil {
		return nil, schema.NewError(schema.ErrCodeInvalidFormat, "memento history is not valid JSON").WithCause(err)
	}
	return c, nil
}
