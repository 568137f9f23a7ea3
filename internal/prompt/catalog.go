package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tidwall/jsonc"
)

// Subject is the durable question data behind one subject id.
type Subject struct {
	Question  string `json:"question"`
	Reference string `json:"reference"`
}

// Catalog maps subject ids to their question data. It is loaded once at
// startup from a JSONC file; the relay rebuilds conversation context from it
// whenever a client starts a stream without a usable history.
type Catalog struct {
	mu       sync.RWMutex
	subjects map[string]Subject
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{subjects: map[string]Subject{}}
}

// LoadCatalog reads a subject catalog file. The file is a JSON (or JSONC)
// object keyed by subject id.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subject catalog: %w", err)
	}

	subjects := map[string]Subject{}
	if err := json.Unmarshal(jsonc.ToJSON(data), &subjects); err != nil {
		return nil, fmt.Errorf("failed to parse subject catalog %s: %w", path, err)
	}
	return &Catalog{subjects: subjects}, nil
}

// Lookup returns the subject data for an id.
func (c *Catalog) Lookup(subjectID string) (Subject, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.subjects[subjectID]
	return s, ok
}

// Put registers or replaces a subject (used by tests and embedding servers).
func (c *Catalog) Put(subjectID string, s Subject) {
	c.mu.Lock()
	c.subjects[subjectID] = s
	c.mu.Unlock()
}

// Len returns the number of known subjects.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subjects)
}
