// Package interaction persists completed tutoring exchanges as JSON files.
// The relay records one entry per finished stream, best-effort: persistence
// failures are logged by the caller and never propagated to the client.
package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrNotFound = errors.New("not found")

// Record is one persisted exchange.
type Record struct {
	ID            string `json:"id"`
	RequesterID   string `json:"requesterId"`
	SubjectID     string `json:"subjectId"`
	Model         string `json:"model"`
	SystemMessage string `json:"systemMessage"`
	UserMessage   string `json:"userMessage"`
	AIResponse    string `json:"aiResponse"`
	DurationMS    int64  `json:"durationMs"`
	// Error marks error-flavored records written when a stream failed.
	Error     string `json:"error,omitempty"`
	CreatedAt int64  `json:"createdAt"` // unix millis
}

// Store is a file-backed interaction log. Writes are atomic
// (temp file + rename) so a crash never leaves a torn record.
type Store struct {
	basePath string
	mu       sync.Mutex
}

// New creates a store rooted at basePath.
func New(basePath string) *Store {
	return &Store{basePath: basePath}
}

// Record persists one exchange. The record id and timestamp are assigned
// here so callers only describe the exchange itself.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.RequesterID == "" {
		return fmt.Errorf("interaction record missing requester id")
	}
	rec.ID = ulid.Make().String()
	rec.CreatedAt = time.Now().UnixMilli()

	dir := filepath.Join(s.basePath, sanitize(rec.RequesterID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create interaction directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal interaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := filepath.Join(dir, rec.ID+".json")
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write interaction temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename interaction file: %w", err)
	}
	return nil
}

// List returns all records for a requester, oldest first. ULID filenames
// sort chronologically.
func (s *Store) List(ctx context.Context, requesterID string) ([]Record, error) {
	dir := filepath.Join(s.basePath, sanitize(requesterID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read interaction directory: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // skip unreadable records
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Get retrieves one record by requester and id.
func (s *Store) Get(ctx context.Context, requesterID, id string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, sanitize(requesterID), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read interaction: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal interaction: %w", err)
	}
	return &rec, nil
}

// sanitize keeps requester ids usable as directory names.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
