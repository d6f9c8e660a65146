package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/bulkloader/internal/domain"
)

// ErrNotFound is returned when no checkpoint exists for a batch
var ErrNotFound = errors.New("checkpoint not found")

// Store persists full batch snapshots as one JSON document per batch.
// Distinct batches never touch the same file, so there is no cross-batch
// contention on disk.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the checkpoint directory
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(batchID string) string {
	// Batch IDs are UUIDs, but never trust them as path components.
	return filepath.Join(s.dir, filepath.Base(batchID)+".json")
}

// Save writes a snapshot, overwriting any prior one. The write goes to a
// temp file first and is renamed into place so a crash mid-write never
// leaves a truncated snapshot behind.
func (s *Store) Save(b *domain.BatchProgress) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling batch %s: %w", b.BatchID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(b.BatchID)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing checkpoint for %s: %w", b.BatchID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing checkpoint for %s: %w", b.BatchID, err)
	}

	if err := os.Rename(tmpName, s.path(b.BatchID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("committing checkpoint for %s: %w", b.BatchID, err)
	}
	return nil
}

// Load reads a snapshot back into memory
func (s *Store) Load(batchID string) (*domain.BatchProgress, error) {
	data, err := os.ReadFile(s.path(batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading checkpoint for %s: %w", batchID, err)
	}

	var b domain.BatchProgress
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding checkpoint for %s: %w", batchID, err)
	}
	return &b, nil
}

// Delete removes a snapshot. Deleting a missing snapshot is not an error.
func (s *Store) Delete(batchID string) error {
	err := os.Remove(s.path(batchID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting checkpoint for %s: %w", batchID, err)
	}
	return nil
}

// IDs returns the batch IDs of all snapshots on disk
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// List loads every snapshot on disk. Unreadable files are skipped rather
// than failing the whole listing.
func (s *Store) List() ([]*domain.BatchProgress, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}

	var batches []*domain.BatchProgress
	for _, id := range ids {
		b, err := s.Load(id)
		if err != nil {
			continue
		}
		batches = append(batches, b)
	}
	return batches, nil
}
