package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/ui"
)

// Store reads and writes queue_cache.json and the per-series metadata
// sidecars. Read failures degrade to "nothing stored".
type Store struct {
	root *cache.Root
	log  *ui.Logger
	mu   sync.Mutex
}

func NewStore(root *cache.Root, log *ui.Logger) *Store {
	return &Store{root: root, log: log}
}

type queueFile struct {
	Operations []*Operation `json:"operations"`
}

func (s *Store) SaveQueue(ops []*Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ops)
}

func (s *Store) save(ops []*Operation) error {
	if ops == nil {
		ops = []*Operation{}
	}
	data, err := json.MarshalIndent(queueFile{Operations: ops}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := cache.WriteFileAtomic(s.root.QueueFile(), data, 0644); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

// LoadQueue returns nil when the queue file is absent, empty or corrupt.
func (s *Store) LoadQueue() []*Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() []*Operation {
	b, err := os.ReadFile(s.root.QueueFile())
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warnf("read queue: %v", err)
		}
		return nil
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil
	}

	var qf queueFile
	if err := json.Unmarshal(b, &qf); err != nil {
		s.log.Warnf("queue file %s is corrupt, ignoring it: %v", s.root.QueueFile(), err)
		return nil
	}
	return slices.DeleteFunc(qf.Operations, func(op *Operation) bool {
		return op == nil || op.ID == ""
	})
}

// Upsert replaces the stored operation with the same ID or appends it.
func (s *Store) Upsert(op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op.touch()
	ops := s.load()
	if i := slices.IndexFunc(ops, func(o *Operation) bool { return o.ID == op.ID }); i >= 0 {
		ops[i] = op
	} else {
		ops = append(ops, op)
	}
	return s.save(ops)
}

// Remove deletes an operation by ID; unknown IDs are not an error.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops := s.load()
	n := len(ops)
	ops = slices.DeleteFunc(ops, func(o *Operation) bool { return o.ID == id })
	if len(ops) == n {
		return false, nil
	}
	return true, s.save(ops)
}

// Find looks an operation up by full ID or unique ID prefix.
func (s *Store) Find(id string) (*Operation, error) {
	var hit *Operation
	for _, op := range s.LoadQueue() {
		if op.ID == id {
			return op, nil
		}
		if id != "" && strings.HasPrefix(op.ID, id) {
			if hit != nil {
				return nil, fmt.Errorf("operation prefix %q is ambiguous", id)
			}
			hit = op
		}
	}
	if hit == nil {
		return nil, fmt.Errorf("operation %q not found", id)
	}
	return hit, nil
}

// MarkChapterCompleted records one finished chapter of a stored operation.
func (s *Store) MarkChapterCompleted(id, chapterURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops := s.load()
	i := slices.IndexFunc(ops, func(o *Operation) bool { return o.ID == id })
	if i < 0 {
		return fmt.Errorf("operation %s not in queue", id)
	}
	op := ops[i]
	if !slices.Contains(op.CompletedChapters, chapterURL) {
		op.CompletedChapters = append(op.CompletedChapters, chapterURL)
	}
	op.touch()
	return s.save(ops)
}

// Pending filters operations a restart should resume. An operation whose
// chapters are all downloaded still counts until it reaches StatusCompleted,
// since packaging may not have happened.
func Pending(ops []*Operation) []*Operation {
	var out []*Operation
	for _, op := range ops {
		if op.DryRun || op.Status == StatusCompleted {
			continue
		}
		out = append(out, op)
	}
	return out
}

// SaveOperationMetadata writes the series sidecar for op.
func (s *Store) SaveOperationMetadata(op *Operation) error {
	dir := s.root.SeriesDir(op.SeriesSlug)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	title := op.CustomTitle
	if title == "" {
		title = cache.TitleFromSlug(op.SeriesSlug)
	}

	return cache.WriteMetadata(dir, &cache.SeriesMetadata{
		OperationID:   op.ID,
		Title:         title,
		SourceURL:     op.SeriesURL,
		Slug:          op.SeriesSlug,
		TotalChapters: len(op.Chapters),
		Format:        op.Format,
		UpdatedAt:     op.UpdatedAt,
	})
}

// LoadOperationMetadata returns nil when the sidecar is missing or unreadable.
func (s *Store) LoadOperationMetadata(seriesDir string) *cache.SeriesMetadata {
	m, err := cache.ReadMetadata(seriesDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warnf("metadata in %s: %v", seriesDir, err)
		}
		return nil
	}
	return m
}
