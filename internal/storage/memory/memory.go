// Package memory is the in-process storage backend. It keeps everything in
// maps and is used when no DATABASE_URL is configured and by unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/state"
)

// Store implements every repository interface in memory.
type Store struct {
	mu         sync.RWMutex
	operations map[int64]model.Operation
	tasks      map[int64]model.Task
	products   map[int64]model.Product
	checkpoint *state.Checkpoint
	nextOp     int64
	nextTask   int64
	nextProd   int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		operations: make(map[int64]model.Operation),
		tasks:      make(map[int64]model.Task),
		products:   make(map[int64]model.Product),
	}
}

// Name identifies the backend in health output.
func (s *Store) Name() string { return "memory" }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close(context.Context) {}

func (s *Store) CreateOperation(_ context.Context, op *model.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOp++
	op.ID = s.nextOp
	s.operations[op.ID] = *op
	return nil
}

func (s *Store) UpdateOperation(_ context.Context, op model.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operations[op.ID]; !ok {
		return fmt.Errorf("memory: operation %d: %w", op.ID, model.ErrNotFound)
	}
	s.operations[op.ID] = op
	return nil
}

func (s *Store) GetOperation(_ context.Context, id int64) (model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[id]
	if !ok {
		return model.Operation{}, fmt.Errorf("memory: operation %d: %w", id, model.ErrNotFound)
	}
	return op, nil
}

// ListOperations returns the newest operations first.
func (s *Store) ListOperations(_ context.Context, limit int) ([]model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := make([]model.Operation, 0, len(s.operations))
	for _, op := range s.operations {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID > ops[j].ID })
	if limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	return ops, nil
}

func (s *Store) CreateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTask++
	t.ID = s.nextTask
	s.tasks[t.ID] = *t
	return nil
}

func (s *Store) UpdateTask(_ context.Context, t model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return fmt.Errorf("memory: task %d: %w", t.ID, model.ErrNotFound)
	}
	s.tasks[t.ID] = t
	return nil
}

func (s *Store) GetTask(_ context.Context, id int64) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return model.Task{}, fmt.Errorf("memory: task %d: %w", id, model.ErrNotFound)
	}
	return t, nil
}

// ListTasks returns matching tasks, newest first.
func (s *Store) ListTasks(_ context.Context, f model.TaskFilter) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Task
	for _, t := range s.tasks {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Tag != nil {
		for _, existing := range s.products {
			if existing.Tag != nil && strings.EqualFold(*existing.Tag, *p.Tag) {
				return fmt.Errorf("memory: product tag %q: %w", *p.Tag, model.ErrConflict)
			}
		}
	}
	s.nextProd++
	p.ID = s.nextProd
	s.products[p.ID] = *p
	return nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return model.Product{}, fmt.Errorf("memory: product %d: %w", id, model.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ProductByTag(_ context.Context, tag string) (model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if p.Tag != nil && strings.EqualFold(*p.Tag, tag) {
			return p, nil
		}
	}
	return model.Product{}, fmt.Errorf("memory: product tag %q: %w", tag, model.ErrNotFound)
}

func (s *Store) ListProducts(context.Context) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveState(_ context.Context, cp state.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cp
	c.Cells = append([]model.Cell(nil), cp.Cells...)
	s.checkpoint = &c
	return nil
}

func (s *Store) LoadState(context.Context) (state.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checkpoint == nil {
		return state.Checkpoint{}, false, nil
	}
	return *s.checkpoint, true, nil
}
