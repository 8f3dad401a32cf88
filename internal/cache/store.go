// Package cache holds the read cache that sits in front of project lookups.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-dazzeo/realm/internal/domain"
	"github.com/p-dazzeo/realm/internal/store"
)

// DefaultTTL applies when neither the constructor nor the call supplies one.
const DefaultTTL = 5 * time.Minute

// Options tune a single cached read.
type Options struct {
	// TTL overrides the store default when positive.
	TTL time.Duration
	// Bypass skips the cache for reads that must observe the latest write.
	// The fresh value still refreshes the cache.
	Bypass bool
}

// Store is a cache-aside wrapper around a store.Store. Mutations made through
// it invalidate the affected project keys and purge cached listings.
type Store struct {
	store.Store
	ttl    time.Duration
	byID   *TTL[int64, domain.Project]
	byUUID *TTL[uuid.UUID, int64]
	lists  *TTL[string, []domain.ProjectSummary]

	// mu orders fills against invalidations. A fill only lands when no
	// invalidation happened since its backing read started.
	mu  sync.Mutex
	gen uint64
}

// New wraps st. A non-positive ttl falls back to DefaultTTL.
func New(st store.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		Store:  st,
		ttl:    ttl,
		byID:   NewTTL[int64, domain.Project](),
		byUUID: NewTTL[uuid.UUID, int64](),
		lists:  NewTTL[string, []domain.ProjectSummary](),
	}
}

func (s *Store) ttlFor(opts Options) time.Duration {
	if opts.TTL > 0 {
		return opts.TTL
	}
	return s.ttl
}

// GetProject reads through the cache with default options.
func (s *Store) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	return s.LookupProject(ctx, id, Options{})
}

// GetProjectByUUID reads through the cache with default options.
func (s *Store) GetProjectByUUID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	return s.LookupProjectByUUID(ctx, id, Options{})
}

// LookupProject returns the project with the given id.
func (s *Store) LookupProject(ctx context.Context, id int64, opts Options) (*domain.Project, error) {
	if !opts.Bypass {
		if p, ok := s.byID.Get(id); ok {
			return cloneProject(&p), nil
		}
	}
	gen := s.generation()
	p, err := s.Store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(gen, p, s.ttlFor(opts))
	return cloneProject(p), nil
}

// LookupProjectByUUID returns the project with the given public id.
func (s *Store) LookupProjectByUUID(ctx context.Context, id uuid.UUID, opts Options) (*domain.Project, error) {
	if !opts.Bypass {
		if pid, ok := s.byUUID.Get(id); ok {
			if p, ok := s.byID.Get(pid); ok && p.UUID == id {
				return cloneProject(&p), nil
			}
		}
	}
	gen := s.generation()
	p, err := s.Store.GetProjectByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(gen, p, s.ttlFor(opts))
	return cloneProject(p), nil
}

// ListProjectsCached serves a listing page from the list cache.
func (s *Store) ListProjectsCached(ctx context.Context, filter domain.ListFilter, page domain.Page, opts Options) ([]domain.ProjectSummary, error) {
	page = page.Normalize()
	key := listKey(filter, page)
	if !opts.Bypass {
		if list, ok := s.lists.Get(key); ok {
			return append([]domain.ProjectSummary(nil), list...), nil
		}
	}
	gen := s.generation()
	list, err := s.Store.ListProjects(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.gen == gen {
		s.lists.Set(key, append([]domain.ProjectSummary(nil), list...), s.ttlFor(opts))
	}
	s.mu.Unlock()
	return list, nil
}

// Invalidate forgets the project with the given id and every cached listing.
func (s *Store) Invalidate(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if p, ok := s.byID.Get(id); ok {
		s.byUUID.Delete(p.UUID)
	}
	s.byID.Delete(id)
	s.lists.Purge()
}

// Sweep evicts expired entries from every cache.
func (s *Store) Sweep() int {
	return s.byID.Sweep() + s.byUUID.Sweep() + s.lists.Sweep()
}

// RunSweeper calls Sweep every interval until ctx is done. A non-positive
// interval uses the store TTL.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = s.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 && logger != nil {
				logger.Debug("cache.swept", "evicted", n)
			}
		}
	}
}

func (s *Store) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Store) remember(gen uint64, p *domain.Project, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.byID.Set(p.ID, *cloneProject(p), ttl)
	s.byUUID.Set(p.UUID, p.ID, ttl)
}

func (s *Store) CreateProject(ctx context.Context, p *domain.Project) error {
	if err := s.Store.CreateProject(ctx, p); err != nil {
		return err
	}
	s.mu.Lock()
	s.gen++
	s.lists.Purge()
	s.mu.Unlock()
	return nil
}

func (s *Store) UpdateProject(ctx context.Context, p *domain.Project) error {
	defer s.Invalidate(p.ID)
	return s.Store.UpdateProject(ctx, p)
}

func (s *Store) DeleteProject(ctx context.Context, id int64) (*store.DeletedProject, error) {
	defer s.Invalidate(id)
	return s.Store.DeleteProject(ctx, id)
}

func (s *Store) CreateProjectFile(ctx context.Context, f *domain.ProjectFile) error {
	defer s.Invalidate(f.ProjectID)
	return s.Store.CreateProjectFile(ctx, f)
}

func (s *Store) DeleteProjectFile(ctx context.Context, id int64) error {
	f, err := s.Store.GetProjectFile(ctx, id)
	if err != nil {
		return err
	}
	defer s.Invalidate(f.ProjectID)
	return s.Store.DeleteProjectFile(ctx, id)
}

func (s *Store) CreateAdditionalFile(ctx context.Context, f *domain.AdditionalFile) error {
	defer s.Invalidate(f.ProjectID)
	return s.Store.CreateAdditionalFile(ctx, f)
}

func (s *Store) UpdateAdditionalFile(ctx context.Context, f *domain.AdditionalFile) error {
	defer s.Invalidate(f.ProjectID)
	return s.Store.UpdateAdditionalFile(ctx, f)
}

func (s *Store) DeleteAdditionalFile(ctx context.Context, id int64) (*domain.AdditionalFile, error) {
	f, err := s.Store.DeleteAdditionalFile(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Invalidate(f.ProjectID)
	return f, nil
}

// WithTx runs fn against a tracking transaction and invalidates every project
// it touched once the transaction has finished.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	tracker := &trackingTx{dirty: make(map[int64]struct{})}
	defer func() {
		for id := range tracker.dirty {
			s.Invalidate(id)
		}
	}()
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		tracker.Tx = tx
		return fn(tracker)
	})
}

// trackingTx records which projects a transaction wrote to.
type trackingTx struct {
	store.Tx
	dirty map[int64]struct{}
}

func (t *trackingTx) touch(id int64) {
	t.dirty[id] = struct{}{}
}

func (t *trackingTx) Savepoint(ctx context.Context, fn func(store.Tx) error) error {
	return t.Tx.Savepoint(ctx, func(sp store.Tx) error {
		return fn(&trackingTx{Tx: sp, dirty: t.dirty})
	})
}

func (t *trackingTx) CreateProject(ctx context.Context, p *domain.Project) error {
	err := t.Tx.CreateProject(ctx, p)
	if err == nil {
		t.touch(p.ID)
	}
	return err
}

func (t *trackingTx) UpdateProject(ctx context.Context, p *domain.Project) error {
	t.touch(p.ID)
	return t.Tx.UpdateProject(ctx, p)
}

func (t *trackingTx) DeleteProject(ctx context.Context, id int64) (*store.DeletedProject, error) {
	t.touch(id)
	return t.Tx.DeleteProject(ctx, id)
}

func (t *trackingTx) CreateProjectFile(ctx context.Context, f *domain.ProjectFile) error {
	t.touch(f.ProjectID)
	return t.Tx.CreateProjectFile(ctx, f)
}

func (t *trackingTx) CreateAdditionalFile(ctx context.Context, f *domain.AdditionalFile) error {
	t.touch(f.ProjectID)
	return t.Tx.CreateAdditionalFile(ctx, f)
}

func (t *trackingTx) UpdateAdditionalFile(ctx context.Context, f *domain.AdditionalFile) error {
	t.touch(f.ProjectID)
	return t.Tx.UpdateAdditionalFile(ctx, f)
}

func (t *trackingTx) DeleteAdditionalFile(ctx context.Context, id int64) (*domain.AdditionalFile, error) {
	f, err := t.Tx.DeleteAdditionalFile(ctx, id)
	if err == nil {
		t.touch(f.ProjectID)
	}
	return f, err
}

func listKey(filter domain.ListFilter, page domain.Page) string {
	method := "*"
	if filter.UploadMethod != nil {
		method = string(*filter.UploadMethod)
	}
	return fmt.Sprintf("%s|%d|%d", method, page.Offset, page.Limit)
}

func cloneProject(p *domain.Project) *domain.Project {
	out := *p
	if p.ParserResponse != nil {
		out.ParserResponse = bytes.Clone(p.ParserResponse)
	}
	if p.Description != nil {
		d := *p.Description
		out.Description = &d
	}
	if p.ParserVersion != nil {
		v := *p.ParserVersion
		out.ParserVersion = &v
	}
	return &out
}
