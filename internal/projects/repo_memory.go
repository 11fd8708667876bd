package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores projects, messages and files in memory.
type MemoryRepo struct {
	mu       sync.RWMutex
	projects map[string]Project
	messages map[string][]Message
	msgIDs   map[string]struct{}
	files    map[string][]File
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		projects: make(map[string]Project),
		messages: make(map[string][]Message),
		msgIDs:   make(map[string]struct{}),
		files:    make(map[string][]File),
	}
}

func (r *MemoryRepo) CreateProject(ctx context.Context, p Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[p.ID]; ok {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	r.projects[p.ID] = p
	return nil
}

func (r *MemoryRepo) GetProject(ctx context.Context, id string) (Project, error) {
	if err := ctx.Err(); err != nil {
		return Project{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok || p.DeletedAt != nil {
		return Project{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) UpdateProject(ctx context.Context, id string, u Update) (Project, error) {
	if err := ctx.Err(); err != nil {
		return Project{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok || p.DeletedAt != nil {
		return Project{}, ErrNotFound
	}
	if u.BrandName != nil {
		p.BrandName = *u.BrandName
	}
	if u.BrandWebsite != nil {
		p.BrandWebsite = *u.BrandWebsite
	}
	if u.FindingsDraft != nil {
		p.FindingsDraft = append(json.RawMessage(nil), u.FindingsDraft...)
	}
	if u.ConversationSnapshot != nil {
		p.ConversationSnapshot = append(json.RawMessage(nil), u.ConversationSnapshot...)
	}
	if u.LastActivityAt != nil {
		t := *u.LastActivityAt
		p.LastActivityAt = &t
	}
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		p.DeletedAt = &t
	}
	p.UpdatedAt = time.Now().UTC()
	r.projects[id] = p
	return p, nil
}

func (r *MemoryRepo) CreateMessage(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.msgIDs[m.ID]; ok {
		return nil
	}
	r.msgIDs[m.ID] = struct{}{}
	r.messages[m.ProjectID] = append(r.messages[m.ProjectID], m)
	return nil
}

func (r *MemoryRepo) ListMessages(ctx context.Context, projectID string, before *time.Time, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	all := r.messages[projectID]
	out := make([]Message, 0, len(all))
	// Walk newest-inserted first so equal timestamps keep insertion order.
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if m.Redacted {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) CountMessages(ctx context.Context, projectID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.messages[projectID] {
		if !m.Redacted {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) CreateFile(ctx context.Context, f File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[f.ProjectID] = append(r.files[f.ProjectID], f)
	return nil
}

func (r *MemoryRepo) ListFiles(ctx context.Context, projectID string, limit int) ([]File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]File, 0)
	for _, f := range r.files[projectID] {
		if f.DeletedAt == nil {
			out = append(out, f)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
