// Package memstore is an in-process store.Store used for local runs
// (DB_DRIVER=memory) and as the backing store of the HTTP tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kyri56xcaesar/pms-kanban/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	users    map[string]store.User
	projects map[string]store.Project
	tasks    map[string]store.Task

	// Now is the clock used for server-assigned timestamps.
	Now func() time.Time
}

func New() *Store {
	return &Store{
		users:    make(map[string]store.User),
		projects: make(map[string]store.Project),
		tasks:    make(map[string]store.Task),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close(context.Context) error {
	return nil
}

/* users */

func (s *Store) CreateUser(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = store.NormalizeEmail(u.Email)
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("user %s: %w", u.Email, store.ErrConflict)
		}
	}

	now := s.Now()
	u.ID = uuid.NewString()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = *u
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = store.NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
}

func (s *Store) FindUsers(_ context.Context, ids []string) ([]store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.User, 0, len(ids))
	for _, id := range store.Dedupe(ids) {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) ListUsers(_ context.Context, f store.UserFilter) ([]store.User, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(f.Query))
	matched := make([]store.User, 0, len(s.users))
	for _, u := range s.users {
		if q != "" && !containsFold(u.Name, q) && !containsFold(u.Email, q) {
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name == matched[j].Name {
			return matched[i].Email < matched[j].Email
		}
		return matched[i].Name < matched[j].Name
	})

	start, end := f.Page.Window(len(matched))
	return matched[start:end], int64(len(matched)), nil
}

/* projects */

func (s *Store) CreateProject(_ context.Context, p *store.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.Key = store.NormalizeKey(p.Key)
	if s.keyTaken(p.Key, "") {
		return fmt.Errorf("project key %s: %w", p.Key, store.ErrConflict)
	}

	now := s.Now()
	p.ID = uuid.NewString()
	p.MemberIDs = store.Dedupe(p.MemberIDs)
	p.CreatedAt, p.UpdatedAt = now, now
	p.Members, p.CreatedBy = nil, nil
	s.projects[p.ID] = cloneProject(*p)

	*p = s.populateProject(s.projects[p.ID])
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (*store.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	out := s.populateProject(p)
	return &out, nil
}

func (s *Store) ListProjects(_ context.Context, f store.ProjectFilter) ([]store.Project, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(f.Query))
	matched := make([]store.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if q != "" && !containsFold(p.Name, q) && !containsFold(p.Key, q) {
			continue
		}
		if f.VisibleTo != "" && !p.HasMember(f.VisibleTo) && !s.hasAssignedTask(p.ID, f.VisibleTo) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start, end := f.Page.Window(len(matched))
	out := make([]store.Project, 0, end-start)
	for _, p := range matched[start:end] {
		out = append(out, s.populateProject(p))
	}
	return out, int64(len(matched)), nil
}

func (s *Store) UpdateProject(_ context.Context, id string, u store.ProjectUpdate) (*store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	if u.Key != nil {
		key := store.NormalizeKey(*u.Key)
		if s.keyTaken(key, id) {
			return nil, fmt.Errorf("project key %s: %w", key, store.ErrConflict)
		}
		p.Key = key
	}
	if u.Name != nil {
		p.Name = strings.TrimSpace(*u.Name)
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	p.UpdatedAt = s.Now()
	s.projects[id] = p

	out := s.populateProject(p)
	return &out, nil
}

func (s *Store) DeleteProject(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return 0, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	delete(s.projects, id)

	var n int64
	for tid, t := range s.tasks {
		if t.ProjectID == id {
			delete(s.tasks, tid)
			n++
		}
	}
	return n, nil
}

func (s *Store) AddMembers(_ context.Context, projectID string, userIDs []string) (*store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	p.MemberIDs = store.Dedupe(append(append([]string{}, p.MemberIDs...), userIDs...))
	p.UpdatedAt = s.Now()
	s.projects[projectID] = p

	out := s.populateProject(p)
	return &out, nil
}

func (s *Store) RemoveMember(_ context.Context, projectID, userID string) (*store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	if !p.HasMember(userID) {
		return nil, fmt.Errorf("member %s of project %s: %w", userID, projectID, store.ErrNotFound)
	}

	kept := make([]string, 0, len(p.MemberIDs))
	for _, id := range p.MemberIDs {
		if id != userID {
			kept = append(kept, id)
		}
	}
	p.MemberIDs = kept
	p.UpdatedAt = s.Now()
	s.projects[projectID] = p

	out := s.populateProject(p)
	return &out, nil
}

/* tasks */

func (s *Store) CreateTask(_ context.Context, t *store.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[t.ProjectID]; !ok {
		return fmt.Errorf("project %s: %w", t.ProjectID, store.ErrNotFound)
	}

	now := s.Now()
	t.ID = uuid.NewString()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Assignee, t.CreatedBy = nil, nil
	s.tasks[t.ID] = *t

	*t = s.populateTask(*t)
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	out := s.populateTask(t)
	return &out, nil
}

func (s *Store) ListTasks(_ context.Context, f store.TaskFilter) ([]store.Task, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchTasks(f)
	sortTasks(matched, f.Sort)

	start, end := f.Page.Window(len(matched))
	out := make([]store.Task, 0, end-start)
	for _, t := range matched[start:end] {
		out = append(out, s.populateTask(t))
	}
	return out, int64(len(matched)), nil
}

func (s *Store) CountTasks(_ context.Context, f store.TaskFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.matchTasks(f))), nil
}

func (s *Store) UpdateTask(_ context.Context, id string, u store.TaskUpdate) (*store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.AssigneeID != nil {
		t.AssigneeID = *u.AssigneeID
	}
	if u.ClearDueDate {
		t.DueDate = nil
	} else if u.DueDate != nil {
		due := *u.DueDate
		t.DueDate = &due
	}
	t.UpdatedAt = s.Now()
	s.tasks[id] = t

	out := s.populateTask(t)
	return &out, nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	delete(s.tasks, id)
	return nil
}

/* helpers; callers hold s.mu */

func (s *Store) keyTaken(key, exceptID string) bool {
	for id, p := range s.projects {
		if id != exceptID && p.Key == key {
			return true
		}
	}
	return false
}

func (s *Store) hasAssignedTask(projectID, userID string) bool {
	for _, t := range s.tasks {
		if t.ProjectID == projectID && t.AssigneeID == userID {
			return true
		}
	}
	return false
}

func (s *Store) userRef(id string) *store.UserRef {
	if id == "" {
		return nil
	}
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	ref := u.Ref()
	return &ref
}

func (s *Store) populateProject(p store.Project) store.Project {
	out := cloneProject(p)
	out.Members = make([]store.UserRef, 0, len(p.MemberIDs))
	for _, id := range p.MemberIDs {
		if ref := s.userRef(id); ref != nil {
			out.Members = append(out.Members, *ref)
		}
	}
	out.CreatedBy = s.userRef(p.CreatedByID)
	return out
}

func (s *Store) populateTask(t store.Task) store.Task {
	t.Assignee = s.userRef(t.AssigneeID)
	t.CreatedBy = s.userRef(t.CreatedByID)
	return t
}

func (s *Store) matchTasks(f store.TaskFilter) []store.Task {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]store.Task, 0)
	for _, t := range s.tasks {
		if f.ProjectID != "" && t.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Priority != "" && t.Priority != f.Priority {
			continue
		}
		if f.Unassigned && t.AssigneeID != "" {
			continue
		}
		if f.AssigneeID != "" && t.AssigneeID != f.AssigneeID {
			continue
		}
		if q != "" && !containsFold(t.Title, q) && !containsFold(t.Description, q) {
			continue
		}
		if f.DueFrom != nil && (t.DueDate == nil || t.DueDate.Before(*f.DueFrom)) {
			continue
		}
		if f.DueTo != nil && (t.DueDate == nil || t.DueDate.After(*f.DueTo)) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func sortTasks(tasks []store.Task, order string) {
	less := taskLess(order)
	sort.SliceStable(tasks, func(i, j int) bool { return less(tasks[i], tasks[j]) })
}

// taskLess returns the strict ordering for a sort key.
func taskLess(order string) func(a, b store.Task) bool {
	var less func(a, b store.Task) bool
	switch order {
	case store.SortCreatedAsc:
		less = func(a, b store.Task) bool { return newerFirst(b, a) }
	case store.SortDueAsc:
		less = func(a, b store.Task) bool { return dueBefore(a, b, false) }
	case store.SortDueDesc:
		less = func(a, b store.Task) bool { return dueBefore(a, b, true) }
	case store.SortPriorityDesc:
		less = func(a, b store.Task) bool {
			if a.Priority.Rank() == b.Priority.Rank() {
				return newerFirst(a, b)
			}
			return a.Priority.Rank() > b.Priority.Rank()
		}
	default:
		less = newerFirst
	}
	return less
}

// dueBefore sorts tasks without a due date last in both directions.
func dueBefore(a, b store.Task, desc bool) bool {
	switch {
	case a.DueDate == nil && b.DueDate == nil:
		return newerFirst(a, b)
	case a.DueDate == nil:
		return false
	case b.DueDate == nil:
		return true
	case desc:
		return a.DueDate.After(*b.DueDate)
	default:
		return a.DueDate.Before(*b.DueDate)
	}
}

func newerFirst(a, b store.Task) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func cloneProject(p store.Project) store.Project {
	p.MemberIDs = append([]string{}, p.MemberIDs...)
	return p
}

func containsFold(s, lowerSub string) bool {
	return strings.Contains(strings.ToLower(s), lowerSub)
}
