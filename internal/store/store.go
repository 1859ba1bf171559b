// Package store holds the tracker's domain model and the persistence
// contract implemented by memstore, pgstore and mongostore.
//
// Reads return populated documents: project members and creators, task
// assignees and creators are resolved to UserRef values at read time.
package store

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type Store interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// FindUsers returns the users matching ids; unknown ids are skipped.
	FindUsers(ctx context.Context, ids []string) ([]User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, int64, error)

	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context, f ProjectFilter) ([]Project, int64, error)
	UpdateProject(ctx context.Context, id string, u ProjectUpdate) (*Project, error)
	// DeleteProject removes the project and every task in it.
	DeleteProject(ctx context.Context, id string) (int64, error)
	AddMembers(ctx context.Context, projectID string, userIDs []string) (*Project, error)
	RemoveMember(ctx context.Context, projectID, userID string) (*Project, error)

	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]Task, int64, error)
	CountTasks(ctx context.Context, f TaskFilter) (int64, error)
	UpdateTask(ctx context.Context, id string, u TaskUpdate) (*Task, error)
	DeleteTask(ctx context.Context, id string) error
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Dedupe drops empty and repeated ids, keeping first occurrences.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
