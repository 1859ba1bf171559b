// Package access decides who may see and change projects and tasks.
//
// A caller can access a project when they are an admin, a listed member,
// or the assignee of at least one task in it. Only the assignee (or an
// admin) may modify a task.
package access

import (
	"context"
	"errors"

	"kyri56xcaesar/pms-kanban/internal/store"
)

var ErrForbidden = errors.New("forbidden")

// CanAccessProject applies the project rule. hasAssignedTask is only
// called when neither the role nor the member list grants access.
func CanAccessProject(caller *store.User, p *store.Project, hasAssignedTask func() (bool, error)) (bool, error) {
	if caller == nil || p == nil {
		return false, nil
	}
	if caller.IsAdmin() || p.HasMember(caller.ID) {
		return true, nil
	}
	if hasAssignedTask == nil {
		return false, nil
	}
	return hasAssignedTask()
}

func CanModifyTask(caller *store.User, t *store.Task) bool {
	if caller == nil || t == nil {
		return false
	}
	return caller.IsAdmin() || (t.AssigneeID != "" && t.AssigneeID == caller.ID)
}

// ProjectReader is the part of store.Store the checks need.
type ProjectReader interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	CountTasks(ctx context.Context, f store.TaskFilter) (int64, error)
}

// Project loads the project and checks the caller against it. A missing
// project yields store.ErrNotFound before any access decision.
func Project(ctx context.Context, st ProjectReader, caller *store.User, projectID string) (*store.Project, error) {
	p, err := st.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	ok, err := CanAccessProject(caller, p, func() (bool, error) {
		n, err := st.CountTasks(ctx, store.TaskFilter{ProjectID: p.ID, AssigneeID: caller.ID})
		return n > 0, err
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return p, nil
}
