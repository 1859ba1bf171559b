package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyri56xcaesar/pms-kanban/internal/store"
)

func TestWhereBuilder(t *testing.T) {
	w := taskWhere(store.TaskFilter{
		ProjectID: "p1",
		Status:    store.StatusDone,
		Query:     "50%_off",
	})

	assert.Equal(t,
		`WHERE t.project_id = $1 AND t.status = $2 AND (t.title ILIKE $3 OR t.description ILIKE $3)`,
		w.clause())
	assert.Equal(t, []any{"p1", store.StatusDone, `%50\%\_off%`}, w.args)

	assert.Equal(t, " LIMIT $4 OFFSET $5", w.paginate(store.Page{Page: 3, Limit: 10}))
	assert.Equal(t, 10, w.args[3])
	assert.Equal(t, 20, w.args[4])
}

func TestWhereUnassignedAndUnbounded(t *testing.T) {
	w := taskWhere(store.TaskFilter{ProjectID: "p1", Unassigned: true, AssigneeID: "ignored"})
	assert.Equal(t, `WHERE t.project_id = $1 AND t.assignee_id IS NULL`, w.clause())
	assert.Empty(t, w.paginate(store.Page{}))
	assert.Len(t, w.args, 1)

	assert.Empty(t, (&where{}).clause())
}

func TestTaskOrderClause(t *testing.T) {
	assert.Contains(t, taskOrderClause(""), "created_at DESC")
	assert.Contains(t, taskOrderClause(store.SortDueAsc), "NULLS LAST")
	assert.Contains(t, taskOrderClause("bogus"), "created_at DESC")
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/pms?sslmode=disable", DSN("u", "p", "db:5432", "pms", false))
}

// TestRoundTrip runs against a live database when PGSTORE_TEST_DSN is set.
func TestRoundTrip(t *testing.T) {
	dsn := os.Getenv("PGSTORE_TEST_DSN")
	if dsn == "" {
		t.Skip("PGSTORE_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer s.Close(ctx)

	suffix := time.Now().Format("150405.000000")
	admin := store.User{Name: "Root", Email: "root-" + suffix + "@example.com", Role: store.RoleAdmin}
	require.NoError(t, s.CreateUser(ctx, &admin))

	p := store.Project{Name: "Board", Key: "RT" + time.Now().Format("150405"), CreatedByID: admin.ID, MemberIDs: []string{admin.ID}}
	require.NoError(t, s.CreateProject(ctx, &p))
	require.Len(t, p.Members, 1)

	task := store.Task{ProjectID: p.ID, Title: "one", Status: store.StatusTodo, Priority: store.PriorityHigh,
		AssigneeID: admin.ID, CreatedByID: admin.ID}
	require.NoError(t, s.CreateTask(ctx, &task))
	require.NotNil(t, task.Assignee)

	items, total, err := s.ListTasks(ctx, store.TaskFilter{ProjectID: p.ID, Page: store.NewPage(1, 10)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, items, 1)

	n, err := s.DeleteProject(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
