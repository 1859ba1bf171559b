package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyri56xcaesar/pms-kanban/internal/store"
)

func newTickingStore() *Store {
	s := New()
	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.Now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return s
}

func mustUser(t *testing.T, s *Store, name, email string, role store.Role) store.User {
	t.Helper()
	u := store.User{Name: name, Email: email, Role: role, PasswordHash: "x"}
	require.NoError(t, s.CreateUser(context.Background(), &u))
	return u
}

func TestCreateUserConflict(t *testing.T) {
	s := newTickingStore()
	mustUser(t, s, "Ana", "Ana@Example.com", store.RoleMember)

	dup := store.User{Name: "Other", Email: " ana@example.com", Role: store.RoleMember}
	err := s.CreateUser(context.Background(), &dup)
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetUserByEmail(context.Background(), "ANA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
}

func TestProjectKeyUnique(t *testing.T) {
	ctx := context.Background()
	s := newTickingStore()
	admin := mustUser(t, s, "Root", "root@example.com", store.RoleAdmin)

	p := store.Project{Name: "Alpha", Key: "alp", CreatedByID: admin.ID}
	require.NoError(t, s.CreateProject(ctx, &p))
	assert.Equal(t, "ALP", p.Key)
	require.NotNil(t, p.CreatedBy)
	assert.Equal(t, "Root", p.CreatedBy.Name)

	other := store.Project{Name: "Beta", Key: "ALP", CreatedByID: admin.ID}
	assert.ErrorIs(t, s.CreateProject(ctx, &other), store.ErrConflict)

	beta := store.Project{Name: "Beta", Key: "BET", CreatedByID: admin.ID}
	require.NoError(t, s.CreateProject(ctx, &beta))
	key := "alp"
	_, err := s.UpdateProject(ctx, beta.ID, store.ProjectUpdate{Key: &key})
	assert.ErrorIs(t, err, store.ErrConflict)

	// renaming to its own key is fine
	own := "bet"
	_, err = s.UpdateProject(ctx, beta.ID, store.ProjectUpdate{Key: &own})
	assert.NoError(t, err)
}

func TestListProjectsVisibility(t *testing.T) {
	ctx := context.Background()
	s := newTickingStore()
	admin := mustUser(t, s, "Root", "root@example.com", store.RoleAdmin)
	member := mustUser(t, s, "Mia", "mia@example.com", store.RoleMember)
	assignee := mustUser(t, s, "Ike", "ike@example.com", store.RoleMember)

	withMember := store.Project{Name: "Members", Key: "MEM", CreatedByID: admin.ID, MemberIDs: []string{member.ID}}
	require.NoError(t, s.CreateProject(ctx, &withMember))
	withTask := store.Project{Name: "Tasks", Key: "TSK", CreatedByID: admin.ID}
	require.NoError(t, s.CreateProject(ctx, &withTask))
	hidden := store.Project{Name: "Hidden", Key: "HID", CreatedByID: admin.ID}
	require.NoError(t, s.CreateProject(ctx, &hidden))

	task := store.Task{ProjectID: withTask.ID, Title: "t", Status: store.StatusTodo, Priority: store.PriorityLow,
		AssigneeID: assignee.ID, CreatedByID: admin.ID}
	require.NoError(t, s.CreateTask(ctx, &task))

	all, total, err := s.ListProjects(ctx, store.ProjectFilter{Page: store.NewPage(1, 10)})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, "HID", all[0].Key, "newest first")

	mine, total, err := s.ListProjects(ctx, store.ProjectFilter{VisibleTo: member.ID, Page: store.NewPage(1, 10)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "MEM", mine[0].Key)
	require.Len(t, mine[0].Members, 1)
	assert.Equal(t, "mia@example.com", mine[0].Members[0].Email)

	assigned, _, err := s.ListProjects(ctx, store.ProjectFilter{VisibleTo: assignee.ID, Page: store.NewPage(1, 10)})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, "TSK", assigned[0].Key)

	searched, _, err := s.ListProjects(ctx, store.ProjectFilter{Query: "hid", Page: store.NewPage(1, 10)})
	require.NoError(t, err)
	require.Len(t, searched, 1)
	assert.Equal(t, "Hidden", searched[0].Name)
}

func TestTaskFiltersAndPaging(t *testing.T) {
	ctx := context.Background()
	s := newTickingStore()
	admin := mustUser(t, s, "Root", "root@example.com", store.RoleAdmin)
	bob := mustUser(t, s, "Bob", "bob@example.com", store.RoleMember)

	p := store.Project{Name: "Board", Key: "BRD", CreatedByID: admin.ID}
	require.NoError(t, s.CreateProject(ctx, &p))

	day := func(d int) *time.Time {
		v := time.Date(2026, 2, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	seed := []store.Task{
		{Title: "Write docs", Status: store.StatusTodo, Priority: store.PriorityLow, DueDate: day(1)},
		{Title: "Fix login", Description: "Crash on EMPTY password", Status: store.StatusInProgress, Priority: store.PriorityHigh, AssigneeID: bob.ID, DueDate: day(5)},
		{Title: "Release", Status: store.StatusDone, Priority: store.PriorityMedium, AssigneeID: bob.ID, DueDate: day(10)},
		{Title: "Backlog item", Status: store.StatusTodo, Priority: store.PriorityMedium},
		{Title: "Plan sprint", Status: store.StatusTodo, Priority: store.PriorityHigh, DueDate: day(3)},
	}
	for i := range seed {
		seed[i].ProjectID = p.ID
		seed[i].CreatedByID = admin.ID
		require.NoError(t, s.CreateTask(ctx, &seed[i]))
	}

	list := func(f store.TaskFilter) ([]store.Task, int64) {
		t.Helper()
		f.ProjectID = p.ID
		items, total, err := s.ListTasks(ctx, f)
		require.NoError(t, err)
		return items, total
	}

	items, total := list(store.TaskFilter{Page: store.NewPage(1, 2)})
	assert.EqualValues(t, 5, total)
	require.Len(t, items, 2)
	assert.Equal(t, "Plan sprint", items[0].Title)

	items, _ = list(store.TaskFilter{Page: store.NewPage(3, 2)})
	require.Len(t, items, 1)
	assert.Equal(t, "Write docs", items[0].Title)

	_, total = list(store.TaskFilter{Status: store.StatusTodo})
	assert.EqualValues(t, 3, total)

	items, total = list(store.TaskFilter{AssigneeID: bob.ID, Priority: store.PriorityHigh})
	assert.EqualValues(t, 1, total)
	require.NotNil(t, items[0].Assignee)
	assert.Equal(t, "Bob", items[0].Assignee.Name)

	_, total = list(store.TaskFilter{Unassigned: true})
	assert.EqualValues(t, 3, total)

	items, _ = list(store.TaskFilter{Query: "empty"})
	require.Len(t, items, 1)
	assert.Equal(t, "Fix login", items[0].Title)

	items, total = list(store.TaskFilter{DueFrom: day(3), DueTo: day(5), Sort: store.SortDueAsc})
	assert.EqualValues(t, 2, total)
	assert.Equal(t, "Plan sprint", items[0].Title)
	assert.Equal(t, "Fix login", items[1].Title)

	items, _ = list(store.TaskFilter{Sort: store.SortDueDesc})
	assert.Equal(t, "Release", items[0].Title)
	assert.Equal(t, "Backlog item", items[4].Title, "tasks without a due date sort last")

	items, _ = list(store.TaskFilter{Sort: store.SortPriorityDesc})
	assert.Equal(t, store.PriorityHigh, items[0].Priority)
	assert.Equal(t, store.PriorityLow, items[4].Priority)
}

func TestUpdateTaskAndCascade(t *testing.T) {
	ctx := context.Background()
	s := newTickingStore()
	admin := mustUser(t, s, "Root", "root@example.com", store.RoleAdmin)

	p := store.Project{Name: "Board", Key: "BRD", CreatedByID: admin.ID}
	require.NoError(t, s.CreateProject(ctx, &p))

	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	task := store.Task{ProjectID: p.ID, Title: "One", Status: store.StatusTodo, Priority: store.PriorityLow,
		AssigneeID: admin.ID, DueDate: &due, CreatedByID: admin.ID}
	require.NoError(t, s.CreateTask(ctx, &task))

	done := store.StatusDone
	none := ""
	updated, err := s.UpdateTask(ctx, task.ID, store.TaskUpdate{Status: &done, AssigneeID: &none, ClearDueDate: true})
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, updated.Status)
	assert.Nil(t, updated.Assignee)
	assert.Nil(t, updated.DueDate)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	n, err := s.DeleteProject(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMembership(t *testing.T) {
	ctx := context.Background()
	s := newTickingStore()
	admin := mustUser(t, s, "Root", "root@example.com", store.RoleAdmin)
	mia := mustUser(t, s, "Mia", "mia@example.com", store.RoleMember)

	p := store.Project{Name: "Board", Key: "BRD", CreatedByID: admin.ID}
	require.NoError(t, s.CreateProject(ctx, &p))

	got, err := s.AddMembers(ctx, p.ID, []string{mia.ID, mia.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{mia.ID}, got.MemberIDs)

	got, err = s.RemoveMember(ctx, p.ID, mia.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MemberIDs)

	_, err = s.RemoveMember(ctx, p.ID, mia.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSortTasksStrictOrder(t *testing.T) {
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	due := at.Add(48 * time.Hour)
	tasks := []store.Task{
		{ID: "a", CreatedAt: at, Priority: store.PriorityLow},
		{ID: "b", CreatedAt: at, Priority: store.PriorityHigh, DueDate: &due},
		{ID: "c", CreatedAt: at.Add(time.Minute), Priority: store.PriorityLow},
	}

	ids := func(order string) []string {
		sorted := append([]store.Task{}, tasks...)
		sortTasks(sorted, order)
		out := make([]string, 0, len(sorted))
		for _, tk := range sorted {
			out = append(out, tk.ID)
		}
		return out
	}

	assert.Equal(t, []string{"c", "b", "a"}, ids(store.SortCreatedDesc))
	assert.Equal(t, []string{"a", "b", "c"}, ids(store.SortCreatedAsc))
	assert.Equal(t, []string{"b", "c", "a"}, ids(store.SortDueAsc))
	assert.Equal(t, []string{"b", "c", "a"}, ids(store.SortPriorityDesc))

	orders := []string{"", store.SortCreatedDesc, store.SortCreatedAsc, store.SortDueAsc, store.SortDueDesc, store.SortPriorityDesc}
	for _, order := range orders {
		less := taskLess(order)
		for _, a := range tasks {
			assert.False(t, less(a, a), "order %q: %s before itself", order, a.ID)
			for _, b := range tasks {
				if a.ID != b.ID {
					assert.NotEqual(t, less(a, b), less(b, a), "order %q: %s vs %s", order, a.ID, b.ID)
				}
			}
		}
	}
}
