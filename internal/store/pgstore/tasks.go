package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"kyri56xcaesar/pms-kanban/internal/store"
)

const taskSelect = `
	SELECT t.id, t.project_id, t.title, t.description, t.status, t.priority,
	       COALESCE(t.assignee_id, ''), t.due_date, COALESCE(t.created_by, ''),
	       t.created_at, t.updated_at,
	       a.name, a.email, c.name, c.email
	FROM tasks t
	LEFT JOIN users a ON a.id = t.assignee_id
	LEFT JOIN users c ON c.id = t.created_by
`

func scanTask(row pgx.Row) (*store.Task, error) {
	var (
		t                         store.Task
		due                       *time.Time
		assigneeName, assigneeEm  *string
		creatorName, creatorEmail *string
	)
	if err := row.Scan(
		&t.ID,
		&t.ProjectID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Priority,
		&t.AssigneeID,
		&due,
		&t.CreatedByID,
		&t.CreatedAt,
		&t.UpdatedAt,
		&assigneeName,
		&assigneeEm,
		&creatorName,
		&creatorEmail,
	); err != nil {
		return nil, err
	}

	if due != nil {
		d := due.UTC()
		t.DueDate = &d
	}
	if assigneeName != nil {
		t.Assignee = &store.UserRef{ID: t.AssigneeID, Name: *assigneeName, Email: deref(assigneeEm)}
	}
	if creatorName != nil {
		t.CreatedBy = &store.UserRef{ID: t.CreatedByID, Name: *creatorName, Email: deref(creatorEmail)}
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t *store.Task) error {
	now := s.Now()
	id := uuid.NewString()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, priority, assignee_id, due_date, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, $10)
	`, id, t.ProjectID, t.Title, t.Description, t.Status, t.Priority, t.AssigneeID, t.DueDate, t.CreatedByID, now)
	if err != nil {
		return mapErr(err, "task in project "+t.ProjectID)
	}

	created, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	*t = *created
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*store.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, taskSelect+` WHERE t.id = $1`, id))
	return t, mapErr(err, "task "+id)
}

func taskWhere(f store.TaskFilter) *where {
	w := &where{}
	if f.ProjectID != "" {
		w.add("t.project_id = $%d", f.ProjectID)
	}
	if f.Status != "" {
		w.add("t.status = $%d", f.Status)
	}
	if f.Priority != "" {
		w.add("t.priority = $%d", f.Priority)
	}
	if f.Unassigned {
		w.conds = append(w.conds, "t.assignee_id IS NULL")
	} else if f.AssigneeID != "" {
		w.add("t.assignee_id = $%d", f.AssigneeID)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		w.add("(t.title ILIKE $%d OR t.description ILIKE $%[1]d)", likePattern(q))
	}
	if f.DueFrom != nil {
		w.add("t.due_date >= $%d", *f.DueFrom)
	}
	if f.DueTo != nil {
		w.add("t.due_date <= $%d", *f.DueTo)
	}
	return w
}

func taskOrderClause(order string) string {
	switch order {
	case store.SortCreatedAsc:
		return "t.created_at ASC, t.id ASC"
	case store.SortDueAsc:
		return "t.due_date ASC NULLS LAST, t.created_at DESC"
	case store.SortDueDesc:
		return "t.due_date DESC NULLS LAST, t.created_at DESC"
	case store.SortPriorityDesc:
		return "CASE t.priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC, t.created_at DESC"
	case store.SortCreatedDesc:
		fallthrough
	default:
		return "t.created_at DESC, t.id DESC"
	}
}

func (s *Store) ListTasks(ctx context.Context, f store.TaskFilter) ([]store.Task, int64, error) {
	w := taskWhere(f)

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tasks t `+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := taskSelect + w.clause() + ` ORDER BY ` + taskOrderClause(f.Sort) + w.paginate(f.Page)
	rows, err := s.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]store.Task, 0, f.Page.Limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

func (s *Store) CountTasks(ctx context.Context, f store.TaskFilter) (int64, error) {
	w := taskWhere(f)
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tasks t `+w.clause(), w.args...).Scan(&n)
	return n, err
}

func (s *Store) UpdateTask(ctx context.Context, id string, u store.TaskUpdate) (*store.Task, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 9)
	i := 1

	if u.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", i))
		args = append(args, *u.Title)
		i++
	}
	if u.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", i))
		args = append(args, *u.Description)
		i++
	}
	if u.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", i))
		args = append(args, *u.Status)
		i++
	}
	if u.Priority != nil {
		sets = append(sets, fmt.Sprintf("priority = $%d", i))
		args = append(args, *u.Priority)
		i++
	}
	if u.AssigneeID != nil {
		sets = append(sets, fmt.Sprintf("assignee_id = NULLIF($%d, '')", i))
		args = append(args, *u.AssigneeID)
		i++
	}
	if u.ClearDueDate {
		sets = append(sets, "due_date = NULL")
	} else if u.DueDate != nil {
		sets = append(sets, fmt.Sprintf("due_date = $%d", i))
		args = append(args, *u.DueDate)
		i++
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	sets = append(sets, fmt.Sprintf("updated_at = $%d", i))
	args = append(args, s.Now())
	i++

	args = append(args, id)
	q := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d", strings.Join(sets, ", "), i)

	ct, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err, "task "+id)
	}
	if ct.RowsAffected() == 0 {
		return nil, mapErr(pgx.ErrNoRows, "task "+id)
	}
	return s.GetTask(ctx, id)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "task "+id)
	}
	return nil
}
