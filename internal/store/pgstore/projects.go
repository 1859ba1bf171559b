package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"kyri56xcaesar/pms-kanban/internal/store"
)

const projectSelect = `
	SELECT
	  p.id,
	  p.name,
	  p.key,
	  p.description,
	  COALESCE(p.created_by, '') AS created_by,
	  p.created_at,
	  p.updated_at,
	  c.name,
	  c.email,

	  COALESCE(
	    json_agg(
	      json_build_object('id', u.id, 'name', u.name, 'email', u.email)
	      ORDER BY m.added_at, u.id
	    ) FILTER (WHERE u.id IS NOT NULL),
	    '[]'::json
	  ) AS members_json

	FROM projects p
	LEFT JOIN users c ON c.id = p.created_by
	LEFT JOIN project_members m ON m.project_id = p.id
	LEFT JOIN users u ON u.id = m.user_id
`

const projectGroup = ` GROUP BY p.id, c.name, c.email `

func scanProject(row pgx.Row) (*store.Project, error) {
	var (
		p            store.Project
		creatorName  *string
		creatorEmail *string
		membersJSON  []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Key,
		&p.Description,
		&p.CreatedByID,
		&p.CreatedAt,
		&p.UpdatedAt,
		&creatorName,
		&creatorEmail,
		&membersJSON,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(membersJSON, &p.Members); err != nil {
		return nil, fmt.Errorf("unmarshal members_json: %w", err)
	}
	p.MemberIDs = make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		p.MemberIDs = append(p.MemberIDs, m.ID)
	}
	if creatorName != nil {
		p.CreatedBy = &store.UserRef{ID: p.CreatedByID, Name: *creatorName, Email: deref(creatorEmail)}
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, p *store.Project) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := s.Now()
	id := uuid.NewString()
	key := store.NormalizeKey(p.Key)

	_, err = tx.Exec(ctx, `
		INSERT INTO projects (id, name, key, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $6)
	`, id, strings.TrimSpace(p.Name), key, p.Description, p.CreatedByID, now)
	if err != nil {
		return mapErr(err, "project key "+key)
	}

	if members := store.Dedupe(p.MemberIDs); len(members) > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO project_members (project_id, user_id, added_at)
			SELECT $1, m.user_id, $3::timestamptz + (m.ord * interval '1 microsecond')
			FROM unnest($2::text[]) WITH ORDINALITY AS m(user_id, ord)
			ON CONFLICT (project_id, user_id) DO NOTHING
		`, id, members, now)
		if err != nil {
			return mapErr(err, "project members")
		}
	}

	created, err := scanProject(tx.QueryRow(ctx, projectSelect+` WHERE p.id = $1`+projectGroup, id))
	if err != nil {
		return mapErr(err, "project "+id)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	*p = *created
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*store.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx, projectSelect+` WHERE p.id = $1`+projectGroup, id))
	return p, mapErr(err, "project "+id)
}

func (s *Store) ListProjects(ctx context.Context, f store.ProjectFilter) ([]store.Project, int64, error) {
	var w where
	if q := strings.TrimSpace(f.Query); q != "" {
		w.add("(p.name ILIKE $%d OR p.key ILIKE $%[1]d)", likePattern(q))
	}
	if f.VisibleTo != "" {
		// restrict to projects the user belongs to or holds a task in
		w.add(`(EXISTS (SELECT 1 FROM project_members vm WHERE vm.project_id = p.id AND vm.user_id = $%d)
		     OR EXISTS (SELECT 1 FROM tasks vt WHERE vt.project_id = p.id AND vt.assignee_id = $%[1]d))`, f.VisibleTo)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM projects p `+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := projectSelect + w.clause() + projectGroup + ` ORDER BY p.created_at DESC, p.id DESC` + w.paginate(f.Page)
	rows, err := s.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]store.Project, 0, f.Page.Limit)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateProject(ctx context.Context, id string, u store.ProjectUpdate) (*store.Project, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	i := 1

	if u.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", i))
		args = append(args, strings.TrimSpace(*u.Name))
		i++
	}
	if u.Key != nil {
		sets = append(sets, fmt.Sprintf("key = $%d", i))
		args = append(args, store.NormalizeKey(*u.Key))
		i++
	}
	if u.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", i))
		args = append(args, *u.Description)
		i++
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	sets = append(sets, fmt.Sprintf("updated_at = $%d", i))
	args = append(args, s.Now())
	i++

	args = append(args, id)
	q := fmt.Sprintf("UPDATE projects SET %s WHERE id = $%d", strings.Join(sets, ", "), i)

	ct, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err, "project key")
	}
	if ct.RowsAffected() == 0 {
		return nil, mapErr(pgx.ErrNoRows, "project "+id)
	}
	return s.GetProject(ctx, id)
}

func (s *Store) DeleteProject(ctx context.Context, id string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tasks, err := tx.Exec(ctx, `DELETE FROM tasks WHERE project_id = $1`, id)
	if err != nil {
		return 0, err
	}

	ct, err := tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	if ct.RowsAffected() == 0 {
		return 0, mapErr(pgx.ErrNoRows, "project "+id)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tasks.RowsAffected(), nil
}

func (s *Store) AddMembers(ctx context.Context, projectID string, userIDs []string) (*store.Project, error) {
	now := s.Now()
	members := store.Dedupe(userIDs)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `UPDATE projects SET updated_at = $2 WHERE id = $1`, projectID, now)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, mapErr(pgx.ErrNoRows, "project "+projectID)
	}

	if len(members) > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO project_members (project_id, user_id, added_at)
			SELECT $1, m.user_id, $3::timestamptz + (m.ord * interval '1 microsecond')
			FROM unnest($2::text[]) WITH ORDINALITY AS m(user_id, ord)
			ON CONFLICT (project_id, user_id) DO NOTHING
		`, projectID, members, now)
		if err != nil {
			return nil, mapErr(err, "project members")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetProject(ctx, projectID)
}

func (s *Store) RemoveMember(ctx context.Context, projectID, userID string) (*store.Project, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM project_members
		WHERE project_id = $1 AND user_id = $2
	`, projectID, userID)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, mapErr(pgx.ErrNoRows, "member "+userID+" of project "+projectID)
	}

	if _, err := s.pool.Exec(ctx, `UPDATE projects SET updated_at = $2 WHERE id = $1`, projectID, s.Now()); err != nil {
		return nil, err
	}
	return s.GetProject(ctx, projectID)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
