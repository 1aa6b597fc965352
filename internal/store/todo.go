package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Every query in this file scopes rows to the calling user by joining the
// ownership chain (tasks -> sections -> projects -> user_id) inside the SQL.
// A row owned by someone else scans identically to a missing row.

func (s *PostgresStore) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, created_at
		FROM projects
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, userID, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at
		FROM projects
		WHERE id=$1 AND user_id=$2
	`, projectID, userID).Scan(&item.ID, &item.UserID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, user_id, name)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, name, created_at
	`, project.ID, project.UserID, project.Name).Scan(&item.ID, &item.UserID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, userID, projectID, name string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET name=$3
		WHERE id=$1 AND user_id=$2
		RETURNING id, user_id, name, created_at
	`, projectID, userID, name).Scan(&item.ID, &item.UserID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, userID, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1 AND user_id=$2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListSections returns all sections under projects owned by the user,
// optionally narrowed to one project. Empty projectID means no filter.
func (s *PostgresStore) ListSections(ctx context.Context, userID, projectID string) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sec.id, sec.project_id, sec.name, sec.created_at
		FROM sections sec
		JOIN projects p ON p.id = sec.project_id
		WHERE p.user_id=$1
		  AND ($2='' OR sec.project_id=$2)
		ORDER BY sec.created_at ASC
	`, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	items := make([]Section, 0)
	for rows.Next() {
		var item Section
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSection(ctx context.Context, userID, sectionID string) (Section, error) {
	var item Section
	err := s.db.QueryRowContext(ctx, `
		SELECT sec.id, sec.project_id, sec.name, sec.created_at
		FROM sections sec
		JOIN projects p ON p.id = sec.project_id
		WHERE sec.id=$1 AND p.user_id=$2
	`, sectionID, userID).Scan(&item.ID, &item.ProjectID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Section{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertSection(ctx context.Context, section Section) (Section, error) {
	var item Section
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sections (id, project_id, name)
		VALUES ($1, $2, $3)
		RETURNING id, project_id, name, created_at
	`, section.ID, section.ProjectID, section.Name).Scan(&item.ID, &item.ProjectID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Section{}, fmt.Errorf("insert section: %w", err)
	}
	return item, nil
}

// UpdateSection renames a section and optionally re-parents it. The caller
// must have verified that any new project belongs to the same user; the
// ownership join here still pins the section itself to the caller.
func (s *PostgresStore) UpdateSection(ctx context.Context, userID, sectionID, name string, projectID *string) (Section, error) {
	var item Section
	err := s.db.QueryRowContext(ctx, `
		UPDATE sections sec
		SET name=$3, project_id=COALESCE($4::text, sec.project_id)
		FROM projects p
		WHERE sec.id=$1 AND p.id=sec.project_id AND p.user_id=$2
		RETURNING sec.id, sec.project_id, sec.name, sec.created_at
	`, sectionID, userID, name, projectID).Scan(&item.ID, &item.ProjectID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Section{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteSection(ctx context.Context, userID, sectionID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sections sec
		USING projects p
		WHERE sec.id=$1 AND p.id=sec.project_id AND p.user_id=$2
	`, sectionID, userID)
	if err != nil {
		return fmt.Errorf("delete section: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete section rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const taskColumns = `t.id, t.section_id, t.title, t.parent_task_id, t.due_date, t.is_completed, t.created_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var task Task
	err := row.Scan(&task.ID, &task.SectionID, &task.Title, &task.ParentTaskID, &task.DueDate, &task.IsCompleted, &task.CreatedAt)
	return task, err
}

func (s *PostgresStore) ListTasks(ctx context.Context, userID string, filter TaskFilter) ([]Task, error) {
	hasParentFilter := filter.ParentTaskID != nil
	parentID := ""
	if hasParentFilter {
		parentID = *filter.ParentTaskID
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN sections sec ON sec.id = t.section_id
		JOIN projects p ON p.id = sec.project_id
		WHERE p.user_id=$1
		  AND ($2='' OR t.section_id=$2)
		  AND ($3='' OR sec.project_id=$3)
		  AND (NOT $4::boolean OR CASE WHEN $5='' THEN t.parent_task_id IS NULL ELSE t.parent_task_id=$5 END)
		  AND ($6::boolean IS NULL OR t.is_completed=$6)
		ORDER BY t.created_at ASC
	`, userID, filter.SectionID, filter.ProjectID, hasParentFilter, parentID, filter.IsCompleted)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, userID, taskID string) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN sections sec ON sec.id = t.section_id
		JOIN projects p ON p.id = sec.project_id
		WHERE t.id=$1 AND p.user_id=$2
	`, taskID, userID))
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) (Task, error) {
	item, err := scanTask(s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, section_id, title, parent_task_id, due_date, is_completed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, section_id, title, parent_task_id, due_date, is_completed, created_at
	`, task.ID, task.SectionID, task.Title, task.ParentTaskID, task.DueDate, task.IsCompleted))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return item, nil
}

// UpdateTask applies the present fields. Foreign key targets must already be
// verified against the caller; the join pins the task itself.
func (s *PostgresStore) UpdateTask(ctx context.Context, userID, taskID string, upd TaskUpdate) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `
		UPDATE tasks t
		SET title = COALESCE($3::text, t.title),
		    section_id = COALESCE($4::text, t.section_id),
		    parent_task_id = CASE WHEN $5::boolean THEN NULL ELSE COALESCE($6::text, t.parent_task_id) END,
		    due_date = CASE WHEN $7::boolean THEN NULL ELSE COALESCE($8::timestamptz, t.due_date) END,
		    is_completed = COALESCE($9::boolean, t.is_completed)
		FROM sections sec
		JOIN projects p ON p.id = sec.project_id
		WHERE t.id=$1 AND sec.id = t.section_id AND p.user_id=$2
		RETURNING `+taskColumns+`
	`, taskID, userID, upd.Title, upd.SectionID, upd.ClearParent, upd.ParentTaskID, upd.ClearDueDate, upd.DueDate, upd.IsCompleted))
}

func (s *PostgresStore) DeleteTask(ctx context.Context, userID, taskID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks t
		USING sections sec, projects p
		WHERE t.id=$1 AND sec.id=t.section_id AND p.id=sec.project_id AND p.user_id=$2
	`, taskID, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
