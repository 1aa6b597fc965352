package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"tally/api/internal/store"
	"tally/api/internal/util"
)

// maxParentDepth bounds the ancestor walk when validating a task's parent.
// Chains deeper than this are treated as cycles.
const maxParentDepth = 64

func (s *Service) ListProjects(ctx context.Context, userID string) ([]store.Project, error) {
	return s.store.ListProjects(ctx, userID)
}

func (s *Service) CreateProject(ctx context.Context, userID, name string) (store.Project, error) {
	return s.store.InsertProject(ctx, store.Project{
		ID:     util.NewID("proj"),
		UserID: userID,
		Name:   name,
	})
}

func (s *Service) GetProject(ctx context.Context, userID, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, userID, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, domainError(http.StatusNotFound, "Project not found")
	}
	if err != nil {
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) UpdateProject(ctx context.Context, userID, projectID, name string) (store.Project, error) {
	project, err := s.store.UpdateProject(ctx, userID, projectID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, domainError(http.StatusNotFound, "Project not found")
	}
	if err != nil {
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) DeleteProject(ctx context.Context, userID, projectID string) error {
	err := s.store.DeleteProject(ctx, userID, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "Project not found")
	}
	return err
}

func (s *Service) ListSections(ctx context.Context, userID, projectID string) ([]store.Section, error) {
	return s.store.ListSections(ctx, userID, projectID)
}

// CreateSection validates that the target project belongs to the caller
// before inserting. A foreign project is reported exactly like a missing one.
func (s *Service) CreateSection(ctx context.Context, userID, name, projectID string) (store.Section, error) {
	if _, err := s.store.GetProject(ctx, userID, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Section{}, domainError(http.StatusNotFound, "Project not found or access denied")
		}
		return store.Section{}, err
	}
	return s.store.InsertSection(ctx, store.Section{
		ID:        util.NewID("sect"),
		ProjectID: projectID,
		Name:      name,
	})
}

func (s *Service) GetSection(ctx context.Context, userID, sectionID string) (store.Section, error) {
	section, err := s.store.GetSection(ctx, userID, sectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Section{}, domainError(http.StatusNotFound, "Section not found")
	}
	if err != nil {
		return store.Section{}, err
	}
	return section, nil
}

// UpdateSection renames a section and optionally moves it to another project.
// Both the section and any new project must resolve to the caller.
func (s *Service) UpdateSection(ctx context.Context, userID, sectionID, name string, projectID *string) (store.Section, error) {
	current, err := s.store.GetSection(ctx, userID, sectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Section{}, domainError(http.StatusNotFound, "Section not found or access denied")
	}
	if err != nil {
		return store.Section{}, err
	}

	if projectID != nil && *projectID != current.ProjectID {
		if _, err := s.store.GetProject(ctx, userID, *projectID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Section{}, domainError(http.StatusNotFound, "Project not found or access denied")
			}
			return store.Section{}, err
		}
	}

	section, err := s.store.UpdateSection(ctx, userID, sectionID, name, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Section{}, domainError(http.StatusNotFound, "Section not found or access denied")
	}
	if err != nil {
		return store.Section{}, err
	}
	return section, nil
}

func (s *Service) DeleteSection(ctx context.Context, userID, sectionID string) error {
	err := s.store.DeleteSection(ctx, userID, sectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "Section not found or access denied")
	}
	return err
}

func (s *Service) ListTasks(ctx context.Context, userID string, filter store.TaskFilter) ([]store.Task, error) {
	return s.store.ListTasks(ctx, userID, filter)
}

// CreateTask validates the section and optional parent task against the
// caller's ownership chain before inserting.
func (s *Service) CreateTask(ctx context.Context, userID string, task store.Task) (store.Task, error) {
	if _, err := s.store.GetSection(ctx, userID, task.SectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, domainError(http.StatusNotFound, "Section not found or access denied")
		}
		return store.Task{}, err
	}
	if task.ParentTaskID != nil {
		if _, err := s.store.GetTask(ctx, userID, *task.ParentTaskID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Task{}, domainError(http.StatusNotFound, "Parent task not found or access denied")
			}
			return store.Task{}, err
		}
	}
	task.ID = util.NewID("task")
	return s.store.InsertTask(ctx, task)
}

func (s *Service) GetTask(ctx context.Context, userID, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, userID, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, domainError(http.StatusNotFound, "Task not found")
	}
	if err != nil {
		return store.Task{}, err
	}
	return task, nil
}

// UpdateTask applies a partial update. A new section or parent is revalidated
// against the caller before committing; parent assignments that would
// self-reference or close a cycle are rejected.
func (s *Service) UpdateTask(ctx context.Context, userID, taskID string, upd store.TaskUpdate) (store.Task, error) {
	if _, err := s.store.GetTask(ctx, userID, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, domainError(http.StatusNotFound, "Task not found or access denied")
		}
		return store.Task{}, err
	}

	if upd.SectionID != nil {
		if _, err := s.store.GetSection(ctx, userID, *upd.SectionID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Task{}, domainError(http.StatusNotFound, "Section not found or access denied")
			}
			return store.Task{}, err
		}
	}

	if upd.ParentTaskID != nil && !upd.ClearParent {
		if err := s.checkParentChain(ctx, userID, taskID, *upd.ParentTaskID); err != nil {
			return store.Task{}, err
		}
	}

	task, err := s.store.UpdateTask(ctx, userID, taskID, upd)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, domainError(http.StatusNotFound, "Task not found or access denied")
	}
	if err != nil {
		return store.Task{}, err
	}
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	err := s.store.DeleteTask(ctx, userID, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "Task not found or access denied")
	}
	return err
}

// checkParentChain verifies the proposed parent belongs to the caller and
// that walking its ancestors never reaches the task being updated.
func (s *Service) checkParentChain(ctx context.Context, userID, taskID, parentID string) error {
	if parentID == taskID {
		return domainError(http.StatusBadRequest, "Task cannot be its own parent")
	}

	current := parentID
	for depth := 0; ; depth++ {
		if depth >= maxParentDepth {
			return domainError(http.StatusBadRequest, "Parent assignment would create a cycle")
		}
		parent, err := s.store.GetTask(ctx, userID, current)
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "Parent task not found or access denied")
		}
		if err != nil {
			return err
		}
		if parent.ParentTaskID == nil {
			return nil
		}
		current = *parent.ParentTaskID
		if current == taskID {
			return domainError(http.StatusBadRequest, "Parent assignment would create a cycle")
		}
	}
}
