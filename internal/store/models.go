package store

import "time"

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// APIKey is a metered bearer credential. Limit is nil for unlimited keys;
// Usage is mutated only by AdmitAPIKey.
type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Usage     int       `json:"usage"`
	Limit     *int      `json:"limit"`
	CreatedAt time.Time `json:"created_at"`
}

type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Section struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Task struct {
	ID           string     `json:"id"`
	SectionID    string     `json:"section_id"`
	Title        string     `json:"title"`
	ParentTaskID *string    `json:"parent_task_id"`
	DueDate      *time.Time `json:"due_date"`
	IsCompleted  bool       `json:"is_completed"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TaskFilter narrows ListTasks. A nil pointer means "no filter"; an empty
// ParentTaskID selects top-level tasks (parent IS NULL).
type TaskFilter struct {
	SectionID    string
	ProjectID    string
	ParentTaskID *string
	IsCompleted  *bool
}

// TaskUpdate carries the fields present in a partial task update. Clear
// flags distinguish "set to NULL" from "not mentioned".
type TaskUpdate struct {
	Title        *string
	SectionID    *string
	ParentTaskID *string
	ClearParent  bool
	DueDate      *time.Time
	ClearDueDate bool
	IsCompleted  *bool
}
