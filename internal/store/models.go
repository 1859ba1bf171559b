package store

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Statuses lists every task status in board order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

func (s Status) Valid() bool {
	return s == StatusTodo || s == StatusInProgress || s == StatusDone
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Rank orders priorities for sorting, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserRef is the populated form of a user reference.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Description string    `json:"description"`
	MemberIDs   []string  `json:"memberIds"`
	Members     []UserRef `json:"members"`
	CreatedByID string    `json:"createdById"`
	CreatedBy   *UserRef  `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (p *Project) HasMember(userID string) bool {
	for _, id := range p.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	Assignee    *UserRef   `json:"assignee,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedByID string     `json:"createdById"`
	CreatedBy   *UserRef   `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type UserFilter struct {
	Query string
	Page  Page
}

type ProjectFilter struct {
	Query string
	// VisibleTo restricts the listing to projects the user is a member of
	// or holds an assigned task in. Empty means every project.
	VisibleTo string
	Page      Page
}

const (
	SortCreatedDesc  = "created_desc"
	SortCreatedAsc   = "created_asc"
	SortDueAsc       = "due_asc"
	SortDueDesc      = "due_desc"
	SortPriorityDesc = "priority_desc"
)

func ValidTaskSort(s string) bool {
	switch s {
	case "", SortCreatedDesc, SortCreatedAsc, SortDueAsc, SortDueDesc, SortPriorityDesc:
		return true
	}
	return false
}

type TaskFilter struct {
	ProjectID  string
	Status     Status
	Priority   Priority
	AssigneeID string
	Unassigned bool
	Query      string
	DueFrom    *time.Time
	DueTo      *time.Time
	Sort       string
	// a zero Page returns every match
	Page Page
}

type ProjectUpdate struct {
	Name        *string
	Key         *string
	Description *string
}

func (u ProjectUpdate) Empty() bool {
	return u.Name == nil && u.Key == nil && u.Description == nil
}

type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *Status
	Priority    *Priority
	// AssigneeID set to "" unassigns
	AssigneeID   *string
	DueDate      *time.Time
	ClearDueDate bool
}

func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil && u.Priority == nil &&
		u.AssigneeID == nil && u.DueDate == nil && !u.ClearDueDate
}
