package mtask

import (
	"math"
	"sort"
	"time"

	"kyri56xcaesar/pms-kanban/internal/store"
)

// dueSoonWindow is how far ahead an open task counts as due soon.
const dueSoonWindow = 7 * 24 * time.Hour

type AssigneeCount struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Count  int64  `json:"count"`
}

type Summary struct {
	ProjectID      string                   `json:"projectId"`
	Total          int64                    `json:"total"`
	ByStatus       map[store.Status]int64   `json:"byStatus"`
	ByPriority     map[store.Priority]int64 `json:"byPriority"`
	Overdue        int64                    `json:"overdue"`
	DueSoon        int64                    `json:"dueSoon"`
	Unassigned     int64                    `json:"unassigned"`
	CompletionRate float64                  `json:"completionRate"`
	ByAssignee     []AssigneeCount          `json:"byAssignee"`
	GeneratedAt    time.Time                `json:"generatedAt"`
}

// Summarize computes the dashboard figures for the tasks of one project.
// Overdue and due-soon only count tasks that are not done.
func Summarize(projectID string, tasks []store.Task, now time.Time) Summary {
	s := Summary{
		ProjectID:   projectID,
		Total:       int64(len(tasks)),
		ByStatus:    make(map[store.Status]int64, len(store.Statuses)),
		ByPriority:  make(map[store.Priority]int64, len(store.Priorities)),
		ByAssignee:  []AssigneeCount{},
		GeneratedAt: now.UTC(),
	}
	for _, st := range store.Statuses {
		s.ByStatus[st] = 0
	}
	for _, p := range store.Priorities {
		s.ByPriority[p] = 0
	}

	soon := now.Add(dueSoonWindow)
	assignees := make(map[string]*AssigneeCount)

	for _, t := range tasks {
		s.ByStatus[t.Status]++
		s.ByPriority[t.Priority]++

		if t.AssigneeID == "" {
			s.Unassigned++
		} else {
			ac, ok := assignees[t.AssigneeID]
			if !ok {
				ac = &AssigneeCount{UserID: t.AssigneeID}
				if t.Assignee != nil {
					ac.Name = t.Assignee.Name
				}
				assignees[t.AssigneeID] = ac
			}
			ac.Count++
		}

		if t.DueDate == nil || t.Status == store.StatusDone {
			continue
		}
		switch {
		case t.DueDate.Before(now):
			s.Overdue++
		case !t.DueDate.After(soon):
			s.DueSoon++
		}
	}

	if s.Total > 0 {
		rate := float64(s.ByStatus[store.StatusDone]) / float64(s.Total)
		s.CompletionRate = math.Round(rate*10000) / 10000
	}

	for _, ac := range assignees {
		s.ByAssignee = append(s.ByAssignee, *ac)
	}
	sort.Slice(s.ByAssignee, func(i, j int) bool {
		a, b := s.ByAssignee[i], s.ByAssignee[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.UserID < b.UserID
	})

	return s
}
