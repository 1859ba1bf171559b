package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyri56xcaesar/pms-kanban/internal/access"
	"kyri56xcaesar/pms-kanban/internal/store"
)

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"assigneeId": "assignee_id",
		"AssigneeID": "assignee_id",
		"dueDate":    "due_date",
		"name":       "name",
		"memberIds":  "member_ids",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToSnakeCase(in), in)
	}
}

func TestMapFilter(t *testing.T) {
	doubled := Map([]int{1, 2, 3}, func(i int) int { return i * 2 })
	assert.Equal(t, []int{2, 4, 6}, doubled)

	even := Filter([]int{1, 2, 3, 4}, func(i int) bool { return i%2 == 0 })
	assert.Equal(t, []int{2, 4}, even)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), d)

	end, err := ParseDate("2026-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, 2026, end.Year())
	assert.Equal(t, 23, end.Hour())

	ts, err := ParseDate("2026-03-01T10:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, 8, ts.Hour())

	_, err = ParseDate("yesterday", false)
	assert.Error(t, err)
}

func TestValidProjectKey(t *testing.T) {
	assert.True(t, ValidProjectKey("OPS"))
	assert.True(t, ValidProjectKey("web-2"))
	assert.False(t, ValidProjectKey("A"))
	assert.False(t, ValidProjectKey("1ABC"))
	assert.False(t, ValidProjectKey("THIS_KEY_IS_FAR_TOO_LONG"))
}

type sample struct {
	Name     string `json:"name" binding:"required"`
	Key      string `json:"key" binding:"omitempty,projectkey"`
	Status   string `json:"status" binding:"omitempty,taskstatus"`
	Priority string `json:"priority" binding:"omitempty,taskpriority"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

func TestValidationDetails(t *testing.T) {
	RegisterValidators()

	err := binding.Validator.ValidateStruct(&sample{Key: "x", Status: "later", Priority: "urgent", Limit: 500})
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	details := ValidationDetails(verrs)

	assert.Contains(t, details, "name is required")
	assert.Contains(t, details, "status must be one of todo, in_progress, done")
	assert.Contains(t, details, "priority must be one of low, medium, high")
	assert.Contains(t, details, "limit must be at most 100")
	assert.Len(t, details, 5)
}

func TestErrorBody(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("project x: %w", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("project key X: %w", store.ErrConflict), http.StatusConflict},
		{access.ErrForbidden, http.StatusForbidden},
		{BadRequest("nope"), http.StatusBadRequest},
		{NotImplemented("off"), http.StatusNotImplemented},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, body := errorBody(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.NotEmpty(t, body["error"])
	}

	_, body := errorBody(errors.New("secret detail"))
	assert.Equal(t, "internal error", body["error"])
}
