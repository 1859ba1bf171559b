package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyri56xcaesar/pms-kanban/internal/authmw"
	"kyri56xcaesar/pms-kanban/internal/events"
	"kyri56xcaesar/pms-kanban/internal/store"
	"kyri56xcaesar/pms-kanban/internal/store/memstore"
)

type harness struct {
	t      *testing.T
	engine *gin.Engine
	store  *memstore.Store
	tokens *authmw.TokenIssuer
	events *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := authmw.NewTokenIssuer([]byte("test-secret"), time.Hour, "test")
	require.NoError(t, err)

	h := &harness{
		t:      t,
		store:  memstore.New(),
		tokens: tokens,
		events: &events.Recorder{},
	}
	h.engine = NewEngine(Deps{Store: h.store, Tokens: tokens, Events: h.events})
	return h
}

// account creates a user directly in the store and returns a bearer token.
func (h *harness) account(name string, role store.Role) (*store.User, string) {
	h.t.Helper()
	u := &store.User{Name: name, Email: strings.ToLower(name) + "@example.com", Role: role}
	require.NoError(h.t, h.store.CreateUser(h.t.Context(), u))

	tok, _, err := h.tokens.Issue(*u)
	require.NoError(h.t, err)
	return u, tok
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()

	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (h *harness) project(token string, body gin.H) store.Project {
	h.t.Helper()
	w := h.do(http.MethodPost, "/projects", token, body)
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[store.Project](h.t, w)
}

func (h *harness) task(token, projectID string, body gin.H) store.Task {
	h.t.Helper()
	w := h.do(http.MethodPost, "/projects/"+projectID+"/tasks", token, body)
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[store.Task](h.t, w)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())
}

func TestRegisterAndLogin(t *testing.T) {
	h := newHarness(t)

	reg := gin.H{"name": "Ana", "email": "Ana@Example.com", "password": "s3cretpass"}
	w := h.do(http.MethodPost, "/auth/register", "", reg)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode[struct {
		User        store.User `json:"user"`
		AccessToken string     `json:"accessToken"`
	}](t, w)
	assert.Equal(t, "ana@example.com", body.User.Email)
	assert.Equal(t, store.RoleMember, body.User.Role)
	assert.NotEmpty(t, body.AccessToken)
	assert.NotContains(t, w.Body.String(), "s3cretpass")

	w = h.do(http.MethodPost, "/auth/register", "", reg)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodPost, "/auth/register", "", gin.H{
		"name": "Eve", "email": "eve@example.com", "password": "s3cretpass", "role": "admin",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodPost, "/auth/register", "", gin.H{"name": "Bob", "email": "not-an-email", "password": "x"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "details")

	w = h.do(http.MethodPost, "/auth/register", "", gin.H{"name": "  ", "email": "blank@example.com", "password": "s3cretpass"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/auth/login", "", gin.H{"email": "ana@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/auth/login", "", gin.H{"email": "ana@example.com", "password": "s3cretpass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[struct {
		AccessToken string `json:"accessToken"`
	}](t, w)

	w = h.do(http.MethodGet, "/auth/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body.User.ID, decode[store.User](t, w).ID)

	w = h.do(http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodGet, "/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProjectAccessRule(t *testing.T) {
	h := newHarness(t)
	_, admin := h.account("Admin", store.RoleAdmin)
	member, memberTok := h.account("Mia", store.RoleMember)
	_, outsiderTok := h.account("Otto", store.RoleMember)

	p := h.project(admin, gin.H{"name": "Web Site", "key": "WEB", "memberIds": []string{member.ID}})
	assert.Equal(t, "WEB", p.Key)
	require.Len(t, p.Members, 1)
	assert.Equal(t, "Mia", p.Members[0].Name)

	task := h.task(memberTok, p.ID, gin.H{"title": "Landing page"})
	assert.Equal(t, store.StatusTodo, task.Status)
	assert.Equal(t, store.PriorityMedium, task.Priority)

	reads := []string{
		"/projects/" + p.ID,
		"/projects/" + p.ID + "/tasks",
		"/projects/" + p.ID + "/summary",
		"/projects/" + p.ID + "/tasks/export.csv",
		"/tasks/" + task.ID,
	}
	for _, path := range reads {
		assert.Equal(t, http.StatusOK, h.do(http.MethodGet, path, admin, nil).Code, path)
		assert.Equal(t, http.StatusOK, h.do(http.MethodGet, path, memberTok, nil).Code, path)
		assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, path, outsiderTok, nil).Code, path)
	}

	w := h.do(http.MethodPost, "/projects/"+p.ID+"/tasks", outsiderTok, gin.H{"title": "sneaky"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = h.do(http.MethodPatch, "/tasks/"+task.ID, outsiderTok, gin.H{"title": "sneaky"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// missing resources are reported before access
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/projects/nope", outsiderTok, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/tasks/nope", outsiderTok, nil).Code)

	// admin-only project writes
	w = h.do(http.MethodPost, "/projects", memberTok, gin.H{"name": "Mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = h.do(http.MethodDelete, "/projects/"+p.ID, memberTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	list := decode[store.Result[store.Project]](t, h.do(http.MethodGet, "/projects", outsiderTok, nil))
	assert.Zero(t, list.Total)
	list = decode[store.Result[store.Project]](t, h.do(http.MethodGet, "/projects", memberTok, nil))
	assert.EqualValues(t, 1, list.Total)
}

func TestAssigneeGainsAccess(t *testing.T) {
	h := newHarness(t)
	_, admin := h.account("Admin", store.RoleAdmin)
	guest, guestTok := h.account("Gus", store.RoleMember)

	p := h.project(admin, gin.H{"name": "Ops"})
	assert.Equal(t, "OPS", p.Key)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/projects/"+p.ID, guestTok, nil).Code)

	task := h.task(admin, p.ID, gin.H{"title": "Rotate keys", "assigneeId": guest.ID})
	require.NotNil(t, task.Assignee)
	assert.Equal(t, "Gus", task.Assignee.Name)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/projects/"+p.ID, guestTok, nil).Code)
	list := decode[store.Result[store.Project]](t, h.do(http.MethodGet, "/projects", guestTok, nil))
	assert.EqualValues(t, 1, list.Total)

	w := h.do(http.MethodPatch, "/tasks/"+task.ID, guestTok, gin.H{"status": "in_progress"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, store.StatusInProgress, decode[store.Task](t, w).Status)
}

func TestTaskModifyRule(t *testing.T) {
	h := newHarness(t)
	_, admin := h.account("Admin", store.RoleAdmin)
	mia, miaTok := h.account("Mia", store.RoleMember)
	mx, maxTok := h.account("Max", store.RoleMember)

	p := h.project(admin, gin.H{"name": "Mobile", "key": "MOB", "memberIds": []string{mia.ID, mx.ID}})
	task := h.task(admin, p.ID, gin.H{"title": "Push", "assigneeId": mia.ID, "dueDate": "2026-06-01"})
	require.NotNil(t, task.DueDate)

	w := h.do(http.MethodPatch, "/tasks/"+task.ID, maxTok, gin.H{"status": "done"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodPatch, "/tasks/"+task.ID, miaTok, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPatch, "/tasks/"+task.ID, miaTok, gin.H{"status": "blocked"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPatch, "/tasks/"+task.ID, miaTok, gin.H{"assigneeId": "ghost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPatch, "/tasks/"+task.ID, miaTok, gin.H{"dueDate": nil, "priority": "high"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[store.Task](t, w)
	assert.Nil(t, updated.DueDate)
	assert.Equal(t, store.PriorityHigh, updated.Priority)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodDelete, "/tasks/"+task.ID, miaTok, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodDelete, "/tasks/"+task.ID, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/tasks/"+task.ID, admin, nil).Code)

	assert.Equal(t, []string{
		events.ProjectCreated, events.TaskCreated, events.TaskUpdated, events.TaskDeleted,
	}, h.events.Types())
}

func TestTaskPagination(t *testing.T) {
	h := newHarness(t)
	_, admin := h.account("Admin", store.RoleAdmin)
	p := h.project(admin, gin.H{"name": "Big", "key": "BIG"})

	for i := 0; i < 25; i++ {
		h.task(admin, p.ID, gin.H{"title": fmt.Sprintf("task %02d", i)})
	}

	w := h.do(http.MethodGet, "/projects/"+p.ID+"/tasks?limit=10&page=3", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[store.Result[store.Task]](t, w)
	assert.EqualValues(t, 25, res.Total)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 3, res.Page)
	assert.Equal(t, 10, res.Limit)
	assert.Len(t, res.Items, 5)

	res = decode[store.Result[store.Task]](t, h.do(http.MethodGet, "/projects/"+p.ID+"/tasks", admin, nil))
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 10, res.Limit)
	assert.Len(t, res.Items, 10)

	res = decode[store.Result[store.Task]](t, h.do(http.MethodGet, "/projects/"+p.ID+"/tasks?q=TASK+07", admin, nil))
	assert.EqualValues(t, 1, res.Total)

	res = decode[store.Result[store.Task]](t, h.do(http.MethodGet, "/projects/"+p.ID+"/tasks?page=1000000&limit=3", admin, nil))
	assert.Empty(t, res.Items)
	assert.EqualValues(t, 25, res.Total)

	for _, path := range []string{"/projects/" + p.ID + "/tasks", "/projects", "/users"} {
		w := h.do(http.MethodGet, path+"?page=4611686018427387905&limit=3", admin, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}

	for _, q := range []string{"page=0", "page=1000001", "limit=0", "limit=101", "page=abc", "status=blocked", "sort=random", "dueFrom=yesterday"} {
		w := h.do(http.MethodGet, "/projects/"+p.ID+"/tasks?"+q, admin, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestCSVExport(t *testing.T) {
	h := newHarness(t)
	_, admin := h.account("Admin", store.RoleAdmin)
	p := h.project(admin, gin.H{"name": "Docs", "key": "DOCS"})

	h.task(admin, p.ID, gin.H{"title": `Say "hi"`, "priority": "high"})
	h.task(admin, p.ID, gin.H{"title": "Second", "status": "done"})
	h.task(admin, p.ID, gin.H{"title": "Third"})

	w := h.do(http.MethodGet, "/projects/"+p.ID+"/tasks/export.csv", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="DOCS-tasks.csv"`, w.Header().Get("Content-Disposition"))

	body := w.Body.String()
	assert.True(t, strings.HasSuffix(body, "\r\n"))
	rows := strings.Split(strings.TrimSuffix(body, "\r\n"), "\r\n")
	assert.Len(t, rows, 4)
	assert.True(t, strings.HasPrefix(rows[0], `"ID","Title","Description"`))
	assert.Contains(t, body, `"Say ""hi"""`)

	w = h.do(http.MethodGet, "/projects/"+p.ID+"/tasks/export.csv?status=done", admin, nil)
	assert.Equal(t, 2, strings.Count(w.Body.String(), "\r\n"))

	w = h.do(http.MethodPost, "/projects/"+p.ID+"/tasks/export", admin, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestSummaryEndpoint(t *testing.T) {
	h := newHarness(t)
	_, admin := h.account("Admin", store.RoleAdmin)
	mia, _ := h.account("Mia", store.RoleMember)
	p := h.project(admin, gin.H{"name": "Stats", "key": "STATS"})

	h.task(admin, p.ID, gin.H{"title": "a", "status": "done", "assigneeId": mia.ID})
	h.task(admin, p.ID, gin.H{"title": "b", "assigneeId": mia.ID})
	h.task(admin, p.ID, gin.H{"title": "c", "dueDate": "2000-01-01"})

	w := h.do(http.MethodGet, "/projects/"+p.ID+"/summary", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var s struct {
		ProjectID      string           `json:"projectId"`
		Total          int64            `json:"total"`
		ByStatus       map[string]int64 `json:"byStatus"`
		Overdue        int64            `json:"overdue"`
		Unassigned     int64            `json:"unassigned"`
		CompletionRate float64          `json:"completionRate"`
		ByAssignee     []struct {
			UserID string `json:"userId"`
			Count  int64  `json:"count"`
		} `json:"byAssignee"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))

	assert.Equal(t, p.ID, s.ProjectID)
	assert.EqualValues(t, 3, s.Total)
	assert.EqualValues(t, 1, s.ByStatus["done"])
	assert.EqualValues(t, 0, s.ByStatus["in_progress"])
	assert.EqualValues(t, 1, s.Overdue)
	assert.EqualValues(t, 1, s.Unassigned)
	assert.InDelta(t, 0.3333, s.CompletionRate, 0.0001)
	require.Len(t, s.ByAssignee, 1)
	assert.Equal(t, mia.ID, s.ByAssignee[0].UserID)
	assert.EqualValues(t, 2, s.ByAssignee[0].Count)
}

func TestProjectLifecycle(t *testing.T) {
	h := newHarness(t)
	_, admin := h.account("Admin", store.RoleAdmin)
	mia, miaTok := h.account("Mia", store.RoleMember)

	p := h.project(admin, gin.H{"name": "Alpha", "key": "ALPHA"})

	w := h.do(http.MethodPost, "/projects", admin, gin.H{"name": "Other", "key": "alpha"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodPost, "/projects", admin, gin.H{"name": "Bad", "key": "1BAD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/projects", admin, gin.H{"name": "Ghosts", "memberIds": []string{"ghost"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPatch, "/projects/"+p.ID, admin, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/projects", admin, gin.H{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name must not be blank")

	w = h.do(http.MethodPatch, "/projects/"+p.ID, admin, gin.H{"name": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Alpha", decode[store.Project](t, h.do(http.MethodGet, "/projects/"+p.ID, admin, nil)).Name)

	w = h.do(http.MethodPatch, "/projects/"+p.ID, admin, gin.H{"name": "  Alpha Two  "})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Alpha Two", decode[store.Project](t, w).Name)

	w = h.do(http.MethodPatch, "/projects/"+p.ID, admin, gin.H{"description": "first"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "first", decode[store.Project](t, w).Description)

	w = h.do(http.MethodPost, "/projects/"+p.ID+"/members", admin, gin.H{"userIds": []string{mia.ID, mia.ID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{mia.ID}, decode[store.Project](t, w).MemberIDs)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/projects/"+p.ID, miaTok, nil).Code)

	w = h.do(http.MethodDelete, "/projects/"+p.ID+"/members/"+mia.ID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[store.Project](t, w).MemberIDs)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/projects/"+p.ID, miaTok, nil).Code)

	w = h.do(http.MethodDelete, "/projects/"+p.ID+"/members/"+mia.ID, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	t1 := h.task(admin, p.ID, gin.H{"title": "one"})
	h.task(admin, p.ID, gin.H{"title": "two"})

	w = h.do(http.MethodDelete, "/projects/"+p.ID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","deletedTasks":2}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/tasks/"+t1.ID, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/projects/"+p.ID, admin, nil).Code)
}

func TestUserDirectory(t *testing.T) {
	h := newHarness(t)
	_, admin := h.account("Admin", store.RoleAdmin)
	h.account("Mia", store.RoleMember)
	_, maxTok := h.account("Max", store.RoleMember)

	w := h.do(http.MethodGet, "/users?q=ma", maxTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[store.Result[store.User]](t, w)
	assert.EqualValues(t, 1, res.Total)

	res = decode[store.Result[store.User]](t, h.do(http.MethodGet, "/users", admin, nil))
	assert.EqualValues(t, 3, res.Total)
	assert.NotContains(t, h.do(http.MethodGet, "/users", admin, nil).Body.String(), "password")
}
