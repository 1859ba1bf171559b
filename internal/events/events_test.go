package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "kanban.task.created", (&NATS{prefix: "kanban"}).Subject(TaskCreated))
	assert.Equal(t, "task.created", (&NATS{}).Subject(TaskCreated))
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Publish(context.Background(), Event{Type: ProjectCreated, ProjectID: "p"})
	r.Publish(context.Background(), Event{Type: TaskCreated, ProjectID: "p", TaskID: "t"})
	assert.Equal(t, []string{ProjectCreated, TaskCreated}, r.Types())
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(Event{Type: ProjectDeleted, ProjectID: "p", ActorID: "a"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "taskId")
	assert.Contains(t, string(data), `"projectId":"p"`)
}

// TestNATS runs against a live server when NATS_TEST_URL is set.
func TestNATS(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}

	pub, err := NewNATS(url, "kanban-test")
	require.NoError(t, err)
	defer pub.Close()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("kanban-test.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	pub.Publish(context.Background(), Event{Type: TaskUpdated, ProjectID: "p", TaskID: "t", ActorID: "a"})

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "kanban-test.task.updated", msg.Subject)

	var e Event
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, "t", e.TaskID)
	assert.False(t, e.At.IsZero())
}
