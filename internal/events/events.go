// Package events publishes domain events for projects and tasks on NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"kyri56xcaesar/pms-kanban/internal/logger"
)

const (
	ProjectCreated        = "project.created"
	ProjectUpdated        = "project.updated"
	ProjectDeleted        = "project.deleted"
	ProjectMembersChanged = "project.members_changed"
	TaskCreated           = "task.created"
	TaskUpdated           = "task.updated"
	TaskDeleted           = "task.deleted"
)

type Event struct {
	Type      string    `json:"type"`
	ProjectID string    `json:"projectId"`
	TaskID    string    `json:"taskId,omitempty"`
	ActorID   string    `json:"actorId"`
	At        time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close()
}

// NATS publishes each event on "<prefix>.<type>". Failures are logged and
// never returned to the caller.
type NATS struct {
	conn   *nats.Conn
	prefix string
}

func NewNATS(url, prefix string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("pms-kanban"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logger.Info("nats connected", "url", nc.ConnectedUrl(), "prefix", prefix)
	return &NATS{conn: nc, prefix: strings.TrimSuffix(prefix, ".")}, nil
}

func (n *NATS) Subject(eventType string) string {
	if n.prefix == "" {
		return eventType
	}
	return n.prefix + "." + eventType
}

func (n *NATS) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		logger.ErrorContext(ctx, "failed to encode event", "type", e.Type, "error", err)
		return
	}
	if err := n.conn.Publish(n.Subject(e.Type), data); err != nil {
		logger.WarnContext(ctx, "failed to publish event", "type", e.Type, "project_id", e.ProjectID, "error", err)
		return
	}
	logger.DebugContext(ctx, "event published", "type", e.Type, "project_id", e.ProjectID, "task_id", e.TaskID)
}

func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
func (Nop) Close()                         {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
}

func (r *Recorder) Close() {}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}
