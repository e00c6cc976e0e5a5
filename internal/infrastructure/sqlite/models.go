package sqlite

import (
	"time"

	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
)

// taskModel is the row shape of the tasks table. Timestamps are Unix
// seconds; optional text columns are nullable.
type taskModel struct {
	ID        string
	Seq       int64
	Status    string
	Owner     *string
	Priority  int
	Payload   string
	Result    *string
	Reason    *string
	CreatedAt int64
	UpdatedAt int64
}

func toTaskModel(t taskboard.Task) taskModel {
	return taskModel{
		ID:        t.ID,
		Seq:       t.Seq,
		Status:    string(t.Status),
		Owner:     nullable(t.Owner),
		Priority:  t.Priority,
		Payload:   t.Payload,
		Result:    nullable(t.Result),
		Reason:    nullable(t.Reason),
		CreatedAt: unixOrNow(t.CreatedAt),
		UpdatedAt: unixOrNow(t.UpdatedAt),
	}
}

func (m taskModel) toDomain() taskboard.Task {
	return taskboard.Task{
		ID:        m.ID,
		Seq:       m.Seq,
		Status:    taskboard.Status(m.Status),
		Owner:     deref(m.Owner),
		Priority:  m.Priority,
		Payload:   m.Payload,
		Result:    deref(m.Result),
		Reason:    deref(m.Reason),
		CreatedAt: time.Unix(m.CreatedAt, 0),
		UpdatedAt: time.Unix(m.UpdatedAt, 0),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func unixOrNow(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().Unix()
	}
	return t.Unix()
}
