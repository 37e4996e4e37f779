package usage

import (
	"context"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/fitsa/fitsa/internal/model"
)

// DefaultMemoryPerUser bounds the events MemoryLog keeps per user.
const DefaultMemoryPerUser = 500

// MemoryLog is an in-process Recorder and History.
type MemoryLog struct {
	mu      sync.RWMutex
	perUser int
	events  map[string][]*model.UsageEvent
}

var (
	_ Recorder = (*MemoryLog)(nil)
	_ History  = (*MemoryLog)(nil)
)

// NewMemoryLog creates a log that keeps the newest perUser events of each user.
func NewMemoryLog(perUser int) *MemoryLog {
	if perUser <= 0 {
		perUser = DefaultMemoryPerUser
	}
	return &MemoryLog{perUser: perUser, events: make(map[string][]*model.UsageEvent)}
}

// Record implements Recorder.
func (m *MemoryLog) Record(event model.UsageEvent) {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.EventID == "" {
		event.EventID = event.ID
	}
	event.Categories = append([]string{}, event.Categories...)

	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.events[event.UserID], &event)
	if len(list) > m.perUser {
		list = list[len(list)-m.perUser:]
	}
	m.events[event.UserID] = list
}

// List implements History.
func (m *MemoryLog) List(_ context.Context, userID, cursor string, limit int) ([]*model.UsageEvent, string, error) {
	c, err := model.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	m.mu.RLock()
	var out []*model.UsageEvent
	for _, e := range m.events[userID] {
		if c.Before(e.OccurredAt, e.ID) {
			copied := *e
			out = append(out, &copied)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})

	var next string
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		next = model.Cursor{ID: last.ID, CreatedAt: last.OccurredAt}.Encode()
	}
	return out, next, nil
}
