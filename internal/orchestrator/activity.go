package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActivityType classifies an activity log entry.
type ActivityType string

const (
	ActivityInfo    ActivityType = "info"
	ActivitySuccess ActivityType = "success"
	ActivityWarning ActivityType = "warning"
	ActivityError   ActivityType = "error"
)

// Activity is one entry of the session's activity log.
type Activity struct {
	ID      string
	Time    time.Time
	Type    ActivityType
	Message string
}

// activityLog is append-only.
type activityLog struct {
	mu      sync.Mutex
	entries []Activity
	now     func() time.Time
}

func (l *activityLog) add(kind ActivityType, message string) Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	entry := Activity{ID: uuid.NewString(), Time: now(), Type: kind, Message: message}
	l.entries = append(l.entries, entry)
	return entry
}

func (l *activityLog) all() []Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Activity(nil), l.entries...)
}

func (l *activityLog) errors() []Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Activity
	for _, e := range l.entries {
		if e.Type == ActivityError {
			out = append(out, e)
		}
	}
	return out
}
