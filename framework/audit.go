package framework

import (
	"context"
	"sync"
	"time"
)

// AuditAction categorizes records for downstream processing.
type AuditAction string

const (
	AuditActionFileAccess AuditAction = "file_access"
	AuditActionExec       AuditAction = "exec"
	AuditActionTool       AuditAction = "tool"
)

// AuditRecord captures a single security-relevant event.
type AuditRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id,omitempty"`
	Action    AuditAction            `json:"action"`
	Tool      string                 `json:"tool"`
	Kind      string                 `json:"kind"`
	Result    string                 `json:"result"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AuditLogger defines the logging backend.
type AuditLogger interface {
	Log(ctx context.Context, record AuditRecord) error
	Query(ctx context.Context, filter AuditQuery) ([]AuditRecord, error)
}

// AuditQuery filters audit entries.
type AuditQuery struct {
	RunID     string
	Action    AuditAction
	Tool      string
	Kind      string
	TimeStart time.Time
	TimeEnd   time.Time
}

// InMemoryAuditLogger appends logs to a bounded buffer.
type InMemoryAuditLogger struct {
	mu     sync.RWMutex
	buffer []AuditRecord
	limit  int
}

// NewInMemoryAuditLogger builds a default logger.
func NewInMemoryAuditLogger(limit int) *InMemoryAuditLogger {
	if limit == 0 {
		limit = 2048
	}
	return &InMemoryAuditLogger{
		buffer: make([]AuditRecord, 0, limit),
		limit:  limit,
	}
}

// Log appends the record to the buffer, evicting the oldest entry when full.
func (l *InMemoryAuditLogger) Log(_ context.Context, record AuditRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buffer) == l.limit {
		l.buffer = l.buffer[1:]
	}
	l.buffer = append(l.buffer, record)
	return nil
}

// Query filters based on the supplied query.
func (l *InMemoryAuditLogger) Query(_ context.Context, filter AuditQuery) ([]AuditRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var result []AuditRecord
	for _, record := range l.buffer {
		if filter.RunID != "" && record.RunID != filter.RunID {
			continue
		}
		if filter.Action != "" && record.Action != filter.Action {
			continue
		}
		if filter.Tool != "" && record.Tool != filter.Tool {
			continue
		}
		if filter.Kind != "" && record.Kind != filter.Kind {
			continue
		}
		if !filter.TimeStart.IsZero() && record.Timestamp.Before(filter.TimeStart) {
			continue
		}
		if !filter.TimeEnd.IsZero() && record.Timestamp.After(filter.TimeEnd) {
			continue
		}
		result = append(result, record)
	}
	return result, nil
}
