// Package audit keeps redacted delivery records: routing facts only, never
// message content and never author identity. Records expire on a fixed TTL
// and exist to answer "did deliveries happen" questions during rollouts.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is one redacted delivery note.
type Record struct {
	ID              string    `json:"id"`
	Category        string    `json:"category"`
	Topic           string    `json:"topic"`
	ModerationLabel string    `json:"moderation_label,omitempty"`
	Attachments     int       `json:"attachments"`
	DeliveredAt     time.Time `json:"delivered_at"`
}

// NewID returns a sortable identifier whose prefix encodes creation time, so
// records order chronologically without exposing anything about the author.
func NewID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now.UTC()), ulid.DefaultEntropy()).String()
}

// Recorder appends delivery records. Implementations own their retention.
type Recorder interface {
	Append(ctx context.Context, rec Record) error
}

// Memory is an in-process Recorder for the memory backend and tests.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// NewMemory constructs an empty in-process recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// Append stores the record.
func (m *Memory) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything appended so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
