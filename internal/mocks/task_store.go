package mocks

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/store"
)

// MockTaskRecordStore implements store.TaskRecordStore in memory.
// Records are copied on the way in and out so callers can mutate freely,
// mimicking a row-per-read database.
type MockTaskRecordStore struct {
	mu      sync.Mutex
	records map[string]*domain.TaskRecord

	// Custom behavior hooks; when nil the in-memory default runs.
	CreateFn func(ctx context.Context, record *domain.TaskRecord) error
	UpdateFn func(ctx context.Context, record *domain.TaskRecord) error
}

// NewMockTaskRecordStore creates an empty in-memory task record store.
func NewMockTaskRecordStore() *MockTaskRecordStore {
	return &MockTaskRecordStore{records: make(map[string]*domain.TaskRecord)}
}

// WithTx returns the store itself; the fake has no real transactions.
func (s *MockTaskRecordStore) WithTx(tx *sql.Tx) store.TaskRecordStore {
	return s
}

// Create persists a new task record.
func (s *MockTaskRecordStore) Create(ctx context.Context, record *domain.TaskRecord) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, record)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.TrackingID]; exists {
		return fmt.Errorf("%w: %s", store.ErrDuplicateTrackingID, record.TrackingID)
	}
	s.records[record.TrackingID] = copyRecord(record)
	return nil
}

// GetByTrackingID retrieves a copy of a task record.
func (s *MockTaskRecordStore) GetByTrackingID(
	ctx context.Context,
	trackingID string,
) (*domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[trackingID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, trackingID)
	}
	return copyRecord(rec), nil
}

// GetByTrackingIDForUpdate behaves like GetByTrackingID; the fake has no
// row locks.
func (s *MockTaskRecordStore) GetByTrackingIDForUpdate(
	ctx context.Context,
	trackingID string,
) (*domain.TaskRecord, error) {
	return s.GetByTrackingID(ctx, trackingID)
}

// Update persists the given record state.
func (s *MockTaskRecordStore) Update(ctx context.Context, record *domain.TaskRecord) error {
	if s.UpdateFn != nil {
		return s.UpdateFn(ctx, record)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.TrackingID]; !exists {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, record.TrackingID)
	}
	s.records[record.TrackingID] = copyRecord(record)
	return nil
}

// List retrieves records matching the filter, most recent first.
func (s *MockTaskRecordStore) List(
	ctx context.Context,
	filter store.TaskFilter,
) ([]*domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.TaskRecord
	for _, rec := range s.records {
		if filter.State != "" && rec.State != filter.State {
			continue
		}
		if filter.Module != "" && rec.Module != filter.Module {
			continue
		}
		out = append(out, copyRecord(rec))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// CountByState returns the number of records per state.
func (s *MockTaskRecordStore) CountByState(ctx context.Context) (map[domain.TaskState]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.TaskState]int)
	for _, rec := range s.records {
		counts[rec.State]++
	}
	return counts, nil
}

// DeleteTerminalBefore deletes terminal records completed before the cutoff.
func (s *MockTaskRecordStore) DeleteTerminalBefore(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for trackingID, rec := range s.records {
		if rec.IsTerminal() && rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
			delete(s.records, trackingID)
			deleted++
		}
	}
	return deleted, nil
}

// copyRecord clones a record including its maps so fake "rows" do not share
// mutable state with callers.
func copyRecord(rec *domain.TaskRecord) *domain.TaskRecord {
	clone := *rec
	clone.InputData = copyMap(rec.InputData)
	clone.OutputData = copyMap(rec.OutputData)
	clone.Metadata = copyMap(rec.Metadata)
	if rec.Tags != nil {
		clone.Tags = append([]string(nil), rec.Tags...)
	}
	if rec.AssignedTo != nil {
		v := *rec.AssignedTo
		clone.AssignedTo = &v
	}
	if rec.StartedAt != nil {
		v := *rec.StartedAt
		clone.StartedAt = &v
	}
	if rec.CompletedAt != nil {
		v := *rec.CompletedAt
		clone.CompletedAt = &v
	}
	return &clone
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MockTaskLogStore implements store.TaskLogStore in memory.
type MockTaskLogStore struct {
	mu      sync.Mutex
	entries []*domain.TaskLogEntry

	// AppendFn overrides the default append when set.
	AppendFn func(ctx context.Context, entry *domain.TaskLogEntry) error
}

// NewMockTaskLogStore creates an empty in-memory log store.
func NewMockTaskLogStore() *MockTaskLogStore {
	return &MockTaskLogStore{}
}

// WithTx returns the store itself; the fake has no real transactions.
func (s *MockTaskLogStore) WithTx(tx *sql.Tx) store.TaskLogStore {
	return s
}

// Append stores a log entry.
func (s *MockTaskLogStore) Append(ctx context.Context, entry *domain.TaskLogEntry) error {
	if s.AppendFn != nil {
		return s.AppendFn(ctx, entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// ListByTask retrieves entries for one task in insertion order.
func (s *MockTaskLogStore) ListByTask(
	ctx context.Context,
	taskID uuid.UUID,
	offset, limit int,
) ([]*domain.TaskLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.TaskLogEntry
	for _, entry := range s.entries {
		if entry.TaskID == taskID {
			matched = append(matched, entry)
		}
	}

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// Entries returns a snapshot of everything appended so far.
func (s *MockTaskLogStore) Entries() []*domain.TaskLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.TaskLogEntry(nil), s.entries...)
}

// EntriesFor returns the entries appended for one task.
func (s *MockTaskLogStore) EntriesFor(taskID uuid.UUID) []*domain.TaskLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.TaskLogEntry
	for _, entry := range s.entries {
		if entry.TaskID == taskID {
			out = append(out, entry)
		}
	}
	return out
}
