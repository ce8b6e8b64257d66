package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/platform/logger"
	"github.com/phrazzld/taskforge/internal/store"
)

// defaultListLimit bounds List queries when the caller does not.
const defaultListLimit = 50

// PostgresTaskRecordStore implements the store.TaskRecordStore interface
// using PostgreSQL.
type PostgresTaskRecordStore struct {
	db store.DBTX
}

// NewPostgresTaskRecordStore creates a new PostgresTaskRecordStore.
func NewPostgresTaskRecordStore(db store.DBTX) *PostgresTaskRecordStore {
	return &PostgresTaskRecordStore{db: db}
}

// WithTx returns a new store instance bound to the provided transaction.
func (s *PostgresTaskRecordStore) WithTx(tx *sql.Tx) store.TaskRecordStore {
	return &PostgresTaskRecordStore{db: tx}
}

// Create persists a new task record.
func (s *PostgresTaskRecordStore) Create(ctx context.Context, record *domain.TaskRecord) error {
	log := logger.FromContext(ctx)

	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	inputData, err := marshalJSONField(record.InputData)
	if err != nil {
		return err
	}
	metadata, err := marshalJSONField(record.Metadata)
	if err != nil {
		return err
	}
	tags, err := marshalJSONField(record.Tags)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO task_records (
			id, tracking_id, type, title, module, priority, state,
			progress, total_items, processed_items,
			created_by, assigned_to, created_at,
			description, input_data, metadata, tags
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.TrackingID,
		record.Type,
		record.Title,
		record.Module,
		record.Priority,
		record.State,
		record.Progress,
		record.TotalItems,
		record.ProcessedItems,
		record.CreatedBy,
		record.AssignedTo,
		record.CreatedAt,
		record.Description,
		inputData,
		metadata,
		tags,
	)
	if err != nil {
		mapped := MapError(err)
		if IsUniqueViolation(err) {
			mapped = fmt.Errorf("%w: %v", store.ErrDuplicateTrackingID, err)
		}
		log.Error("failed to create task record",
			"tracking_id", record.TrackingID,
			"task_type", record.Type,
			"error", err)
		return mapped
	}

	return nil
}

// GetByTrackingID retrieves a task record by its external tracking ID.
func (s *PostgresTaskRecordStore) GetByTrackingID(
	ctx context.Context,
	trackingID string,
) (*domain.TaskRecord, error) {
	return s.getByTrackingID(ctx, trackingID, false)
}

// GetByTrackingIDForUpdate retrieves a task record with a row lock, for
// read-modify-write sequences inside a transaction.
func (s *PostgresTaskRecordStore) GetByTrackingIDForUpdate(
	ctx context.Context,
	trackingID string,
) (*domain.TaskRecord, error) {
	return s.getByTrackingID(ctx, trackingID, true)
}

func (s *PostgresTaskRecordStore) getByTrackingID(
	ctx context.Context,
	trackingID string,
	forUpdate bool,
) (*domain.TaskRecord, error) {
	query := selectColumns + ` FROM task_records WHERE tracking_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	record, err := scanTaskRecord(s.db.QueryRowContext(ctx, query, trackingID))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, trackingID)
		}
		return nil, MapError(err)
	}

	return record, nil
}

// Update persists the mutable fields of an existing task record.
func (s *PostgresTaskRecordStore) Update(ctx context.Context, record *domain.TaskRecord) error {
	log := logger.FromContext(ctx)

	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	outputData, err := marshalJSONField(record.OutputData)
	if err != nil {
		return err
	}
	metadata, err := marshalJSONField(record.Metadata)
	if err != nil {
		return err
	}
	tags, err := marshalJSONField(record.Tags)
	if err != nil {
		return err
	}

	query := `
		UPDATE task_records
		SET state = $1, progress = $2, total_items = $3, processed_items = $4,
			started_at = $5, completed_at = $6, output_data = $7,
			error_message = $8, error_trace = $9, metadata = $10, tags = $11,
			assigned_to = $12
		WHERE id = $13
	`

	result, err := s.db.ExecContext(ctx, query,
		record.State,
		record.Progress,
		record.TotalItems,
		record.ProcessedItems,
		record.StartedAt,
		record.CompletedAt,
		outputData,
		nullableString(record.ErrorMessage),
		nullableString(record.ErrorTrace),
		metadata,
		tags,
		record.AssignedTo,
		record.ID,
	)
	if err != nil {
		log.Error("failed to update task record",
			"tracking_id", record.TrackingID,
			"error", err)
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, record.TrackingID)
	}

	return nil
}

// List retrieves the most recent task records matching the filter.
func (s *PostgresTaskRecordStore) List(
	ctx context.Context,
	filter store.TaskFilter,
) ([]*domain.TaskRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := selectColumns + ` FROM task_records WHERE 1=1`
	args := []any{}

	if filter.State != "" {
		args = append(args, filter.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if filter.Module != "" {
		args = append(args, filter.Module)
		query += fmt.Sprintf(" AND module = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var records []*domain.TaskRecord
	for rows.Next() {
		record, err := scanTaskRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task record row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task record rows: %w", err)
	}

	return records, nil
}

// CountByState returns the number of task records per lifecycle state.
func (s *PostgresTaskRecordStore) CountByState(ctx context.Context) (map[domain.TaskState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM task_records GROUP BY state`)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskState]int)
	for rows.Next() {
		var state domain.TaskState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan state count row: %w", err)
		}
		counts[state] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state count rows: %w", err)
	}

	return counts, nil
}

// DeleteTerminalBefore deletes terminal task records completed before the
// cutoff. Log entries are removed by the schema's ON DELETE CASCADE.
func (s *PostgresTaskRecordStore) DeleteTerminalBefore(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	log := logger.FromContext(ctx)

	query := `
		DELETE FROM task_records
		WHERE state IN ($1, $2, $3) AND completed_at < $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStateCompleted,
		domain.TaskStateFailed,
		domain.TaskStateCancelled,
		cutoff,
	)
	if err != nil {
		log.Error("failed to delete old task records", "error", err)
		return 0, MapError(err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}

// selectColumns is the shared column list for task record queries, in
// scanTaskRecord order.
const selectColumns = `
	SELECT id, tracking_id, type, title, module, priority, state,
		progress, total_items, processed_items,
		created_by, assigned_to, created_at, started_at, completed_at,
		description, input_data, output_data,
		error_message, error_trace, metadata, tags`

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTaskRecord reads one task record from a row.
func scanTaskRecord(row rowScanner) (*domain.TaskRecord, error) {
	var rec domain.TaskRecord
	var assignedTo sql.Null[uuid.UUID]
	var startedAt, completedAt sql.NullTime
	var description, errorMessage, errorTrace sql.NullString
	var inputData, outputData, metadata, tags []byte

	err := row.Scan(
		&rec.ID,
		&rec.TrackingID,
		&rec.Type,
		&rec.Title,
		&rec.Module,
		&rec.Priority,
		&rec.State,
		&rec.Progress,
		&rec.TotalItems,
		&rec.ProcessedItems,
		&rec.CreatedBy,
		&assignedTo,
		&rec.CreatedAt,
		&startedAt,
		&completedAt,
		&description,
		&inputData,
		&outputData,
		&errorMessage,
		&errorTrace,
		&metadata,
		&tags,
	)
	if err != nil {
		return nil, err
	}

	if assignedTo.Valid {
		rec.AssignedTo = &assignedTo.V
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	rec.Description = description.String
	rec.ErrorMessage = errorMessage.String
	rec.ErrorTrace = errorTrace.String

	if err := unmarshalJSONField(inputData, &rec.InputData); err != nil {
		return nil, err
	}
	if err := unmarshalJSONField(outputData, &rec.OutputData); err != nil {
		return nil, err
	}
	if err := unmarshalJSONField(metadata, &rec.Metadata); err != nil {
		return nil, err
	}
	if err := unmarshalJSONField(tags, &rec.Tags); err != nil {
		return nil, err
	}

	return &rec, nil
}

// marshalJSONField encodes a JSONB column value, mapping nil to SQL NULL.
func marshalJSONField(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON field: %w", err)
	}
	return data, nil
}

// unmarshalJSONField decodes a JSONB column value, leaving dst untouched on
// SQL NULL.
func unmarshalJSONField(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode JSON field: %w", err)
	}
	return nil
}

// nullableString maps the empty string to SQL NULL.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
