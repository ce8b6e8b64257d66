package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/platform/logger"
	"github.com/phrazzld/taskforge/internal/store"
)

// defaultLogPageSize bounds log listing when the caller does not.
const defaultLogPageSize = 100

// PostgresTaskLogStore implements the store.TaskLogStore interface using
// PostgreSQL.
type PostgresTaskLogStore struct {
	db store.DBTX
}

// NewPostgresTaskLogStore creates a new PostgresTaskLogStore.
func NewPostgresTaskLogStore(db store.DBTX) *PostgresTaskLogStore {
	return &PostgresTaskLogStore{db: db}
}

// WithTx returns a new store instance bound to the provided transaction.
func (s *PostgresTaskLogStore) WithTx(tx *sql.Tx) store.TaskLogStore {
	return &PostgresTaskLogStore{db: tx}
}

// Append persists a new log entry.
func (s *PostgresTaskLogStore) Append(ctx context.Context, entry *domain.TaskLogEntry) error {
	log := logger.FromContext(ctx)

	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	data, err := marshalJSONField(entry.Data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO task_logs (id, task_id, level, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.TaskID,
		entry.Level,
		entry.Message,
		data,
		entry.CreatedAt,
	)
	if err != nil {
		log.Error("failed to append task log entry",
			"task_id", entry.TaskID,
			"level", entry.Level,
			"error", err)
		return MapError(err)
	}

	return nil
}

// ListByTask retrieves log entries for a task in insertion order.
func (s *PostgresTaskLogStore) ListByTask(
	ctx context.Context,
	taskID uuid.UUID,
	offset, limit int,
) ([]*domain.TaskLogEntry, error) {
	if limit <= 0 {
		limit = defaultLogPageSize
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, task_id, level, message, data, created_at
		FROM task_logs
		WHERE task_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, taskID, limit, offset)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*domain.TaskLogEntry
	for rows.Next() {
		var entry domain.TaskLogEntry
		var data []byte

		if err := rows.Scan(
			&entry.ID,
			&entry.TaskID,
			&entry.Level,
			&entry.Message,
			&data,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task log row: %w", err)
		}

		if err := unmarshalJSONField(data, &entry.Data); err != nil {
			return nil, err
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task log rows: %w", err)
	}

	return entries, nil
}
