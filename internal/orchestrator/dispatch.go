package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/phrazzld/taskforge/internal/domain"
)

// ErrUnknownTaskType is returned when no unit callback is registered for a
// task type.
var ErrUnknownTaskType = errors.New("no unit callback registered for task type")

// ErrDuplicateRegistration is returned when a task type is registered twice.
var ErrDuplicateRegistration = errors.New("task type already registered")

// UnitContext carries the parameters of one unit of work to its callback.
type UnitContext struct {
	// SubjectID identifies the entity this unit operates on, e.g. one
	// employee in a payroll batch.
	SubjectID string

	// Context is the batch-wide shared context, e.g. the processing period.
	Context map[string]any

	// Command distinguishes semantically different requests against the
	// same subject, e.g. "process" vs "rerun".
	Command string

	// ParentTrackingID is the tracking ID of the owning task record.
	ParentTrackingID string
}

// UnitFunc is a domain callback: one unit of work over one subject. The
// engine places no constraints on its internals; it reports its outcome as a
// Result value.
type UnitFunc func(ctx context.Context, unit UnitContext) Result

// Dispatch maps task types to their unit callbacks. All registrations happen
// at startup; lookups at submit time are read-only.
type Dispatch struct {
	mu    sync.RWMutex
	units map[domain.TaskType]UnitFunc
}

// NewDispatch creates an empty dispatch table.
func NewDispatch() *Dispatch {
	return &Dispatch{units: make(map[domain.TaskType]UnitFunc)}
}

// Register binds a unit callback to a task type.
func (d *Dispatch) Register(taskType domain.TaskType, fn UnitFunc) error {
	if fn == nil {
		return fmt.Errorf("nil unit callback for task type %s", taskType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.units[taskType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRegistration, taskType)
	}
	d.units[taskType] = fn
	return nil
}

// Resolve returns the unit callback for a task type.
func (d *Dispatch) Resolve(taskType domain.TaskType) (UnitFunc, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	fn, exists := d.units[taskType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, taskType)
	}
	return fn, nil
}

// RegisteredTypes returns the registered task types in sorted order, for
// startup logging.
func (d *Dispatch) RegisteredTypes() []domain.TaskType {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]domain.TaskType, 0, len(d.units))
	for taskType := range d.units {
		types = append(types, taskType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
