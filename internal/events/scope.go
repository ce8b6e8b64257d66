package events

import (
	"errors"
	"fmt"
	"strings"
)

// ScopeKind names one of the four independent subscription audiences.
type ScopeKind string

// Possible scope kinds
const (
	ScopeGlobal ScopeKind = "global"
	ScopeUser   ScopeKind = "user"
	ScopeTask   ScopeKind = "task"
	ScopeModule ScopeKind = "module"
)

// ErrInvalidScope is returned when a scope string cannot be parsed.
var ErrInvalidScope = errors.New("invalid subscription scope")

// Scope identifies one subscription feed. Kind global has no target; the
// other kinds name a user ID, task tracking ID or module namespace.
type Scope struct {
	Kind   ScopeKind
	Target string
}

// GlobalScope is the feed every event is delivered to.
var GlobalScope = Scope{Kind: ScopeGlobal}

// UserScope returns the per-submitting-user feed.
func UserScope(userID string) Scope {
	return Scope{Kind: ScopeUser, Target: userID}
}

// TaskScope returns the per-task feed keyed by tracking ID.
func TaskScope(trackingID string) Scope {
	return Scope{Kind: ScopeTask, Target: trackingID}
}

// ModuleScope returns the per-module feed.
func ModuleScope(module string) Scope {
	return Scope{Kind: ScopeModule, Target: module}
}

// Topic returns the pub/sub topic this scope maps to.
func (s Scope) Topic() string {
	if s.Kind == ScopeGlobal {
		return "tasks.global"
	}
	return fmt.Sprintf("tasks.%s.%s", s.Kind, s.Target)
}

// String renders the scope in the external "kind:target" form.
func (s Scope) String() string {
	if s.Kind == ScopeGlobal {
		return string(ScopeGlobal)
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.Target)
}

// ParseScope parses the external scope form used by the live interface:
// "global", "user:<id>", "task:<id>" or "module:<name>".
func ParseScope(raw string) (Scope, error) {
	if raw == string(ScopeGlobal) {
		return GlobalScope, nil
	}

	kind, target, found := strings.Cut(raw, ":")
	if !found || target == "" {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}

	switch ScopeKind(kind) {
	case ScopeUser:
		return UserScope(target), nil
	case ScopeTask:
		return TaskScope(target), nil
	case ScopeModule:
		return ModuleScope(target), nil
	default:
		return Scope{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, kind)
	}
}

// scopesFor computes the destinations for one event: always global, plus the
// user, task and module feeds when the event carries those coordinates.
func scopesFor(event *TaskEvent) []Scope {
	scopes := []Scope{GlobalScope}
	if event.UserID != "" {
		scopes = append(scopes, UserScope(event.UserID))
	}
	if event.TaskID != "" {
		scopes = append(scopes, TaskScope(event.TaskID))
	}
	if event.Module != "" {
		scopes = append(scopes, ModuleScope(event.Module))
	}
	return scopes
}
