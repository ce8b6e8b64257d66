// Package cache implements the idempotent result cache: a keyed store
// mapping a unit-of-work fingerprint to its last terminal result, with a
// bounded TTL. The cache is an optimization against accidental duplicate
// submissions; the task record remains the authoritative account of work.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrCacheMiss is returned by Get when no entry exists for a fingerprint.
var ErrCacheMiss = errors.New("result cache miss")

// CachedResult is the value stored per fingerprint: the terminal output of
// one unit of work. Only successful terminal outcomes are written, so a
// transient failure never poisons later retries.
type CachedResult struct {
	SubjectID string         `json:"subject_id"`
	Output    map[string]any `json:"output,omitempty"`
	CachedAt  time.Time      `json:"cached_at"`
}

// ResultCache is the idempotent result store consulted by the unit executor.
type ResultCache interface {
	// Get returns the cached result for a fingerprint, or ErrCacheMiss.
	Get(ctx context.Context, fingerprint string) (*CachedResult, error)

	// Set stores a result under a fingerprint with the given TTL,
	// overwriting any previous entry (last write wins; results for the
	// same fingerprint are expected to be deterministic).
	Set(ctx context.Context, fingerprint string, result *CachedResult, ttl time.Duration) error
}

// Fingerprint derives the deterministic cache key for one unit of work from
// its identifying parameters. The command is part of the key so that
// semantically different requests against the same subject (e.g. "process"
// vs "rerun") never satisfy each other.
func Fingerprint(subjectID, contextKey, command string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", subjectID, contextKey, command))
	return hex.EncodeToString(sum[:])
}
