// Package postgres provides PostgreSQL implementations of the store
// interfaces used by the task orchestration engine.
package postgres
