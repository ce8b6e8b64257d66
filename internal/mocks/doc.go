// Package mocks provides in-memory implementations of the store,
// broadcaster and transaction interfaces for testing.
package mocks
