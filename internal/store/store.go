// Package store provides Storage implementations for workflow state: an
// in-memory map for tests and single-process use, and a SQLite database for
// durable sessions that survive a restart.
package store

import (
	"errors"

	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// ErrNotFound is returned (wrapped) by Load when a session has no stored
// state.
var ErrNotFound = errors.New("store: session not found")

// Compile-time interface checks.
var (
	_ orchestrator.Storage = (*Memory)(nil)
	_ orchestrator.Storage = (*SQLite)(nil)
)
