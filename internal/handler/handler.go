package handler

import (
	"context"
)

// Handler defines the interface that all resource handlers must implement
type Handler interface {
	// Name returns the handler identifier
	Name() string

	// Init initializes the handler connection
	Init(ctx context.Context) error

	// Ready checks if the handler is ready to use
	Ready(ctx context.Context) error

	// Reset clears the handler state between scenarios
	Reset(ctx context.Context) error

	// Steps returns the step definitions bound to one scenario's state
	Steps(s *Scenario) StepCategory

	// Cleanup releases resources
	Cleanup(ctx context.Context) error
}

// SQLExecutor is implemented by handlers that can execute SQL
type SQLExecutor interface {
	ExecSQL(ctx context.Context, query string) (int64, error)
	ExecSQLFile(ctx context.Context, path string) error
}

// CacheStore is implemented by handlers that provide key-value storage
type CacheStore interface {
	Set(ctx context.Context, key string, value string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
