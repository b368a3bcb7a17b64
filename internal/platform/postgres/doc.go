// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces defined in the internal/store package, along with the
// embedded goose migrations for the task, chat and fortune tables.
//
// Status changes are conditional single-statement writes: a claim or finalize
// that affects zero rows reports a lost race instead of overwriting state.
package postgres
