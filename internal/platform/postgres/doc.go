// Package postgres provides PostgreSQL implementations of the persistence
// interfaces defined in internal/store and internal/task. Counter updates
// and terminal status transitions are single conditional statements so that
// concurrent callback deliveries cannot under-count or double-apply.
package postgres
