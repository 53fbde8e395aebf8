// Package store defines the persistence interfaces and sentinel errors for
// the ingestion and generation core. Implementations live in
// internal/platform/postgres; services depend only on these interfaces so
// that all coordination between the submitter and the callback handler goes
// through the database, never through in-memory state.
package store
