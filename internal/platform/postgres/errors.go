package postgres

// PostgreSQL error codes checked by the store implementations.
const (
	pgUniqueViolationCode     = "23505"
	pgForeignKeyViolationCode = "23503"
)
