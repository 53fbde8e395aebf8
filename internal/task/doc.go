// Package task provides the durable background task runner used for
// fire-and-forget enrichment work. Tasks are persisted before execution so
// that a crash between a webhook acknowledgment and the completion of its
// side effects is recovered on the next start instead of silently losing
// the work.
package task
