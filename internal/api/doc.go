// Package api contains the HTTP handlers: the worker webhook endpoint
// and the client-facing batch, generation, and reconciliation routes.
// Handlers decode and validate requests, call the corresponding service,
// and map service errors onto HTTP status codes; no business logic lives
// here.
package api
