// Package domain contains the core business entities for source ingestion
// and deliverable generation: batches, batch sources, assets, deliverables,
// and their status state machines. Types here have no dependencies on
// persistence or transport layers.
package domain
