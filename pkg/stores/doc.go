// Package stores provides persistent storage for provisioning runs,
// progress checkpoints and deployment settings.
//
// The SQLite implementation uses modernc.org/sqlite (pure Go, no cgo) with
// WAL journaling, and manages its schema through embedded golang-migrate
// migrations. Run state is stored as a JSON document with scenario and
// status denormalized into columns for lookups; the progress table is an
// append-only checkpoint log per run.
package stores
