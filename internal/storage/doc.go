// Package storage persists the run history of fired tasks.
//
// Backends:
//   - file: JSON Lines journal, compacted to the most recent records
//   - sqlite: SQLite database file (build tag sqlite)
//   - postgres: PostgreSQL through pgx
package storage
