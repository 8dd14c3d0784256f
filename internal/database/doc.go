// Package database is the SQLite job history ledger.
//
// Every finished compression job, successful or not, is stored with its
// kind, sizes, output format, error kind and duration. The ledger backs
// GET /api/jobs and /api/stats and feeds the history gauges through
// [Database.GetStats], which satisfies metrics.StatsProvider. It never
// stores uploaded or compressed bytes.
//
// The database uses WAL mode and creates its schema on open.
package database
