// Package history persists capture outcomes in a SQLite database so the
// operator can review what the watch service did across restarts.
//
// The store is append-mostly: one row per finished job. Schema changes are
// applied through embedded, ordered SQL migrations.
package history
