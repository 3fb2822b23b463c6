// Package storage persists the watcher's surfaces: the rolling event log,
// the seen-identity set, delivery notification state, governor state, and
// the status record the dashboard reads.
//
// The scheduler loop is the only writer. Surfaces are replaced atomically
// so external readers only ever see committed snapshots.
package storage
