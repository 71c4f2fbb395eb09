// Package repositories implements SQLite persistence for the migration audit log.
//
// Records are written when an operation or bulk run reaches a terminal state. Nothing here is read back to
// resume work: the CMS sidecar stays the only migration checkpoint.
//
// Key Implementations:
//   - [TransferRepository] : Terminal transfer outcomes with status and asset lookups
//   - [WorklistRepository] : Bulk run counter summaries
//
// Transfer records carry a sequence number for stable, human-readable ordering independent of UUIDs.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
