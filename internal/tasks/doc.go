// Package tasks orchestrates asset migrations with real-time progress reporting.
//
// # Single-item mode
//
// A [Session] exposes the migration as operator-invoked steps:
//
//  1. download: stream the source file to the temp directory
//  2. compress: transcode video (skipped for audio)
//  3. upload: single-shot or multipart, chosen by size
//  4. reconcile: patch the CMS sidecar once
//  5. cleanup: remove temp files, optionally delete the original
//
// [Session.Eligible] names the one step that may run next; any other step fails with
// [shared.ErrStepNotEligible]. Sessions live in a [Registry] keyed by operation id.
//
// # Bulk mode
//
// A [Worklist] runs pending assets strictly in order. [Worklist.ProcessNext] runs one item and
// [Worklist.RunAll] runs the rest until exhausted, paused or cancelled. Item errors are recorded and the
// run advances without retrying.
//
// # Progress Reporting
//
// Bulk runs use non-blocking channels for progress updates. The [ProgressUpdate] struct contains phase,
// step counters, messages, and optional data for advanced UI rendering. Updates use select with default
// to prevent blocking.
//
// # Recording
//
// The optional [Recorder] receives every terminal result (repositories.TransferRepository). It is an
// audit log; the CMS sidecar remains the only migration checkpoint.
package tasks
