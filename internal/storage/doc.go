// Package storage persists posts and their engagement metrics.
//
// It currently supports:
//   - Post lifecycle rows (status, due/published times, per-platform results)
//   - Append-only metric snapshots per (post, platform)
package storage
