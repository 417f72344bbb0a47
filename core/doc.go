// Package core defines the domain model shared by the detection pipeline.
//
// The core package provides:
//   - Record types (RawRecord, EnrichedRecord)
//   - Severity levels and findings
//   - Statistics snapshots consumed by result sinks
//   - The run-wide error log
//   - Field key resolution from rule keys to record paths
//
// Types in this package carry no behavior that blocks or performs I/O.
package core
