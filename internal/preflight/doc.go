// Package preflight checks that indexsync can run against a project before
// any import starts.
//
// The checks cover:
//   - Free disk space under the data directory (minimum 100MB)
//   - Write permissions in the data directory
//   - File descriptor limits (minimum 1024)
//   - The source database and the tables indexes read from
//   - Whether another process holds the data directory lock
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, preflight.Target{DataDir: dir})
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
