// =============================================================================
// Collection Aggregator - Main Entry Point
// =============================================================================
//
// USAGE:
//   aggregator aggregate   - Aggregate collection reports
//   aggregator validate    - Check a report's header and totals
//   aggregator serve       - Start the upload API
//   aggregator version     - Display the application version
//
// LAYOUT:
//   cmd/        CLI commands (Cobra)
//   internal/   engine, row sources, config, HTTP server, report writers
//   pkg/        file handling shared by batch runs
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/collection-aggregator/cmd"
)

func main() {
	cmd.Execute()
}
