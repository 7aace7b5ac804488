// =============================================================================
// Collection Aggregator - Aggregation Engine
// =============================================================================
//
// This module orchestrates one parse of a raw collection workbook, from the
// uploaded bytes to the Branch -> Officer aggregate.
//
// PARSE PIPELINE (single forward pass):
//   1. Open a row source for the payload (xlsx, xls or csv)
//   2. Offer the leading rows to the column resolver until it finds the header
//   3. Normalize, bucket and aggregate every following row
//   4. Finalize the tree (derive percentages, count officers)
//
// DEGRADED MODE:
//   Account detail is what makes a full parse expensive. ParseWithFallback
//   drops it in two situations and records that in meta.fallback:
//   - the workbook declares more rows than DegradeRowThreshold
//   - a full-detail pass exceeds the detail budget (ErrResourceExhausted),
//     in which case the whole parse is run again without detail
//
// CONCURRENCY:
//   An Engine holds only configuration and may be shared. Each call builds
//   and owns its own tree; there is no concurrency inside a parse.
//
// =============================================================================

package converter

import (
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ginjaninja78/collection-aggregator/internal/csvparser"
	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// Defaults for Options fields left at zero.
const (
	DefaultHeaderScanRows      = 10
	DefaultMinHeaderMatches    = 5
	DefaultDegradeRowThreshold = 250000
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures an Engine.
type Options struct {
	// HeaderScanRows is how many leading rows may hold the header.
	HeaderScanRows int

	// MinHeaderMatches is how many distinct canonical fields a row needs
	// to be taken as the header.
	MinHeaderMatches int

	// DegradeRowThreshold makes ParseWithFallback skip account detail when
	// the estimated row count is above it. Zero disables the check.
	DegradeRowThreshold int

	// MaxDetailRows and MaxHeapMB form the detail budget of a full pass.
	// Zero means unlimited.
	MaxDetailRows int
	MaxHeapMB     int

	// Aliases is the header alias table. Nil means DefaultAliases.
	Aliases AliasTable

	// CSV controls how CSV payloads are decoded.
	CSV csvparser.Settings
}

// DefaultOptions returns the options used by the package-level Parse.
func DefaultOptions() Options {
	return Options{
		HeaderScanRows:      DefaultHeaderScanRows,
		MinHeaderMatches:    DefaultMinHeaderMatches,
		DegradeRowThreshold: DefaultDegradeRowThreshold,
		Aliases:             DefaultAliases,
	}
}

func (o Options) withDefaults() Options {
	if o.HeaderScanRows <= 0 {
		o.HeaderScanRows = DefaultHeaderScanRows
	}
	if o.MinHeaderMatches <= 0 {
		o.MinHeaderMatches = DefaultMinHeaderMatches
	}
	if o.Aliases == nil {
		o.Aliases = DefaultAliases
	}
	return o
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs parses with a fixed configuration.
type Engine struct {
	opts   Options
	logger *zap.Logger
}

// New creates an Engine. A nil logger discards log output.
func New(opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{opts: opts.withDefaults(), logger: logger}
}

// Parse aggregates data with the default options, falling back to a
// degraded parse when needed. It is the entry point for callers that do not
// manage an Engine.
func Parse(data []byte, includeAccounts bool) (*types.Result, error) {
	return New(DefaultOptions(), zap.L()).ParseWithFallback(data, includeAccounts)
}

// Parse runs a single pass over data.
//
// PARAMETERS:
//   - data: the raw bytes of an .xlsx, .xls or .csv file.
//   - includeAccounts: retain per-account detail under each officer.
//
// RETURNS:
//   - The aggregate.
//   - A *validation.ValidationError when the input cannot be understood,
//     ErrResourceExhausted when the detail budget tripped, or any other
//     error for a failure while reading.
func (e *Engine) Parse(data []byte, includeAccounts bool) (*types.Result, error) {
	startTime := time.Now()

	// =========================================================================
	// STEP 1: OPEN ROW SOURCE
	// =========================================================================

	src, format, err := OpenSource(data, e.opts.CSV)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			e.logger.Warn("failed to close row source", zap.Error(cerr))
		}
	}()

	// =========================================================================
	// STEP 2: RESOLVE HEADER
	// =========================================================================
	// The resolver consumes rows up to and including the header row, so
	// the source is positioned on the first data row afterwards.

	mapping, headerRow, err := e.resolveHeader(src)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("header resolved",
		zap.String("format", string(format)),
		zap.Int("header_row", headerRow),
		zap.Int("fields", len(mapping)),
	)

	// =========================================================================
	// STEP 3: AGGREGATE ROWS
	// =========================================================================

	var budget *Budget
	if includeAccounts {
		budget = NewBudget(e.opts.MaxDetailRows, e.opts.MaxHeapMB)
	}
	agg := NewAggregator(includeAccounts, budget)

	skipped := 0
	for src.Next() {
		row, ok := Normalize(src.Row(), mapping)
		if !ok {
			skipped++
			continue
		}
		if err := agg.Add(row, Classify(row.DPDGroup, row.DPDDays)); err != nil {
			return nil, err
		}
	}
	if err := src.Err(); err != nil {
		return nil, eris.Wrap(err, "converter: read data rows")
	}

	// =========================================================================
	// STEP 4: FINALIZE
	// =========================================================================

	result := agg.Finalize()

	e.logger.Info("parse complete",
		zap.String("format", string(format)),
		zap.Bool("include_accounts", includeAccounts),
		zap.Int("rows", result.Meta.TotalRows),
		zap.Int("skipped", skipped),
		zap.Int("branches", result.Meta.TotalBranches),
		zap.Int("officers", result.Meta.TotalOfficers),
		zap.Duration("duration", time.Since(startTime)),
	)
	return result, nil
}

// ParseWithFallback runs Parse and drops account detail when the input is
// too large for it. The degraded result carries meta.fallback and the
// reason. An explicit includeAccounts=false is not a fallback and sets no
// marker.
func (e *Engine) ParseWithFallback(data []byte, includeAccounts bool) (*types.Result, error) {
	if !includeAccounts {
		return e.Parse(data, false)
	}

	if threshold := e.opts.DegradeRowThreshold; threshold > 0 {
		estimate, err := EstimateRows(data)
		switch {
		case err != nil:
			e.logger.Debug("row estimate unavailable", zap.Error(err))
		case estimate > threshold:
			e.logger.Info("row estimate above threshold, skipping account detail",
				zap.Int("estimate", estimate),
				zap.Int("threshold", threshold),
			)
			return e.parseDegraded(data, types.FallbackRowEstimate)
		}
	}

	result, err := e.Parse(data, true)
	if errors.Is(err, ErrResourceExhausted) {
		e.logger.Warn("detail budget exhausted, retrying without account detail")
		return e.parseDegraded(data, types.FallbackResourceExhausted)
	}
	return result, err
}

func (e *Engine) parseDegraded(data []byte, reason string) (*types.Result, error) {
	result, err := e.Parse(data, false)
	if err != nil {
		return nil, err
	}
	result.Meta.Fallback = true
	result.Meta.FallbackReason = reason
	return result, nil
}

// resolveHeader feeds leading rows to a Resolver until it settles.
func (e *Engine) resolveHeader(src types.RowSource) (types.ColumnMapping, int, error) {
	resolver := NewResolver(e.opts.Aliases, e.opts.HeaderScanRows, e.opts.MinHeaderMatches)
	for src.Next() {
		if resolver.Offer(src.Row()) {
			break
		}
	}
	if err := src.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "converter: read header rows")
	}
	return resolver.Result()
}

// =============================================================================
// INSPECTION
// =============================================================================

// HeaderInfo describes how an input would be read, without aggregating it.
type HeaderInfo struct {
	Format    Format
	HeaderRow int // 1-based
	Mapping   types.ColumnMapping

	// EstimatedRows is -1 when the format gives no cheap estimate.
	EstimatedRows int
}

// Inspect opens data and resolves its header row only.
func (e *Engine) Inspect(data []byte) (*HeaderInfo, error) {
	src, format, err := OpenSource(data, e.opts.CSV)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	mapping, headerRow, err := e.resolveHeader(src)
	if err != nil {
		return nil, err
	}

	estimate, err := EstimateRows(data)
	if err != nil {
		estimate = -1
	}
	return &HeaderInfo{
		Format:        format,
		HeaderRow:     headerRow,
		Mapping:       mapping,
		EstimatedRows: estimate,
	}, nil
}
