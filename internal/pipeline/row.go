// Package pipeline contains the enrichment pipeline: row source and sink,
// the batch orchestrator producing enriched results, and the writer that
// joins and emits them in input order.
package pipeline

import (
	"context"

	"github.com/bouwdata/heritage-cli/internal/resolver"
	"github.com/bouwdata/heritage-cli/pkg/kadaster"
)

// Row is one input record, values aligned with the source header.
type Row []string

// RowSource yields input rows in order. Implementations may read the input
// fully up front or stream it; the orchestrator only consumes sequentially.
type RowSource interface {
	// Header returns the column names in input order.
	Header() []string
	// Next returns the next row, or ok=false at end of input.
	Next() (row Row, ok bool, err error)
}

// RowSink appends enriched rows to durable storage. The header is written
// exactly once, before any row.
type RowSink interface {
	WriteHeader(columns []string) error
	WriteRow(values []string) error
}

// Batch is a contiguous fixed-maximum-size slice of input rows together
// with its derived unit-id list.
type Batch struct {
	Seq  int
	Rows []Row
	IDs  []string
}

// EnrichedResult couples a batch with its lookup results. Aliases holds the
// substitute id for every aliased id in this batch, so the writer never
// reads shared state.
type EnrichedResult struct {
	Batch       Batch
	Monuments   map[string]string
	AreaMatches map[string]string
	Aliases     map[string]string
}

// MonumentSource answers batched monument lookups.
type MonumentSource interface {
	Monuments(ctx context.Context, ids []string) (map[string]string, error)
}

// GeometrySource answers batched unit geometry lookups.
type GeometrySource interface {
	Geometries(ctx context.Context, ids []string) ([]kadaster.Geometry, error)
}

// AlternativeFinder resolves a missing id to address-equivalent candidates.
type AlternativeFinder interface {
	Alternatives(ctx context.Context, id string) ([]resolver.Candidate, error)
}

// AreaMatcher tests a geometry against the protected-area index.
type AreaMatcher interface {
	FindContainingArea(wktGeometry string) (name string, ok bool)
}
