package pipeline

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/bouwdata/heritage-cli/pkg/rce"
)

// EnrichedColumns are the columns appended to every input row, in output
// order.
var EnrichedColumns = []string{
	"is_monument",
	"monument_url",
	"is_protected_area",
	"protected_area_name",
	"fallback_unit_id",
}

// Writer drains enriched batches and appends one output row per input row.
// Batches arrive in input order because the orchestrator enqueues them
// sequentially, so no reordering buffer is needed.
type Writer struct {
	sink     RowSink
	header   []string
	idIdx    int
	progress *Progress
}

// NewWriter locates the id column in the input header and prepares the
// extended output header.
func NewWriter(sink RowSink, header []string, idColumn string, progress *Progress) (*Writer, error) {
	idIdx := -1
	for i, col := range header {
		if col == idColumn {
			idIdx = i
			break
		}
	}
	if idIdx < 0 {
		return nil, eris.Errorf("pipeline: id column %q not in input header", idColumn)
	}
	return &Writer{sink: sink, header: header, idIdx: idIdx, progress: progress}, nil
}

// Run writes the header, then consumes results until the channel closes.
func (w *Writer) Run(ctx context.Context, results <-chan EnrichedResult) error {
	columns := make([]string, 0, len(w.header)+len(EnrichedColumns))
	columns = append(columns, w.header...)
	columns = append(columns, EnrichedColumns...)
	if err := w.sink.WriteHeader(columns); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				return nil
			}
			if err := w.writeBatch(res); err != nil {
				return err
			}
			if w.progress != nil {
				w.progress.AddWritten(len(res.Batch.Rows))
			}
		}
	}
}

func (w *Writer) writeBatch(res EnrichedResult) error {
	for _, row := range res.Batch.Rows {
		id := row[w.idIdx]
		effective, fallback := id, ""
		if alt, ok := res.Aliases[id]; ok {
			effective, fallback = alt, alt
		}

		number, isMonument := res.Monuments[effective]
		url := ""
		if isMonument {
			url = rce.MonumentURL(number)
		}
		areaName, inArea := res.AreaMatches[effective]

		values := make([]string, 0, len(row)+len(EnrichedColumns))
		values = append(values, row...)
		values = append(values,
			strconv.FormatBool(isMonument),
			url,
			strconv.FormatBool(inArea),
			areaName,
			fallback,
		)
		if err := w.sink.WriteRow(values); err != nil {
			return err
		}
	}
	return nil
}
