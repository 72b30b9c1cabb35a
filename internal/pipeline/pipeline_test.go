package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bouwdata/heritage-cli/internal/geospatial"
)

// End to end through orchestrator and writer: a monument, a unit inside a
// protected area, and a withdrawn id that resolves to a substitute which is
// itself a monument.
func TestPipeline_EndToEnd(t *testing.T) {
	area, err := geospatial.AreaFromWKT("OldTown", "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0))")
	require.NoError(t, err)
	areas := geospatial.NewAreaIndex([]geospatial.Area{area})

	source := &sliceSource{
		header: []string{"unit_id", "street"},
		rows: []Row{
			{"A", "Main St"},
			{"B", "Canal St"},
			{"C", "Side St"},
		},
	}
	monuments := &fakeMonuments{numbers: map[string]string{"A": "12345", "C2": "777"}}
	geometries := &fakeGeometries{wkts: map[string]string{
		"A":  "POINT (50 50)",
		"B":  "POINT (5 5)",
		"C2": "POINT (60 60)",
	}}
	alternatives := &fakeAlternatives{alts: map[string][]string{"C": {"C2"}}}

	progress := NewProgress(len(source.rows))
	o, err := NewOrchestrator(OrchestratorConfig{
		Source:       source,
		Monuments:    monuments,
		Geometries:   geometries,
		Alternatives: alternatives,
		Areas:        areas,
		IDColumn:     "unit_id",
		BatchSize:    2,
		Progress:     progress,
	})
	require.NoError(t, err)

	sink := &memorySink{}
	w, err := NewWriter(sink, source.Header(), "unit_id", progress)
	require.NoError(t, err)

	ch := make(chan EnrichedResult, 2)
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return o.Run(ctx, ch) })
	g.Go(func() error { return w.Run(ctx, ch) })
	require.NoError(t, g.Wait())

	assert.Equal(t, []string{
		"unit_id", "street",
		"is_monument", "monument_url", "is_protected_area", "protected_area_name", "fallback_unit_id",
	}, sink.header)

	require.Len(t, sink.rows, 3)
	assert.Equal(t, []string{
		"A", "Main St",
		"true", "https://www.monumenten.nl/monument/12345", "false", "", "",
	}, sink.rows[0])
	assert.Equal(t, []string{
		"B", "Canal St",
		"false", "", "true", "OldTown", "",
	}, sink.rows[1])
	assert.Equal(t, []string{
		"C", "Side St",
		"true", "https://www.monumenten.nl/monument/777", "false", "", "C2",
	}, sink.rows[2])

	assert.Equal(t, map[string]string{"C": "C2"}, o.Aliases())
	assert.Empty(t, o.Unresolved())
	assert.EqualValues(t, 3, progress.Queried())
	assert.EqualValues(t, 3, progress.Written())
}
