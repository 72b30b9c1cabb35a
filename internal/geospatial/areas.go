package geospatial

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"
)

// Area is a named protected-area polygon.
type Area struct {
	Name string
	Geom geom.T
}

// AreaFromWKT parses a well-known-text polygon into an Area.
func AreaFromWKT(name, wktText string) (Area, error) {
	g, err := wkt.Unmarshal(wktText)
	if err != nil {
		return Area{}, eris.Wrapf(err, "geospatial: parse WKT for area %q", name)
	}
	return Area{Name: name, Geom: g}, nil
}

// AreaIndex answers "which protected area contains this point" queries.
// Candidates come from a bounding-box index and are tested exactly in
// insertion order; when a point lies inside two overlapping areas the
// first-inserted one wins. That ambiguity is accepted, not a defect.
type AreaIndex struct {
	areas []Area
	index SpatialIndex
}

// NewAreaIndex builds the index over the given areas. The grid cell size is
// derived from the mean bounding-box extent of the polygon set.
func NewAreaIndex(areas []Area) *AreaIndex {
	idx := &AreaIndex{
		areas: areas,
		index: NewGridIndex(meanExtent(areas)),
	}
	for i, a := range areas {
		idx.index.Insert(i, BBoxOf(a.Geom))
	}
	zap.L().Info("geospatial: protected-area index built", zap.Int("areas", len(areas)))
	return idx
}

// meanExtent returns the average of the larger bbox dimension across areas.
func meanExtent(areas []Area) float64 {
	if len(areas) == 0 {
		return 1
	}
	var sum float64
	for _, a := range areas {
		b := BBoxOf(a.Geom)
		w, h := b.MaxX-b.MinX, b.MaxY-b.MinY
		if h > w {
			w = h
		}
		sum += w
	}
	return sum / float64(len(areas))
}

// findContaining returns the name of the first-inserted area containing the
// geometry's representative point, or ("", false) when none does.
func (ai *AreaIndex) findContaining(g geom.T) (string, bool) {
	p := representativePoint(g)
	for _, id := range ai.index.Search(BBoxOf(g)) {
		if Contains(ai.areas[id].Geom, p) {
			return ai.areas[id].Name, true
		}
	}
	return "", false
}

// FindContainingArea parses the well-known-text geometry and matches it
// against the index. Malformed WKT is logged and treated as no match: one
// unparseable unit geometry must not fail its whole batch.
func (ai *AreaIndex) FindContainingArea(wktText string) (string, bool) {
	g, err := wkt.Unmarshal(wktText)
	if err != nil {
		zap.L().Warn("geospatial: skipping unparseable unit geometry", zap.Error(err))
		return "", false
	}
	return ai.findContaining(g)
}

// Len returns the number of indexed areas.
func (ai *AreaIndex) Len() int {
	return len(ai.areas)
}

// representativePoint returns the geometry's own coordinate for points and
// the bounding-box center otherwise. Unit geometries are points in practice;
// the center is a fallback for the odd footprint polygon.
func representativePoint(g geom.T) geom.Coord {
	if p, ok := g.(*geom.Point); ok {
		return p.Coords()
	}
	b := BBoxOf(g)
	return geom.Coord{(b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2}
}
