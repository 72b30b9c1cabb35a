// Package geospatial builds the protected-area polygon index and answers
// point containment queries against it.
package geospatial

import (
	"math"
	"sort"

	"github.com/twpayne/go-geom"
)

// BBox is an axis-aligned bounding box.
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// BBoxOf returns the bounding box of a geometry.
func BBoxOf(g geom.T) BBox {
	b := g.Bounds()
	return BBox{
		MinX: b.Min(0),
		MinY: b.Min(1),
		MaxX: b.Max(0),
		MaxY: b.Max(1),
	}
}

// Intersects reports whether the two boxes overlap.
func (b BBox) Intersects(o BBox) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX &&
		b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// SpatialIndex answers approximate candidate queries over inserted bounding
// boxes. Search returns candidate ids in ascending insertion order; exact
// geometry tests are the caller's concern.
type SpatialIndex interface {
	Insert(id int, box BBox)
	Search(box BBox) []int
}

// GridIndex is a uniform-cell spatial index. Each box is registered in every
// cell it covers; a search collects the ids of all cells the query box
// touches and filters them by exact bbox overlap.
type GridIndex struct {
	cellSize float64
	cells    map[[2]int][]int
	boxes    map[int]BBox
}

// NewGridIndex creates a GridIndex with the given cell size. A non-positive
// size falls back to 1.
func NewGridIndex(cellSize float64) *GridIndex {
	if cellSize <= 0 {
		cellSize = 1
	}
	return &GridIndex{
		cellSize: cellSize,
		cells:    make(map[[2]int][]int),
		boxes:    make(map[int]BBox),
	}
}

func (g *GridIndex) cellRange(box BBox) (x0, y0, x1, y1 int) {
	x0 = int(math.Floor(box.MinX / g.cellSize))
	y0 = int(math.Floor(box.MinY / g.cellSize))
	x1 = int(math.Floor(box.MaxX / g.cellSize))
	y1 = int(math.Floor(box.MaxY / g.cellSize))
	return
}

// Insert registers a bounding box under the given id.
func (g *GridIndex) Insert(id int, box BBox) {
	g.boxes[id] = box
	x0, y0, x1, y1 := g.cellRange(box)
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			key := [2]int{x, y}
			g.cells[key] = append(g.cells[key], id)
		}
	}
}

// Search returns the ids whose boxes overlap the query box, deduplicated and
// sorted ascending.
func (g *GridIndex) Search(box BBox) []int {
	seen := make(map[int]struct{})
	var out []int
	x0, y0, x1, y1 := g.cellRange(box)
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			for _, id := range g.cells[[2]int{x, y}] {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				if g.boxes[id].Intersects(box) {
					out = append(out, id)
				}
			}
		}
	}
	sort.Ints(out)
	return out
}
