package geospatial

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// LoadShapefile reads protected areas from an ESRI shapefile, taking each
// area's name from the given attribute field. Non-polygon shapes are
// skipped with a log entry.
func LoadShapefile(path, nameField string) ([]Area, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geospatial: open shapefile %s", path)
	}
	defer r.Close() //nolint:errcheck

	nameIdx := -1
	for i, f := range r.Fields() {
		if strings.EqualFold(f.String(), nameField) {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil, eris.Errorf("geospatial: shapefile %s has no field %q", path, nameField)
	}

	var areas []Area
	for r.Next() {
		n, shape := r.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			zap.L().Warn("geospatial: skipping non-polygon shape", zap.Int("record", n))
			continue
		}
		g := polygonToMultiPolygon(poly)
		if g == nil {
			zap.L().Warn("geospatial: skipping empty polygon shape", zap.Int("record", n))
			continue
		}
		areas = append(areas, Area{
			Name: r.ReadAttribute(n, nameIdx),
			Geom: g,
		})
	}
	if err := r.Err(); err != nil {
		return nil, eris.Wrapf(err, "geospatial: read shapefile %s", path)
	}

	return areas, nil
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon,
// one member polygon per part.
func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("geospatial: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("geospatial: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
