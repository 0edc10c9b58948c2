package models

import (
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// RegionGeometry граница региона. Неизменяема после загрузки.
type RegionGeometry struct {
	ID       int              `json:"id"`
	Name     string           `json:"name,omitempty"`
	Polygons orb.MultiPolygon `json:"-"`
}

// DisplayName возвращает имя региона или запасное "Регион {id}"
func (g RegionGeometry) DisplayName() string {
	if g.Name != "" {
		return g.Name
	}
	return fmt.Sprintf("Регион %d", g.ID)
}

// Rings возвращает все кольца полигонов в исходном порядке
func (g RegionGeometry) Rings() []orb.Ring {
	rings := make([]orb.Ring, 0, len(g.Polygons))
	for _, poly := range g.Polygons {
		rings = append(rings, poly...)
	}
	return rings
}

// Bound возвращает ограничивающий прямоугольник региона
func (g RegionGeometry) Bound() orb.Bound {
	return g.Polygons.Bound()
}

// Validate проверяет корректность геометрии
func (g RegionGeometry) Validate() error {
	if len(g.Polygons) == 0 {
		return fmt.Errorf("region %d: empty geometry", g.ID)
	}
	for pi, poly := range g.Polygons {
		if len(poly) == 0 {
			return fmt.Errorf("region %d: polygon %d has no rings", g.ID, pi)
		}
		for ri, ring := range poly {
			if len(ring) < 3 {
				return fmt.Errorf("region %d: polygon %d ring %d has %d points", g.ID, pi, ri, len(ring))
			}
			for _, p := range ring {
				if math.IsNaN(p.Lon()) || math.IsNaN(p.Lat()) ||
					p.Lon() < -180 || p.Lon() > 180 || p.Lat() < -90 || p.Lat() > 90 {
					return fmt.Errorf("region %d: invalid coordinate (%f, %f)", g.ID, p.Lon(), p.Lat())
				}
			}
		}
	}
	return nil
}

// ShiftEastLongitudes возвращает копию геометрии, в которой точки восточнее
// threshold сдвинуты на shift градусов к западу (отрисовка Чукотки без разрыва карты)
func (g RegionGeometry) ShiftEastLongitudes(threshold, shift float64) RegionGeometry {
	out := RegionGeometry{ID: g.ID, Name: g.Name, Polygons: make(orb.MultiPolygon, len(g.Polygons))}
	for pi, poly := range g.Polygons {
		newPoly := make(orb.Polygon, len(poly))
		for ri, ring := range poly {
			newRing := make(orb.Ring, len(ring))
			for i, p := range ring {
				lon := p.Lon()
				if lon > threshold {
					lon -= shift
				}
				newRing[i] = orb.Point{lon, p.Lat()}
			}
			newPoly[ri] = newRing
		}
		out.Polygons[pi] = newPoly
	}
	return out
}

// CollectionBound возвращает общий прямоугольник для набора геометрий
func CollectionBound(geoms []RegionGeometry) (orb.Bound, bool) {
	if len(geoms) == 0 {
		return orb.Bound{}, false
	}
	bound := geoms[0].Bound()
	for _, g := range geoms[1:] {
		bound = bound.Union(g.Bound())
	}
	return bound, true
}

// ParseRegionCollection разбирает GeoJSON FeatureCollection границ регионов.
// Идентификатор берется из feature.id, затем из properties.id; он обязан быть уникальным.
func ParseRegionCollection(data []byte) ([]RegionGeometry, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse region collection: %w", err)
	}

	geoms := make([]RegionGeometry, 0, len(fc.Features))
	seen := make(map[int]struct{}, len(fc.Features))

	for i, f := range fc.Features {
		id, ok := featureID(f)
		if !ok {
			return nil, fmt.Errorf("feature %d: missing or non-integer id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("feature %d: duplicate region id %d", i, id)
		}
		seen[id] = struct{}{}

		var polygons orb.MultiPolygon
		switch geom := f.Geometry.(type) {
		case orb.MultiPolygon:
			polygons = geom
		case orb.Polygon:
			polygons = orb.MultiPolygon{geom}
		default:
			return nil, fmt.Errorf("region %d: unsupported geometry type %T", id, f.Geometry)
		}

		region := RegionGeometry{
			ID:       id,
			Name:     f.Properties.MustString("name", ""),
			Polygons: polygons,
		}
		if err := region.Validate(); err != nil {
			return nil, err
		}
		geoms = append(geoms, region)
	}

	return geoms, nil
}

// featureID извлекает целочисленный идентификатор региона
func featureID(f *geojson.Feature) (int, bool) {
	if id, ok := toInt(f.ID); ok {
		return id, true
	}
	if f.Properties != nil {
		if id, ok := toInt(f.Properties["id"]); ok {
			return id, true
		}
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) {
			return 0, false
		}
		return int(val), true
	case int:
		return val, true
	case int64:
		return int(val), true
	case string:
		id, err := strconv.Atoi(val)
		return id, err == nil
	default:
		return 0, false
	}
}
