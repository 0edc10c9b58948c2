package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/flybeeper/region-heatmap/internal/models"
)

// DefaultPrecision точность geohash для корзин индекса (ячейка ~156 км)
const DefaultPrecision = 3

// GeohashPrecisionKm примерный размер ячейки geohash в км
var GeohashPrecisionKm = map[int]float64{
	1: 5000.0, // ±2500 km
	2: 1250.0, // ±625 km
	3: 156.0,  // ±78 km
	4: 39.1,   // ±19.5 km
}

// entry регион в индексе
type entry struct {
	id      int
	bound   orb.Bound
	polygon orb.MultiPolygon
}

// RegionIndex пространственный индекс регионов для поиска региона под указателем.
// Регионы раскладываются по ячейкам geohash, покрывающим их bbox; точная
// принадлежность проверяется по полигонам. Индекс неизменяем после построения.
type RegionIndex struct {
	precision uint
	entries   []entry
	buckets   map[string][]int // geohash -> индексы entries в исходном порядке
}

// NewRegionIndex строит индекс по геометриям
func NewRegionIndex(geoms []models.RegionGeometry, precision int) *RegionIndex {
	if precision < 1 || precision > 4 {
		precision = DefaultPrecision
	}

	idx := &RegionIndex{
		precision: uint(precision),
		entries:   make([]entry, 0, len(geoms)),
		buckets:   make(map[string][]int),
	}

	for _, g := range geoms {
		e := entry{id: g.ID, bound: g.Bound(), polygon: g.Polygons}
		pos := len(idx.entries)
		idx.entries = append(idx.entries, e)

		for _, hash := range idx.cover(e.bound) {
			idx.buckets[hash] = append(idx.buckets[hash], pos)
		}
	}

	return idx
}

// Lookup возвращает регион, содержащий точку (lon, lat).
// При перекрытии побеждает регион, идущий раньше в исходной коллекции.
func (idx *RegionIndex) Lookup(lon, lat float64) (int, bool) {
	if idx == nil || math.IsNaN(lon) || math.IsNaN(lat) ||
		lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, false
	}

	pt := orb.Point{lon, lat}
	hash := geohash.EncodeWithPrecision(lat, lon, idx.precision)

	for _, pos := range idx.buckets[hash] {
		e := idx.entries[pos]
		if !e.bound.Contains(pt) {
			continue
		}
		if planar.MultiPolygonContains(e.polygon, pt) {
			return e.id, true
		}
	}
	return 0, false
}

// Intersecting возвращает идентификаторы регионов, чей bbox пересекает область
func (idx *RegionIndex) Intersecting(bound orb.Bound) []int {
	seen := make(map[int]bool)
	var ids []int
	for _, hash := range idx.cover(bound) {
		for _, pos := range idx.buckets[hash] {
			if seen[pos] {
				continue
			}
			seen[pos] = true
			if idx.entries[pos].bound.Intersects(bound) {
				ids = append(ids, idx.entries[pos].id)
			}
		}
	}
	return ids
}

// Len количество регионов в индексе
func (idx *RegionIndex) Len() int {
	return len(idx.entries)
}

// Buckets количество непустых ячеек
func (idx *RegionIndex) Buckets() int {
	return len(idx.buckets)
}

// cover возвращает ячейки geohash, покрывающие прямоугольник.
// Шаг равен размеру ячейки, последний шаг прижимается к границе.
func (idx *RegionIndex) cover(b orb.Bound) []string {
	minLat, maxLat := clampLat(b.Min.Lat()), clampLat(b.Max.Lat())
	minLon, maxLon := clampLon(b.Min.Lon()), clampLon(b.Max.Lon())

	cell := geohash.BoundingBox(geohash.EncodeWithPrecision(minLat, minLon, idx.precision))
	latStep := cell.MaxLat - cell.MinLat
	lonStep := cell.MaxLng - cell.MinLng

	hashes := make(map[string]bool)
	var result []string
	for lat := minLat; ; lat += latStep {
		if lat > maxLat {
			lat = maxLat
		}
		for lon := minLon; ; lon += lonStep {
			if lon > maxLon {
				lon = maxLon
			}
			hash := geohash.EncodeWithPrecision(lat, lon, idx.precision)
			if !hashes[hash] {
				hashes[hash] = true
				result = append(result, hash)
			}
			if lon >= maxLon {
				break
			}
		}
		if lat >= maxLat {
			break
		}
	}
	return result
}

func clampLat(v float64) float64 {
	return math.Max(-90, math.Min(90, v))
}

func clampLon(v float64) float64 {
	return math.Max(-180, math.Min(180, v))
}
