package models

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// EnrichedRegion геометрия региона со статистикой и производными полями.
// Производные поля - чистая функция агрегата и собственного totalFlights.
type EnrichedRegion struct {
	RegionGeometry
	Stats                 *RegionStatistics `json:"-"`
	HasStats              bool              `json:"hasStats"`
	TotalFlights          int64             `json:"totalFlights"`
	UniqueOperators       int64             `json:"uniqueOperators"`
	AverageFlightDuration float64           `json:"averageFlightDuration"`
	NormalizedValue       float64           `json:"normalizedValue"`
	Color                 string            `json:"color"`
}

// GlobalAggregate агрегат по всем регионам, вычисляется один раз за проход слияния
type GlobalAggregate struct {
	MinFlights      int64   `json:"minFlights"`
	MaxFlights      int64   `json:"maxFlights"`
	TotalRegions    int     `json:"totalRegions"`
	RegionsWithData int     `json:"regionsWithData"`
	TotalFlights    int64   `json:"totalFlights"`
	AverageDuration float64 `json:"averageDuration"`
}

// Empty сообщает, что ни у одного региона нет данных (информационное предупреждение)
func (a GlobalAggregate) Empty() bool {
	return a.RegionsWithData == 0
}

// Dataset результат слияния. Только для чтения: новый набор заменяет старый целиком.
type Dataset struct {
	Regions   []EnrichedRegion `json:"regions"`
	Aggregate GlobalAggregate  `json:"aggregate"`

	index map[int]int
}

// NewDataset создает набор данных и индекс по идентификатору
func NewDataset(regions []EnrichedRegion, aggregate GlobalAggregate) *Dataset {
	index := make(map[int]int, len(regions))
	for i, r := range regions {
		index[r.ID] = i
	}
	return &Dataset{Regions: regions, Aggregate: aggregate, index: index}
}

// Region возвращает регион по идентификатору
func (d *Dataset) Region(id int) (*EnrichedRegion, bool) {
	if d == nil {
		return nil, false
	}
	i, ok := d.index[id]
	if !ok {
		return nil, false
	}
	return &d.Regions[i], true
}

// Geometries возвращает геометрии в исходном порядке
func (d *Dataset) Geometries() []RegionGeometry {
	geoms := make([]RegionGeometry, len(d.Regions))
	for i, r := range d.Regions {
		geoms[i] = r.RegionGeometry
	}
	return geoms
}

// Bound возвращает общий прямоугольник всех регионов
func (d *Dataset) Bound() (orb.Bound, bool) {
	return CollectionBound(d.Geometries())
}

// FeatureCollection представляет набор как GeoJSON с обогащенными свойствами
func (d *Dataset) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range d.Regions {
		f := geojson.NewFeature(r.Polygons)
		f.ID = r.ID
		f.Properties = geojson.Properties{
			"id":                    r.ID,
			"name":                  r.DisplayName(),
			"hasStats":              r.HasStats,
			"totalFlights":          r.TotalFlights,
			"uniqueOperators":       r.UniqueOperators,
			"averageFlightDuration": r.AverageFlightDuration,
			"normalizedValue":       r.NormalizedValue,
			"color":                 r.Color,
		}
		if r.Stats != nil {
			if len(r.Stats.FlightsByAircraftType) > 0 {
				f.Properties["flightsByAircraftType"] = r.Stats.FlightsByAircraftType
			}
			if len(r.Stats.CenterCodes) > 0 {
				f.Properties["centerCodes"] = r.Stats.CenterCodes
			}
		}
		fc.Append(f)
	}
	return fc
}
