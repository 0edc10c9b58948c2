package heatmap

import (
	"time"

	"github.com/flybeeper/region-heatmap/internal/metrics"
	"github.com/flybeeper/region-heatmap/internal/models"
)

// Aggregate первый проход слияния: min/max по регионам с полетами,
// сумма полетов и среднее из присутствующих средних длительностей.
func Aggregate(geoms []models.RegionGeometry, stats map[int]*models.RegionStatistics) models.GlobalAggregate {
	agg := models.GlobalAggregate{TotalRegions: len(geoms)}

	var durationTotal float64
	var durationCount int

	for _, g := range geoms {
		s := stats[g.ID]
		flights := flightsOf(s)
		if flights <= 0 {
			continue
		}

		if agg.RegionsWithData == 0 || flights < agg.MinFlights {
			agg.MinFlights = flights
		}
		if flights > agg.MaxFlights {
			agg.MaxFlights = flights
		}
		agg.RegionsWithData++
		agg.TotalFlights += flights

		if avg, ok := s.AverageDuration(); ok && avg > 0 {
			durationTotal += avg
			durationCount++
		}
	}

	if durationCount > 0 {
		agg.AverageDuration = durationTotal / float64(durationCount)
	}
	return agg
}

// Normalize нормализованная интенсивность региона: flights/max, 0 при max == 0
func Normalize(flights, maxFlights int64) float64 {
	if maxFlights <= 0 || flights <= 0 {
		return 0
	}
	return clamp01(float64(flights) / float64(maxFlights))
}

// Merge объединяет геометрию со статистикой в обогащенный набор.
// Чистая тотальная функция: каждый регион попадает в результат ровно один раз
// в исходном порядке; отсутствующая статистика означает нулевую активность.
func Merge(geoms []models.RegionGeometry, stats map[int]*models.RegionStatistics, scale ColorScale) *models.Dataset {
	start := time.Now()
	defer func() {
		metrics.MergeDuration.Observe(time.Since(start).Seconds())
	}()

	agg := Aggregate(geoms, stats)

	regions := make([]models.EnrichedRegion, len(geoms))
	for i, g := range geoms {
		s := stats[g.ID]
		hasStats := s != nil
		flights := flightsOf(s)
		value := Normalize(flights, agg.MaxFlights)

		avg, _ := s.AverageDuration()
		if avg < 0 {
			avg = 0
		}
		operators := s.Operators()
		if operators < 0 {
			operators = 0
		}

		regions[i] = models.EnrichedRegion{
			RegionGeometry:        g,
			Stats:                 s,
			HasStats:              hasStats,
			TotalFlights:          flights,
			UniqueOperators:       operators,
			AverageFlightDuration: avg,
			NormalizedValue:       value,
			Color:                 scale.Color(value, hasStats),
		}
	}

	metrics.RegionsWithData.Observe(float64(agg.RegionsWithData))
	if agg.Empty() {
		metrics.EmptyDatasets.Inc()
	}

	return models.NewDataset(regions, agg)
}

// flightsOf число полетов с умолчаниями: нет статистики или отрицательное значение дают 0
func flightsOf(s *models.RegionStatistics) int64 {
	flights := s.Flights()
	if flights < 0 {
		return 0
	}
	return flights
}
