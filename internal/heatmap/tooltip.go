package heatmap

import (
	"github.com/flybeeper/region-heatmap/internal/models"
)

// ActivityLevel словесный уровень активности по числу полетов
func ActivityLevel(flights int64) string {
	switch {
	case flights > 1000:
		return "Высокая"
	case flights > 500:
		return "Средняя"
	case flights > 100:
		return "Низкая"
	case flights > 0:
		return "Минимальная"
	default:
		return "Нет активности"
	}
}

// Tooltip подсказка для региона под указателем
type Tooltip struct {
	RegionID         int    `json:"regionId"`
	Name             string `json:"name"`
	TotalFlights     int64  `json:"totalFlights"`
	IntensityPercent int    `json:"intensityPercent"`
	TopAircraftType  string `json:"topAircraftType,omitempty"`
	ActivityLevel    string `json:"activityLevel"`
	HasStats         bool   `json:"hasStats"`
}

// BuildTooltip строит подсказку из обогащенного региона
func BuildTooltip(r *models.EnrichedRegion) Tooltip {
	top, _ := r.Stats.TopAircraftType()
	return Tooltip{
		RegionID:         r.ID,
		Name:             r.DisplayName(),
		TotalFlights:     r.TotalFlights,
		IntensityPercent: IntensityPercent(r.NormalizedValue),
		TopAircraftType:  top,
		ActivityLevel:    ActivityLevel(r.TotalFlights),
		HasStats:         r.HasStats,
	}
}

// Detail карточка выбранного региона по детальной статистике
type Detail struct {
	RegionID              int                   `json:"regionId"`
	Name                  string                `json:"name"`
	TotalFlights          int64                 `json:"totalFlights"`
	UniqueOperators       int64                 `json:"uniqueOperators"`
	AverageFlightDuration *float64              `json:"averageFlightDuration,omitempty"`
	ActivityLevel         string                `json:"activityLevel"`
	DailyShares           *models.DailyActivity `json:"dailyShares,omitempty"`
	AircraftTypes         map[string]int64      `json:"flightsByAircraftType,omitempty"`
	TopAircraftType       string                `json:"topAircraftType,omitempty"`
	Operators             map[string]int64      `json:"flightsByOperator,omitempty"`
	Years                 []models.YearCount    `json:"yearlyDistribution,omitempty"`
	BusiestYear           *models.YearCount     `json:"busiestYear,omitempty"`
	ZeroDays              *int64                `json:"zeroDays,omitempty"`
	PeriodDescription     string                `json:"periodDescription,omitempty"`
}

// BuildDetail строит карточку региона. stats - детальный ответ, может быть богаче
// пакетного; name берется из геометрии.
func BuildDetail(geom models.RegionGeometry, stats *models.RegionStatistics) Detail {
	d := Detail{
		RegionID:        geom.ID,
		Name:            geom.DisplayName(),
		TotalFlights:    flightsOf(stats),
		UniqueOperators: stats.Operators(),
		ActivityLevel:   ActivityLevel(flightsOf(stats)),
	}
	if stats == nil {
		return d
	}

	if avg, ok := stats.AverageDuration(); ok {
		d.AverageFlightDuration = &avg
	}
	if stats.DailyActivity != nil {
		shares := stats.DailyActivity.Shares()
		d.DailyShares = &shares
	}
	d.AircraftTypes = stats.FlightsByAircraftType
	d.TopAircraftType, _ = stats.TopAircraftType()
	d.Operators = stats.FlightsByOperator
	d.Years = stats.Years()
	if busiest, ok := stats.BusiestYear(); ok {
		d.BusiestYear = &busiest
	}
	d.ZeroDays = stats.ZeroDays
	d.PeriodDescription = stats.PeriodDescription
	return d
}
