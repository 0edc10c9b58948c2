package heatmap

import (
	"sort"
	"strings"

	"github.com/flybeeper/region-heatmap/internal/models"
)

// WarningEmptyDataset ни у одного региона нет данных (информационное состояние, не ошибка)
const WarningEmptyDataset = "empty_dataset"

// SidebarRow строка списка регионов
type SidebarRow struct {
	ID                    int     `json:"id"`
	Name                  string  `json:"name"`
	TotalFlights          int64   `json:"totalFlights"`
	UniqueOperators       int64   `json:"uniqueOperators"`
	AverageFlightDuration float64 `json:"averageFlightDuration"`
	NormalizedValue       float64 `json:"normalizedValue"`
	IntensityPercent      int     `json:"intensityPercent"`
	ActivityLevel         string  `json:"activityLevel"`
	Color                 string  `json:"color"`
	HasStats              bool    `json:"hasStats"`
	Selected              bool    `json:"selected"`
}

// Sidebar производное представление набора для боковой панели
type Sidebar struct {
	Rows            []SidebarRow           `json:"rows"`
	Shown           int                    `json:"shown"`
	TotalRegions    int                    `json:"totalRegions"`
	RegionsWithData int                    `json:"regionsWithData"`
	Aggregate       models.GlobalAggregate `json:"aggregate"`
	Warning         string                 `json:"warning,omitempty"`
}

// SidebarQuery параметры проекции
type SidebarQuery struct {
	// Filter подстрока имени без учета регистра; пустая строка - без фильтра
	Filter string
	// SelectedID выбранный регион, nil - выбора нет
	SelectedID *int
}

// ProjectSidebar строит список регионов: по убыванию полетов, при равенстве по id.
// Не хранит состояния и не изменяет набор.
func ProjectSidebar(ds *models.Dataset, q SidebarQuery) Sidebar {
	sb := Sidebar{Rows: []SidebarRow{}}
	if ds == nil {
		return sb
	}

	sb.Aggregate = ds.Aggregate
	sb.TotalRegions = ds.Aggregate.TotalRegions
	sb.RegionsWithData = ds.Aggregate.RegionsWithData
	if ds.Aggregate.Empty() {
		sb.Warning = WarningEmptyDataset
	}

	needle := strings.ToLower(strings.TrimSpace(q.Filter))
	for i := range ds.Regions {
		r := &ds.Regions[i]
		name := r.DisplayName()
		if needle != "" && !strings.Contains(strings.ToLower(name), needle) {
			continue
		}
		sb.Rows = append(sb.Rows, SidebarRow{
			ID:                    r.ID,
			Name:                  name,
			TotalFlights:          r.TotalFlights,
			UniqueOperators:       r.UniqueOperators,
			AverageFlightDuration: r.AverageFlightDuration,
			NormalizedValue:       r.NormalizedValue,
			IntensityPercent:      IntensityPercent(r.NormalizedValue),
			ActivityLevel:         ActivityLevel(r.TotalFlights),
			Color:                 r.Color,
			HasStats:              r.HasStats,
			Selected:              q.SelectedID != nil && *q.SelectedID == r.ID,
		})
	}

	sort.SliceStable(sb.Rows, func(i, j int) bool {
		if sb.Rows[i].TotalFlights != sb.Rows[j].TotalFlights {
			return sb.Rows[i].TotalFlights > sb.Rows[j].TotalFlights
		}
		return sb.Rows[i].ID < sb.Rows[j].ID
	})
	sb.Shown = len(sb.Rows)

	return sb
}
