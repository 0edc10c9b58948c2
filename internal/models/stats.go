package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidStats ошибка формы данных статистики
var ErrInvalidStats = errors.New("invalid region statistics")

// RegionStatistics каноническая запись статистики региона.
// Все поля опциональны; правила умолчаний применяются только при слиянии.
type RegionStatistics struct {
	RegionID              int              `json:"regionId"`
	TotalFlights          *int64           `json:"totalFlights,omitempty"`
	UniqueOperators       *int64           `json:"uniqueOperators,omitempty"`
	AverageFlightDuration *float64         `json:"averageFlightDuration,omitempty"`
	DailyActivity         *DailyActivity   `json:"dailyActivity,omitempty"`
	FlightsByAircraftType map[string]int64 `json:"flightsByAircraftType,omitempty"`
	FlightsByOperator     map[string]int64 `json:"flightsByOperator,omitempty"`
	YearlyDistribution    map[int]int64    `json:"yearlyDistribution,omitempty"`
	CenterCodes           []string         `json:"centerCodes,omitempty"`
	ZeroDays              *int64           `json:"zeroDays,omitempty"`
	PeriodDescription     string           `json:"periodDescription,omitempty"`
	StartDate             string           `json:"startDate,omitempty"`
	EndDate               string           `json:"endDate,omitempty"`
}

// Flights возвращает число полетов (0 при отсутствии)
func (s *RegionStatistics) Flights() int64 {
	if s == nil || s.TotalFlights == nil {
		return 0
	}
	return *s.TotalFlights
}

// Operators возвращает число уникальных операторов (0 при отсутствии)
func (s *RegionStatistics) Operators() int64 {
	if s == nil || s.UniqueOperators == nil {
		return 0
	}
	return *s.UniqueOperators
}

// AverageDuration возвращает среднюю длительность полета и признак ее наличия
func (s *RegionStatistics) AverageDuration() (float64, bool) {
	if s == nil || s.AverageFlightDuration == nil {
		return 0, false
	}
	return *s.AverageFlightDuration, true
}

// Validate проверяет форму данных; expectedID - регион, для которого запрашивалась статистика
func (s *RegionStatistics) Validate(expectedID int) error {
	if s == nil {
		return fmt.Errorf("%w: empty payload", ErrInvalidStats)
	}
	if s.RegionID != 0 && s.RegionID != expectedID {
		return fmt.Errorf("%w: region id %d does not match requested %d", ErrInvalidStats, s.RegionID, expectedID)
	}
	if s.TotalFlights != nil && *s.TotalFlights < 0 {
		return fmt.Errorf("%w: negative totalFlights %d", ErrInvalidStats, *s.TotalFlights)
	}
	if s.UniqueOperators != nil && *s.UniqueOperators < 0 {
		return fmt.Errorf("%w: negative uniqueOperators %d", ErrInvalidStats, *s.UniqueOperators)
	}
	if s.AverageFlightDuration != nil && *s.AverageFlightDuration < 0 {
		return fmt.Errorf("%w: negative averageFlightDuration", ErrInvalidStats)
	}
	if s.DailyActivity != nil {
		if err := s.DailyActivity.Validate(); err != nil {
			return err
		}
	}
	for name, count := range s.FlightsByAircraftType {
		if count < 0 {
			return fmt.Errorf("%w: negative count for aircraft type %q", ErrInvalidStats, name)
		}
	}
	return nil
}

// TopAircraftType возвращает самый частый тип ВС; при равенстве - первый по алфавиту
func (s *RegionStatistics) TopAircraftType() (string, bool) {
	if s == nil || len(s.FlightsByAircraftType) == 0 {
		return "", false
	}
	names := make([]string, 0, len(s.FlightsByAircraftType))
	for name := range s.FlightsByAircraftType {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if s.FlightsByAircraftType[name] > s.FlightsByAircraftType[best] {
			best = name
		}
	}
	return best, true
}

// YearCount количество полетов за год
type YearCount struct {
	Year    int   `json:"year"`
	Flights int64 `json:"flights"`
}

// Years возвращает распределение по годам, отсортированное по году
func (s *RegionStatistics) Years() []YearCount {
	if s == nil {
		return nil
	}
	years := make([]YearCount, 0, len(s.YearlyDistribution))
	for year, flights := range s.YearlyDistribution {
		years = append(years, YearCount{Year: year, Flights: flights})
	}
	sort.Slice(years, func(i, j int) bool { return years[i].Year < years[j].Year })
	return years
}

// BusiestYear возвращает самый насыщенный по полетам год (самый ранний при равенстве)
func (s *RegionStatistics) BusiestYear() (YearCount, bool) {
	years := s.Years()
	if len(years) == 0 {
		return YearCount{}, false
	}
	best := years[0]
	for _, y := range years[1:] {
		if y.Flights > best.Flights {
			best = y
		}
	}
	return best, true
}

// DailyActivity распределение полетов по времени суток
type DailyActivity struct {
	Morning float64 `json:"morning"`
	Day     float64 `json:"day"`
	Evening float64 `json:"evening"`
	Night   float64 `json:"night"`
}

// UnmarshalJSON принимает как английские ключи, так и русские ("утро", "день", "вечер", "ночь")
func (d *DailyActivity) UnmarshalJSON(data []byte) error {
	var raw map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: dailyActivity: %v", ErrInvalidStats, err)
	}
	pick := func(keys ...string) float64 {
		for _, k := range keys {
			if v, ok := raw[k]; ok && v != nil {
				return *v
			}
		}
		return 0
	}
	d.Morning = pick("morning", "утро")
	d.Day = pick("day", "день")
	d.Evening = pick("evening", "вечер")
	d.Night = pick("night", "ночь")
	return nil
}

// Validate проверяет, что все доли неотрицательны
func (d *DailyActivity) Validate() error {
	if d.Morning < 0 || d.Day < 0 || d.Evening < 0 || d.Night < 0 {
		return fmt.Errorf("%w: negative daily activity share", ErrInvalidStats)
	}
	return nil
}

// Shares возвращает доли (сумма 1); нулевое распределение остается нулевым
func (d DailyActivity) Shares() DailyActivity {
	total := d.Morning + d.Day + d.Evening + d.Night
	if total == 0 {
		return DailyActivity{}
	}
	return DailyActivity{
		Morning: d.Morning / total,
		Day:     d.Day / total,
		Evening: d.Evening / total,
		Night:   d.Night / total,
	}
}

// Summary национальные итоги из /analytics/summary
type Summary struct {
	TotalFlights    int64  `json:"totalFlights"`
	TotalOperators  int64  `json:"totalOperators"`
	TotalRegions    int64  `json:"totalRegions"`
	DataLastUpdated string `json:"dataLastUpdated,omitempty"`
}

// Int64 возвращает указатель на значение (удобно для тестов и конвертеров)
func Int64(v int64) *int64 {
	return &v
}

// Float64 возвращает указатель на значение
func Float64(v float64) *float64 {
	return &v
}
