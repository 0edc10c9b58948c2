package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flybeeper/region-heatmap/internal/client"
	"github.com/flybeeper/region-heatmap/internal/fetcher"
	"github.com/flybeeper/region-heatmap/internal/geo"
	"github.com/flybeeper/region-heatmap/internal/heatmap"
	"github.com/flybeeper/region-heatmap/internal/metrics"
	"github.com/flybeeper/region-heatmap/internal/models"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

// Status статус загрузки представления
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
	StatusExpired Status = "expired"
)

// Порог и сдвиг долготы для отрисовки Чукотки без разрыва карты
const (
	eastShiftThreshold = 160.0
	eastShiftDegrees   = 30.0
)

// Source данные бэкенда аналитики для одной сессии
type Source interface {
	GetRegions(ctx context.Context) ([]models.RegionGeometry, error)
	RegionStats(ctx context.Context, regionID int) (*models.RegionStatistics, error)
	GetSummary(ctx context.Context) (*models.Summary, error)
}

// LoaderConfig настройки загрузки
type LoaderConfig struct {
	Fetch          *fetcher.Config
	Scale          heatmap.ColorScale
	EastShift      bool
	IndexPrecision int
}

// LoadStatus состояние загрузки для клиента
type LoadStatus struct {
	Status   Status           `json:"status"`
	Progress fetcher.Progress `json:"progress"`
	Error    string           `json:"error,omitempty"`
	Warning  string           `json:"warning,omitempty"`
	// FailedRegions регионы, статистику которых не удалось получить (показаны как нулевые)
	FailedRegions []int     `json:"failedRegions,omitempty"`
	LoadedAt      time.Time `json:"loadedAt,omitempty"`
	Loads         int       `json:"loads"`
}

// Snapshot неизменяемый результат загрузки: набор данных и индекс
type Snapshot struct {
	Dataset  *models.Dataset
	Index    *geo.RegionIndex
	LoadedAt time.Time
}

// Loader конвейер представления: геометрия -> статистика пакетами -> слияние.
// Новый Snapshot заменяет прежний атомарно; до замены виден прежний набор.
type Loader struct {
	source Source
	config LoaderConfig
	logger *utils.Logger

	// Геометрия загружается один раз за сессию
	geomMu sync.Mutex
	geoms  []models.RegionGeometry

	snapshot atomic.Pointer[Snapshot]

	loadMu sync.Mutex // одна загрузка за раз

	statusMu sync.RWMutex
	status   LoadStatus
}

// NewLoader создает загрузчик
func NewLoader(source Source, config LoaderConfig, logger *utils.Logger) *Loader {
	if config.Fetch == nil {
		config.Fetch = fetcher.DefaultConfig()
	}
	return &Loader{
		source: source,
		config: config,
		logger: logger.WithField("component", "loader"),
		status: LoadStatus{Status: StatusLoading},
	}
}

// Load выполняет полную загрузку. Ошибка геометрии фатальна для представления
// (повтор - новый вызов Load); отказ авторизации переводит статус в expired.
// Ошибки отдельных регионов не прерывают загрузку.
func (l *Loader) Load(ctx context.Context) error {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	start := time.Now()
	l.setStatus(func(s *LoadStatus) {
		s.Status = StatusLoading
		s.Progress = fetcher.Progress{}
		s.Error = ""
		s.Warning = ""
		s.FailedRegions = nil
	})

	geoms, err := l.geometry(ctx)
	if err != nil {
		return l.fail(start, "geometry", err)
	}

	ids := make([]int, len(geoms))
	for i, g := range geoms {
		ids[i] = g.ID
	}

	f := fetcher.NewBatchFetcher(l.source, l.config.Fetch, l.logger,
		fetcher.WithProgress(func(p fetcher.Progress) {
			l.setStatus(func(s *LoadStatus) { s.Progress = p })
		}),
	)
	result, err := f.FetchAll(ctx, ids)
	if err != nil {
		return l.fail(start, "statistics", err)
	}

	dataset := heatmap.Merge(geoms, result.Stats, l.config.Scale)
	index := geo.NewRegionIndex(geoms, l.config.IndexPrecision)
	now := time.Now()
	l.snapshot.Store(&Snapshot{Dataset: dataset, Index: index, LoadedAt: now})

	failed := make([]int, 0, len(result.Failures))
	for _, id := range ids {
		if _, ok := result.Failures[id]; ok {
			failed = append(failed, id)
		}
	}

	l.setStatus(func(s *LoadStatus) {
		s.Status = StatusReady
		s.LoadedAt = now
		s.Loads++
		s.FailedRegions = failed
		if dataset.Aggregate.Empty() {
			s.Warning = heatmap.WarningEmptyDataset
		}
	})
	metrics.LoadDuration.WithLabelValues(string(StatusReady)).Observe(time.Since(start).Seconds())

	entry := l.logger.WithFields(map[string]interface{}{
		"regions":           dataset.Aggregate.TotalRegions,
		"regions_with_data": dataset.Aggregate.RegionsWithData,
		"max_flights":       dataset.Aggregate.MaxFlights,
		"failed":            result.Failed,
		"duration":          time.Since(start),
	})
	if dataset.Aggregate.Empty() {
		entry.Info("View loaded, no region has flight data")
	} else {
		entry.Info("View loaded")
	}
	return nil
}

// geometry возвращает геометрию сессии, загружая ее при первом обращении
func (l *Loader) geometry(ctx context.Context) ([]models.RegionGeometry, error) {
	l.geomMu.Lock()
	defer l.geomMu.Unlock()

	if l.geoms != nil {
		return l.geoms, nil
	}

	geoms, err := l.source.GetRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load region geometry: %w", err)
	}
	if l.config.EastShift {
		for i := range geoms {
			geoms[i] = geoms[i].ShiftEastLongitudes(eastShiftThreshold, eastShiftDegrees)
		}
	}

	l.geoms = geoms
	return geoms, nil
}

// fail фиксирует неуспешную загрузку; прежний Snapshot остается видимым
func (l *Loader) fail(start time.Time, stage string, err error) error {
	status := StatusFailed
	if client.IsUnauthorized(err) {
		status = StatusExpired
	}

	l.setStatus(func(s *LoadStatus) {
		s.Status = status
		s.Error = err.Error()
	})
	metrics.LoadDuration.WithLabelValues(string(status)).Observe(time.Since(start).Seconds())

	entry := l.logger.WithField("stage", stage).WithError(err)
	if status == StatusExpired {
		entry.Warn("View load aborted, session expired")
	} else if errors.Is(err, context.Canceled) {
		entry.Debug("View load cancelled")
	} else {
		entry.Error("View load failed")
	}
	return err
}

// Snapshot возвращает текущий результат загрузки или nil
func (l *Loader) Snapshot() *Snapshot {
	return l.snapshot.Load()
}

// Dataset возвращает текущий набор данных или nil
func (l *Loader) Dataset() *models.Dataset {
	if snap := l.snapshot.Load(); snap != nil {
		return snap.Dataset
	}
	return nil
}

// Status возвращает копию статуса загрузки
func (l *Loader) Status() LoadStatus {
	l.statusMu.RLock()
	defer l.statusMu.RUnlock()

	s := l.status
	s.FailedRegions = append([]int(nil), l.status.FailedRegions...)
	return s
}

func (l *Loader) setStatus(fn func(s *LoadStatus)) {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	fn(&l.status)
}
