package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flybeeper/region-heatmap/internal/client"
	"github.com/flybeeper/region-heatmap/internal/metrics"
	"github.com/flybeeper/region-heatmap/internal/models"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

// StatsSource источник статистики одного региона
type StatsSource interface {
	RegionStats(ctx context.Context, regionID int) (*models.RegionStatistics, error)
}

// Config конфигурация пакетной загрузки
type Config struct {
	Concurrency    int           `json:"concurrency"`     // Максимум одновременных запросов (размер пакета)
	Pause          time.Duration `json:"pause"`           // Пауза между пакетами
	RequestTimeout time.Duration `json:"request_timeout"` // Таймаут одного запроса
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Concurrency:    5,                      // 5 запросов в пакете
		Pause:          300 * time.Millisecond, // 300ms между пакетами
		RequestTimeout: 30 * time.Second,       // 30s на запрос
	}
}

// Progress состояние загрузки после очередного пакета
type Progress struct {
	Done      int `json:"done"`
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Chunk     int `json:"chunk"`
	Chunks    int `json:"chunks"`
}

// Result результат пакетной загрузки. Stats содержит только успешные записи.
type Result struct {
	Stats     map[int]*models.RegionStatistics
	Failures  map[int]error
	Succeeded int
	Failed    int
	Chunks    int
}

// SleepFunc пауза между пакетами; должна прерываться отменой контекста
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option настройка BatchFetcher
type Option func(*BatchFetcher)

// WithProgress задает обработчик прогресса (вызывается после каждого пакета)
func WithProgress(fn func(Progress)) Option {
	return func(f *BatchFetcher) {
		f.onProgress = fn
	}
}

// WithSleep подменяет паузу между пакетами
func WithSleep(fn SleepFunc) Option {
	return func(f *BatchFetcher) {
		f.sleep = fn
	}
}

// BatchFetcher загружает статистику регионов пакетами ограниченного размера
// с паузой между пакетами. Бэкенд не умеет отдавать статистику всех регионов сразу.
//
// Пакет является барьером: следующий пакет не начинается, пока все запросы
// текущего не завершились (успехом, ошибкой или таймаутом). Ошибка одного региона
// не прерывает загрузку; отказ в авторизации прерывает ее после текущего пакета.
type BatchFetcher struct {
	source     StatsSource
	config     *Config
	logger     *utils.Logger
	onProgress func(Progress)
	sleep      SleepFunc
}

// NewBatchFetcher создает новый BatchFetcher
func NewBatchFetcher(source StatsSource, config *Config, logger *utils.Logger, opts ...Option) *BatchFetcher {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	f := &BatchFetcher{
		source: source,
		config: &cfg,
		logger: logger.WithField("component", "batch_fetcher"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// memberResult результат одного запроса пакета
type memberResult struct {
	id    int
	stats *models.RegionStatistics
	err   error
}

// FetchAll загружает статистику для идентификаторов в исходном порядке.
// Вызовы независимы: между ними нет общего состояния, кроме конфигурации.
// При отказе авторизации или отмене контекста возвращается частичный результат и ошибка.
func (f *BatchFetcher) FetchAll(ctx context.Context, ids []int) (*Result, error) {
	result := &Result{
		Stats:    make(map[int]*models.RegionStatistics, len(ids)),
		Failures: make(map[int]error),
	}
	if len(ids) == 0 {
		return result, nil
	}

	chunks := Chunks(ids, f.config.Concurrency)
	result.Chunks = len(chunks)
	done := 0

	for i, chunk := range chunks {
		start := time.Now()
		members := f.fetchChunk(ctx, chunk)
		metrics.FetchChunkDuration.Observe(time.Since(start).Seconds())
		metrics.FetchChunkSize.Observe(float64(len(chunk)))

		var authErr error
		for _, m := range members {
			if m.err != nil {
				result.Failed++
				result.Failures[m.id] = m.err
				metrics.FetchRequestsTotal.WithLabelValues("failure").Inc()
				if client.IsUnauthorized(m.err) && authErr == nil {
					authErr = m.err
				}
				f.logger.WithField("region_id", m.id).
					WithField("class", client.Classify(m.err)).
					WithError(m.err).
					Warn("Failed to fetch region statistics")
				continue
			}
			result.Succeeded++
			result.Stats[m.id] = m.stats
			metrics.FetchRequestsTotal.WithLabelValues("success").Inc()
		}
		done += len(chunk)

		f.logger.WithFields(map[string]interface{}{
			"chunk":     i + 1,
			"chunks":    len(chunks),
			"size":      len(chunk),
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
			"duration":  time.Since(start),
		}).Debug("Fetch chunk settled")

		if f.onProgress != nil {
			f.onProgress(Progress{
				Done:      done,
				Total:     len(ids),
				Succeeded: result.Succeeded,
				Failed:    result.Failed,
				Chunk:     i + 1,
				Chunks:    len(chunks),
			})
		}

		if authErr != nil {
			return result, fmt.Errorf("fetch aborted after chunk %d/%d: %w", i+1, len(chunks), authErr)
		}

		// После последнего пакета паузы нет
		if i == len(chunks)-1 {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("fetch cancelled after chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if err := f.sleep(ctx, f.config.Pause); err != nil {
			return result, fmt.Errorf("fetch cancelled during pause after chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}

	return result, nil
}

// fetchChunk выполняет запросы пакета параллельно и ждет завершения всех
func (f *BatchFetcher) fetchChunk(ctx context.Context, chunk []int) []memberResult {
	results := make([]memberResult, len(chunk))

	var wg sync.WaitGroup
	for i, id := range chunk {
		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()

			reqCtx := ctx
			if f.config.RequestTimeout > 0 {
				var cancel context.CancelFunc
				reqCtx, cancel = context.WithTimeout(ctx, f.config.RequestTimeout)
				defer cancel()
			}

			stats, err := f.source.RegionStats(reqCtx, id)
			if err == nil && stats == nil {
				err = fmt.Errorf("region %d: empty statistics", id)
			}
			results[i] = memberResult{id: id, stats: stats, err: err}
		}(i, id)
	}
	wg.Wait()

	return results
}

// Chunks разбивает идентификаторы на последовательные пакеты размером не больше size
func Chunks(ids []int, size int) [][]int {
	if size < 1 {
		size = 1
	}
	chunks := make([][]int, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// sleepContext пауза, прерываемая отменой контекста
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
