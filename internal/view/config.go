package view

import (
	"github.com/flybeeper/region-heatmap/internal/config"
	"github.com/flybeeper/region-heatmap/internal/fetcher"
	"github.com/flybeeper/region-heatmap/internal/heatmap"
)

// NewConfig собирает настройки представлений из конфигурации приложения
func NewConfig(cfg *config.Config) Config {
	return Config{
		Loader: LoaderConfig{
			Fetch: &fetcher.Config{
				Concurrency:    cfg.Fetch.Concurrency,
				Pause:          cfg.Fetch.Pause,
				RequestTimeout: cfg.Backend.RequestTimeout,
			},
			Scale:          heatmap.ColorScale{DistinguishUnknown: cfg.Heatmap.DistinguishUnknown},
			EastShift:      cfg.Heatmap.EastShiftEnabled,
			IndexPrecision: cfg.Heatmap.IndexPrecision,
		},
		DetailTimeout: cfg.Backend.RequestTimeout,
		IdleTTL:       cfg.Session.IdleTTL,
		MaxViews:      cfg.Session.MaxSessions,
	}
}
