package benchmarks

// Бенчмарки конвейера: пакетная загрузка, слияние, список регионов, переходы состояний

import (
	"context"
	"testing"
	"time"

	"github.com/flybeeper/region-heatmap/internal/fetcher"
	"github.com/flybeeper/region-heatmap/internal/heatmap"
	"github.com/flybeeper/region-heatmap/internal/interaction"
	"github.com/flybeeper/region-heatmap/internal/models"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

// memorySource статистика без сетевых задержек
type memorySource struct{}

func (memorySource) RegionStats(ctx context.Context, id int) (*models.RegionStatistics, error) {
	return &models.RegionStatistics{
		RegionID:        id,
		TotalFlights:    models.Int64(int64(id * 37 % 1000)),
		UniqueOperators: models.Int64(int64(id % 20)),
	}, nil
}

func regionStats(geoms []models.RegionGeometry) map[int]*models.RegionStatistics {
	stats := make(map[int]*models.RegionStatistics, len(geoms))
	for _, g := range geoms {
		s, _ := memorySource{}.RegionStats(context.Background(), g.ID)
		stats[g.ID] = s
	}
	return stats
}

func BenchmarkBatchFetcher_FetchAll(b *testing.B) {
	geoms := gridRegions(17, 5, 3)
	ids := make([]int, len(geoms))
	for i, g := range geoms {
		ids[i] = g.ID
	}

	cfg := &fetcher.Config{Concurrency: 5, Pause: 0, RequestTimeout: time.Second}
	f := fetcher.NewBatchFetcher(memorySource{}, cfg, utils.NewNopLogger())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.FetchAll(context.Background(), ids); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMerge(b *testing.B) {
	geoms := gridRegions(17, 5, 3)
	stats := regionStats(geoms)
	scale := heatmap.DefaultColorScale()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = heatmap.Merge(geoms, stats, scale)
	}
}

func BenchmarkProjectSidebar(b *testing.B) {
	geoms := gridRegions(17, 5, 3)
	ds := heatmap.Merge(geoms, regionStats(geoms), heatmap.DefaultColorScale())
	selected := 42

	cases := []struct {
		name string
		q    heatmap.SidebarQuery
	}{
		{"All", heatmap.SidebarQuery{}},
		{"Filter", heatmap.SidebarQuery{Filter: "регион 4"}},
		{"Selected", heatmap.SidebarQuery{SelectedID: &selected}},
	}
	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = heatmap.ProjectSidebar(ds, tc.q)
			}
		})
	}
}

func BenchmarkTransition(b *testing.B) {
	events := []interaction.Event{
		interaction.PointerEnter{RegionID: 3},
		interaction.Click{RegionID: 3},
		interaction.PointerEnter{RegionID: 4},
		interaction.PointerLeave{},
		interaction.CloseSelection{},
	}

	b.ReportAllocs()
	s := interaction.Initial()
	for i := 0; i < b.N; i++ {
		s, _ = interaction.Transition(s, events[i%len(events)])
	}
}
