package heatmap

import (
	"fmt"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

const (
	// ZeroColor цвет нулевой интенсивности (данных нет или полетов ноль)
	ZeroColor = "#f0f0f0"
	// UnknownColor цвет региона без статистики при DistinguishUnknown
	UnknownColor = "#bfbfbf"

	// Оттенок меняется от желтого (60°) при малой интенсивности до красного (0°) при максимальной
	hueLow     = 60.0
	saturation = 1.0
	lightness  = 0.5
)

// ColorScale непрерывная шкала цвета по нормализованной интенсивности
type ColorScale struct {
	// DistinguishUnknown отличает регионы без статистики от регионов с нулем полетов
	DistinguishUnknown bool
}

// DefaultColorScale шкала по умолчанию: регионы без статистики окрашены как нулевые
func DefaultColorScale() ColorScale {
	return ColorScale{}
}

// Color возвращает цвет для интенсивности v ∈ [0,1].
// hasStats=false вместе с v == 0 дает UnknownColor, если включено DistinguishUnknown.
func (s ColorScale) Color(v float64, hasStats bool) string {
	v = clamp01(v)
	if v == 0 {
		if s.DistinguishUnknown && !hasStats {
			return UnknownColor
		}
		return ZeroColor
	}
	return colorful.Hsl(hueLow*(1-v), saturation, lightness).Hex()
}

// LegendStop точка легенды
type LegendStop struct {
	Value float64 `json:"value"`
	Color string  `json:"color"`
	Label string  `json:"label"`
}

// legendValues точки легенды карты
var legendValues = []float64{0, 0.25, 0.5, 0.75, 1}

// Legend возвращает легенду шкалы: 0, 25%, 50%, 75%, Макс и, при необходимости, "Нет данных"
func (s ColorScale) Legend() []LegendStop {
	stops := make([]LegendStop, 0, len(legendValues)+1)
	for _, v := range legendValues {
		stops = append(stops, LegendStop{
			Value: v,
			Color: s.Color(v, true),
			Label: legendLabel(v),
		})
	}
	if s.DistinguishUnknown {
		stops = append(stops, LegendStop{Value: 0, Color: UnknownColor, Label: "Нет данных"})
	}
	return stops
}

func legendLabel(v float64) string {
	switch v {
	case 0:
		return "0"
	case 1:
		return "Макс"
	default:
		return fmt.Sprintf("%d%%", IntensityPercent(v))
	}
}

// IntensityPercent интенсивность в процентах, округленная до целого
func IntensityPercent(v float64) int {
	return int(math.Round(clamp01(v) * 100))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
