package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/flybeeper/region-heatmap/internal/heatmap"
	"github.com/flybeeper/region-heatmap/internal/models"
)

const (
	SheetRegions = "Регионы"
	SheetSummary = "Сводка"
)

// ContentType MIME-тип книги XLSX
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var regionHeaders = []string{
	"ID", "Регион", "Полетов", "Операторов", "Ср. длительность, мин",
	"Интенсивность, %", "Активность", "Цвет", "Есть данные",
}

var regionWidths = []float64{8, 36, 12, 12, 20, 16, 18, 10, 12}

// sheetStyles стили книги
type sheetStyles struct {
	header int
	number int
	bold   int
	// fills заливка ячейки цвета региона, по hex-цвету
	fills map[string]int
}

// Workbook строит книгу: список регионов в порядке боковой панели и сводку
func Workbook(sb heatmap.Sidebar, summary *models.Summary, generatedAt time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	styles, err := newStyles(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("xlsx: styles: %w", err)
	}

	if err := writeRegions(f, styles, sb); err != nil {
		f.Close()
		return nil, fmt.Errorf("xlsx: regions: %w", err)
	}
	if err := writeSummary(f, styles, sb, summary, generatedAt); err != nil {
		f.Close()
		return nil, fmt.Errorf("xlsx: summary: %w", err)
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	f.SetActiveSheet(0)
	return f, nil
}

// Write записывает книгу в w
func Write(w io.Writer, sb heatmap.Sidebar, summary *models.Summary, generatedAt time.Time) error {
	f, err := Workbook(sb, summary, generatedAt)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx: write: %w", err)
	}
	return nil
}

// Filename имя файла выгрузки
func Filename(generatedAt time.Time) string {
	return fmt.Sprintf("regions_%s.xlsx", generatedAt.UTC().Format("2006-01-02_1504"))
}

func newStyles(f *excelize.File) (*sheetStyles, error) {
	s := &sheetStyles{fills: make(map[string]int)}
	var err error

	s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#2B5797"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border:    []excelize.Border{{Type: "bottom", Color: "#000000", Style: 2}},
	})
	if err != nil {
		return nil, err
	}

	s.number, err = f.NewStyle(&excelize.Style{
		NumFmt:    2, // 0.00
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, err
	}

	s.bold, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// fill возвращает стиль заливки для цвета региона
func (s *sheetStyles) fill(f *excelize.File, color string) (int, error) {
	if id, ok := s.fills[color]; ok {
		return id, nil
	}
	id, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return 0, err
	}
	s.fills[color] = id
	return id, nil
}

func writeRegions(f *excelize.File, s *sheetStyles, sb heatmap.Sidebar) error {
	sheet := SheetRegions
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	for i, h := range regionHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, s.header)
	}
	for i, w := range regionWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, col, col, w)
	}

	for i, r := range sb.Rows {
		row := i + 2
		vals := []interface{}{
			r.ID,
			r.Name,
			r.TotalFlights,
			r.UniqueOperators,
			r.AverageFlightDuration,
			r.IntensityPercent,
			r.ActivityLevel,
			r.Color,
			yesNo(r.HasStats),
		}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &vals); err != nil {
			return err
		}

		cell := fmt.Sprintf("E%d", row)
		_ = f.SetCellStyle(sheet, cell, cell, s.number)

		fill, err := s.fill(f, r.Color)
		if err != nil {
			return err
		}
		cell = fmt.Sprintf("H%d", row)
		_ = f.SetCellStyle(sheet, cell, cell, fill)
	}

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	})
}

func writeSummary(f *excelize.File, s *sheetStyles, sb heatmap.Sidebar, summary *models.Summary, generatedAt time.Time) error {
	sheet := SheetSummary
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	_ = f.SetColWidth(sheet, "A", "A", 32)
	_ = f.SetColWidth(sheet, "B", "B", 24)

	agg := sb.Aggregate
	rows := [][2]interface{}{
		{"Сформировано (UTC)", generatedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Регионов", agg.TotalRegions},
		{"Регионов с данными", agg.RegionsWithData},
		{"Полетов всего", agg.TotalFlights},
		{"Минимум полетов", agg.MinFlights},
		{"Максимум полетов", agg.MaxFlights},
		{"Ср. длительность, мин", agg.AverageDuration},
	}
	if sb.Warning != "" {
		rows = append(rows, [2]interface{}{"Предупреждение", sb.Warning})
	}
	if summary != nil {
		rows = append(rows,
			[2]interface{}{"Полетов по стране", summary.TotalFlights},
			[2]interface{}{"Операторов по стране", summary.TotalOperators},
			[2]interface{}{"Регионов по стране", summary.TotalRegions},
		)
		if summary.DataLastUpdated != "" {
			rows = append(rows, [2]interface{}{"Данные обновлены", summary.DataLastUpdated})
		}
	}

	for i, kv := range rows {
		row := i + 1
		label := fmt.Sprintf("A%d", row)
		_ = f.SetCellValue(sheet, label, kv[0])
		_ = f.SetCellStyle(sheet, label, label, s.bold)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), kv[1])
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "Да"
	}
	return "Нет"
}
