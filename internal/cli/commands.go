package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flybeeper/region-heatmap/internal/export"
	"github.com/flybeeper/region-heatmap/internal/heatmap"
	"github.com/flybeeper/region-heatmap/internal/notify"
)

func newLoadCmd() *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Загрузить статистику всех регионов и вывести список",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := getContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, cc)
			defer cancel()

			loader, err := cc.load(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			sb := heatmap.ProjectSidebar(loader.Dataset(), heatmap.SidebarQuery{Filter: filter})
			if cc.Output == "json" {
				return printJSON(cmd.OutOrStdout(), sb)
			}
			return printSidebar(cmd.OutOrStdout(), sb)
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "фильтр по имени региона")
	return cmd
}

func newRegionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "region <id>",
		Short: "Детальная статистика региона",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid region id %q", args[0])
			}

			cc, err := getContext(cmd)
			if err != nil {
				return err
			}
			src, err := cc.source()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, cc)
			defer cancel()

			geoms, err := src.GetRegions(ctx)
			if err != nil {
				return err
			}
			idx := -1
			for i, g := range geoms {
				if g.ID == id {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("region %d not found", id)
			}

			stats, err := src.RegionStats(ctx, id)
			if err != nil {
				return err
			}

			detail := heatmap.BuildDetail(geoms[idx], stats)
			if cc.Output == "json" {
				return printJSON(cmd.OutOrStdout(), detail)
			}
			return printDetail(cmd.OutOrStdout(), detail)
		},
	}
}

func newExportCmd() *cobra.Command {
	var (
		filter string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Выгрузить список регионов в XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := getContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, cc)
			defer cancel()

			loader, err := cc.load(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			sb := heatmap.ProjectSidebar(loader.Dataset(), heatmap.SidebarQuery{Filter: filter})

			src, err := cc.source()
			if err != nil {
				return err
			}
			summary, err := src.GetSummary(ctx)
			if err != nil {
				cc.Logger.WithError(err).Warn("Summary unavailable, exporting regions only")
				summary = nil
			}

			now := time.Now()
			if file == "" {
				file = export.Filename(now)
			}
			f, err := export.Workbook(sb, summary, now)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := f.SaveAs(file); err != nil {
				return fmt.Errorf("failed to save %s: %w", file, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Сохранено %d регионов в %s\n", sb.Shown, file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "фильтр по имени региона")
	cmd.Flags().StringVar(&file, "file", "", "путь к файлу (по умолчанию regions_<дата>.xlsx)")
	return cmd
}

func newNotifyCmd() *cobra.Command {
	var n notify.Notification

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Отправить уведомление об импорте статистики в MQTT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := getContext(cmd)
			if err != nil {
				return err
			}
			if !cc.Config.MQTT.Enabled() {
				return fmt.Errorf("MQTT_URL is not set")
			}
			ctx, cancel := withTimeout(cmd, cc)
			defer cancel()

			n.ImportedAt = time.Now().UTC()
			if err := notify.Publish(ctx, &cc.Config.MQTT, &n); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Уведомление отправлено в %s\n", cc.Config.MQTT.Topic)
			return nil
		},
	}

	hostname, _ := os.Hostname()
	cmd.Flags().StringVar(&n.Source, "source", hostname, "источник импорта")
	cmd.Flags().Int64Var(&n.Records, "records", 0, "число импортированных записей")
	cmd.Flags().IntSliceVar(&n.Regions, "regions", nil, "затронутые регионы")
	return cmd
}

func printSidebar(w io.Writer, sb heatmap.Sidebar) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tРегион\tПолетов\tОператоров\tИнтенсивность\tАктивность\tЦвет")
	for _, r := range sb.Rows {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d%%\t%s\t%s\n",
			r.ID, r.Name, r.TotalFlights, r.UniqueOperators, r.IntensityPercent, r.ActivityLevel, r.Color)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nПоказано %d из %d, с данными %d, всего полетов %d\n",
		sb.Shown, sb.TotalRegions, sb.RegionsWithData, sb.Aggregate.TotalFlights)
	if sb.Warning == heatmap.WarningEmptyDataset {
		fmt.Fprintln(w, "Нет данных о полетах ни в одном регионе")
	}
	return nil
}

func printDetail(w io.Writer, d heatmap.Detail) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Регион\t%s (%d)\n", d.Name, d.RegionID)
	fmt.Fprintf(tw, "Полетов\t%d\n", d.TotalFlights)
	fmt.Fprintf(tw, "Операторов\t%d\n", d.UniqueOperators)
	fmt.Fprintf(tw, "Активность\t%s\n", d.ActivityLevel)
	if d.AverageFlightDuration != nil {
		fmt.Fprintf(tw, "Ср. длительность\t%.1f мин\n", *d.AverageFlightDuration)
	}
	if d.TopAircraftType != "" {
		fmt.Fprintf(tw, "Основной тип ВС\t%s\n", d.TopAircraftType)
	}
	if d.BusiestYear != nil {
		fmt.Fprintf(tw, "Самый активный год\t%d (%d)\n", d.BusiestYear.Year, d.BusiestYear.Flights)
	}
	if d.ZeroDays != nil {
		fmt.Fprintf(tw, "Дней без полетов\t%d\n", *d.ZeroDays)
	}
	if d.PeriodDescription != "" {
		fmt.Fprintf(tw, "Период\t%s\n", d.PeriodDescription)
	}
	return tw.Flush()
}
