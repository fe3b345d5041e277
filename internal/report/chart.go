// Package report renders fusion run summaries: an HTML page of per-cycle
// body counts and a PNG of each logical body's pelvis trajectory.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/bodyfusion/internal/fusion"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// CycleChart writes an HTML page with two charts: logical and real body
// counts per cycle, and bodies created and evicted per cycle.
func CycleChart(w io.Writer, title string, stats []fusion.CycleStats) error {
	x := make([]string, len(stats))
	logical := make([]opts.LineData, len(stats))
	perDevice := make([]opts.LineData, len(stats))
	created := make([]opts.BarData, len(stats))
	evicted := make([]opts.BarData, len(stats))
	for i, s := range stats {
		x[i] = strconv.FormatUint(s.Cycle, 10)
		logical[i] = opts.LineData{Value: s.Bodies}
		perDevice[i] = opts.LineData{Value: s.RealBodies}
		created[i] = opts.BarData{Value: s.Created}
		evicted[i] = opts.BarData{Value: s.Evicted}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Bodies per cycle", Subtitle: fmt.Sprintf("%s cycles=%d", title, len(stats))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Cycle", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Bodies"}),
	)
	line.SetXAxis(x).
		AddSeries("logical", logical).
		AddSeries("per-device", perDevice)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Body lifecycle"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("created", created).
		AddSeries("evicted", evicted)

	page := components.NewPage()
	page.AddCharts(line, bar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render cycle chart: %w", err)
	}
	return nil
}
