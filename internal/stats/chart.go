package stats

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/lanegen/internal/fsutil"
)

// RenderHTML renders one scanned/saved bar chart per town and category.
func RenderHTML(r Report) ([]byte, error) {
	page := components.NewPage()

	for _, town := range r.Towns() {
		cats := make([]string, 0, len(r[town]))
		for c := range r[town] {
			cats = append(cats, c)
		}
		sort.Strings(cats)

		for _, cat := range cats {
			entries := r[town][cat]
			keys := sortedKeys(entries)

			scanned := make([]opts.BarData, len(keys))
			saved := make([]opts.BarData, len(keys))
			for i, k := range keys {
				scanned[i] = opts.BarData{Value: entries[k].Scanned}
				saved[i] = opts.BarData{Value: entries[k].Saved}
			}

			bar := charts.NewBar()
			bar.SetGlobalOptions(
				charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
				charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("%s: %s", town, cat)}),
				charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
				charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
			)
			bar.SetXAxis(keys).
				AddSeries("scanned", scanned).
				AddSeries("saved", saved,
					charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
				)
			page.AddCharts(bar)
		}
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("render stats chart: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteHTML renders the report and writes it to path.
func WriteHTML(fs fsutil.FileSystem, path string, r Report) error {
	doc, err := RenderHTML(r)
	if err != nil {
		return err
	}
	return fs.WriteFile(path, doc, 0o644)
}

// sortedKeys orders numeric keys numerically and everything else
// lexically, numbers first.
func sortedKeys(entries map[string]Entry) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}
