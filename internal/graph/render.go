package graph

import (
	"fmt"
	"io"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"linacqa-backend/internal/checks"
	"linacqa-backend/internal/metric"
)

var seriesPalette = []drawing.Color{
	chart.ColorBlue,
	chart.ColorGreen,
	chart.ColorOrange,
	chart.ColorCyan,
	chart.ColorRed,
}

var (
	warningColor = drawing.Color{R: 0xff, G: 0xa5, B: 0x00, A: 0x60}
	failColor    = drawing.Color{R: 0xd0, G: 0x21, B: 0x1c, A: 0x50}
)

// Render draws the series as a PNG with the computed axis range and
// threshold shading bands.
func Render(w io.Writer, points []checks.GraphDataPoint, selected []metric.ID, min, max float64, bands []Band) error {
	if len(points) == 0 {
		return fmt.Errorf("no data points to render")
	}
	times := make([]time.Time, 0, len(points))
	for _, p := range points {
		t, err := time.Parse("2006-01-02", p.FullDate)
		if err != nil {
			return fmt.Errorf("parse point date %q: %w", p.FullDate, err)
		}
		times = append(times, t)
	}

	series := []chart.Series{}
	for _, band := range bands {
		color := warningColor
		style := chart.Style{StrokeColor: color, StrokeDashArray: []float64{4, 4}}
		if band.Kind == BandFail {
			color = failColor
			style = chart.Style{StrokeColor: color, StrokeWidth: 1.5}
		}
		// the band boundary nearer zero is the visible guide line
		boundary := band.From
		if band.From+band.To < 0 {
			boundary = band.To
		}
		series = append(series, chart.TimeSeries{
			XValues: []time.Time{times[0], times[len(times)-1]},
			YValues: []float64{boundary, boundary},
			Style:   style,
		})
	}
	for i, id := range selected {
		key := id.Key()
		xs := []time.Time{}
		ys := []float64{}
		for j, p := range points {
			v, ok := p.Values[key]
			if !ok {
				continue
			}
			xs = append(xs, times[j])
			ys = append(ys, v)
		}
		if len(xs) == 0 {
			continue
		}
		color := seriesPalette[i%len(seriesPalette)]
		series = append(series, chart.TimeSeries{
			Name:    id.Label(),
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: color,
				DotColor:    color,
				DotWidth:    3,
			},
		})
	}

	ch := chart.Chart{
		Width:      900,
		Height:     420,
		Background: chart.Style{Padding: chart.Box{Top: 14, Left: 16, Right: 12, Bottom: 20}},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: min, Max: max},
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return ch.Render(chart.PNG, w)
}
