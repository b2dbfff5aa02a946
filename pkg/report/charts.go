package report

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/jazware/engagement-report/pkg/metrics"
)

// Dashboard grid.
const (
	Rows = 4
	Cols = 3
)

var (
	teal      = color.RGBA{R: 0x00, G: 0x80, B: 0x80, A: 0xff}
	tealFaded = color.RGBA{R: 0x00, G: 0x80, B: 0x80, A: 0xb3}
	seagreen  = color.RGBA{R: 0x2e, G: 0x8b, B: 0x57, A: 0xff}
	salmon    = color.RGBA{R: 0xfa, G: 0x80, B: 0x72, A: 0xff}
	indianred = color.RGBA{R: 0xcd, G: 0x5c, B: 0x5c, A: 0xff}
	redFaded  = color.RGBA{R: 0xcd, G: 0x5c, B: 0x5c, A: 0xb3}

	// Series palette for grouped bars.
	palette = []color.Color{
		color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
		color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
		color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
		color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
		color.RGBA{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	}
)

type dashboard struct {
	locale *Locale
	cities []string
	dpi    int
	width  vg.Length
	height vg.Length
}

// render draws the fixed 4x3 grid into one PNG.
func (d *dashboard) render(in Inputs) ([]byte, error) {
	var grid [Rows][Cols]*plot.Plot
	var err error

	hourly := []*metrics.Table{in.HourlyBoth, in.HourlyFeed, in.HourlyMessaging}
	for c, t := range hourly {
		if grid[0][c], err = d.hourlyOverlay(d.locale.Titles[0][c], t); err != nil {
			return nil, err
		}
	}

	if grid[1][0], err = d.dailyLine(d.locale.Titles[1][0], in.DailyBoth, metrics.ColDAU, seagreen); err != nil {
		return nil, err
	}
	if grid[1][1], err = d.cohortBars(d.locale.Titles[1][1], in.CohortFeed); err != nil {
		return nil, err
	}
	if grid[1][2], err = d.cohortBars(d.locale.Titles[1][2], in.CohortMessaging); err != nil {
		return nil, err
	}

	if grid[2][0], err = d.cityBars(d.locale.Titles[2][0], in.CityFeed); err != nil {
		return nil, err
	}
	if grid[2][1], err = d.cityBars(d.locale.Titles[2][1], in.CityMessaging); err != nil {
		return nil, err
	}
	if grid[2][2], err = d.dailyLine(d.locale.Titles[2][2], in.MessagingEngagement, metrics.ColER, salmon); err != nil {
		return nil, err
	}

	for c, col := range []string{metrics.ColDAU, metrics.ColAvgLikes, metrics.ColAvgViews} {
		if grid[3][c], err = d.dailyOverlay(d.locale.Titles[3][c], in.FeedEngagement, col); err != nil {
			return nil, err
		}
	}

	for r := range Rows {
		grid[r][0].Y.Label.Text = d.locale.UsersAxis
	}

	plots := make([][]*plot.Plot, Rows)
	for r := range grid {
		plots[r] = grid[r][:]
	}

	img := vgimg.NewWith(vgimg.UseWH(d.width, d.height), vgimg.UseDPI(d.dpi))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      Rows,
		Cols:      Cols,
		PadX:      vg.Millimeter * 3,
		PadY:      vg.Millimeter * 3,
		PadTop:    vg.Millimeter * 3,
		PadBottom: vg.Millimeter * 3,
		PadLeft:   vg.Millimeter * 3,
		PadRight:  vg.Millimeter * 3,
	}

	canvases := plot.Align(plots, tiles, dc)
	for r := range plots {
		for c := range plots[r] {
			plots[r][c].Draw(canvases[r][c])
		}
	}

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode dashboard: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *dashboard) newPlot(title string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.Title.TextStyle.Font.Size = vg.Points(8)
	p.X.Tick.Label.Font.Size = vg.Points(5)
	p.Y.Tick.Label.Font.Size = vg.Points(5)
	p.X.Label.TextStyle.Font.Size = vg.Points(6)
	p.Y.Label.TextStyle.Font.Size = vg.Points(6)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter
	p.Legend.TextStyle.Font.Size = vg.Points(5)
	p.Legend.Top = true
	p.Legend.Left = true
	p.Add(plotter.NewGrid())
	return p
}

// hourlyOverlay draws the last 24 hours against the 24 before them, aligned by hour offset.
func (d *dashboard) hourlyOverlay(title string, t *metrics.Table) (*plot.Plot, error) {
	values, err := byBucket(t, metrics.ColUsers)
	if err != nil {
		return nil, err
	}

	buckets := t.Buckets()
	end := buckets[len(buckets)-1]
	start := end.Add(-time.Duration(2*metrics.OverlayHours-1) * time.Hour)

	previous := make(plotter.XYs, metrics.OverlayHours)
	current := make(plotter.XYs, metrics.OverlayHours)
	labels := make([]string, metrics.OverlayHours)
	for i := range metrics.OverlayHours {
		prevAt := start.Add(time.Duration(i) * time.Hour)
		curAt := prevAt.Add(metrics.OverlayHours * time.Hour)
		previous[i] = plotter.XY{X: float64(i), Y: values[prevAt.Unix()]}
		current[i] = plotter.XY{X: float64(i), Y: values[curAt.Unix()]}
		labels[i] = curAt.Format("02.01 15:04")
	}

	p := d.newPlot(title)
	if err := d.overlay(p, current, previous, teal, tealFaded, d.locale.Last24h, d.locale.Previous24h); err != nil {
		return nil, err
	}
	p.X.Tick.Marker = labelTicks{labels: labels, every: 4}
	return p, nil
}

// dailyOverlay draws the current two weeks against the two weeks before, aligned by day offset.
func (d *dashboard) dailyOverlay(title string, t *metrics.Table, column string) (*plot.Plot, error) {
	values, err := byBucket(t, column)
	if err != nil {
		return nil, err
	}

	end := t.Rows[t.Len()-1].Bucket
	start := end.AddDate(0, 0, -(2*metrics.OverlayDays - 1))

	previous := make(plotter.XYs, metrics.OverlayDays)
	current := make(plotter.XYs, metrics.OverlayDays)
	labels := make([]string, metrics.OverlayDays)
	for i := range metrics.OverlayDays {
		prevAt := start.AddDate(0, 0, i)
		curAt := prevAt.AddDate(0, 0, metrics.OverlayDays)
		previous[i] = plotter.XY{X: float64(i), Y: values[prevAt.Unix()]}
		current[i] = plotter.XY{X: float64(i), Y: values[curAt.Unix()]}
		labels[i] = curAt.Format("02.01")
	}

	p := d.newPlot(title)
	if err := d.overlay(p, current, previous, indianred, redFaded, d.locale.CurrentWeeks, d.locale.PreviousWeeks); err != nil {
		return nil, err
	}
	p.X.Tick.Marker = labelTicks{labels: labels, every: 2}
	return p, nil
}

func (d *dashboard) overlay(p *plot.Plot, current, previous plotter.XYs, solid, faded color.Color, currentLabel, previousLabel string) error {
	cur, points, err := plotter.NewLinePoints(current)
	if err != nil {
		return fmt.Errorf("failed to build line: %w", err)
	}
	cur.LineStyle.Color = solid
	cur.LineStyle.Width = vg.Points(1.2)
	points.GlyphStyle.Color = solid
	points.GlyphStyle.Radius = vg.Points(1.2)

	prev, err := plotter.NewLine(previous)
	if err != nil {
		return fmt.Errorf("failed to build line: %w", err)
	}
	prev.LineStyle.Color = faded
	prev.LineStyle.Width = vg.Points(1.2)
	prev.LineStyle.Dashes = []vg.Length{vg.Points(3), vg.Points(2)}

	p.Add(prev, cur, points)
	p.Legend.Add(currentLabel, cur, points)
	p.Legend.Add(previousLabel, prev)
	return nil
}

func (d *dashboard) dailyLine(title string, t *metrics.Table, column string, c color.Color) (*plot.Plot, error) {
	values, err := t.Column(column)
	if err != nil {
		return nil, err
	}

	xys := make(plotter.XYs, len(values))
	labels := make([]string, len(values))
	for i, r := range t.Rows {
		xys[i] = plotter.XY{X: float64(i), Y: values[i]}
		labels[i] = r.Bucket.Format("02.01")
	}

	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return nil, fmt.Errorf("failed to build line: %w", err)
	}
	line.LineStyle.Color = c
	line.LineStyle.Width = vg.Points(1.2)
	points.GlyphStyle.Color = c
	points.GlyphStyle.Radius = vg.Points(1.2)

	p := d.newPlot(title)
	p.Add(line, points)
	p.X.Tick.Marker = labelTicks{labels: labels, every: 3}
	return p, nil
}

// cohortBars draws new, retained and gone users per week as grouped bars.
func (d *dashboard) cohortBars(title string, t *metrics.Table) (*plot.Plot, error) {
	labels := make([]string, t.Len())
	for i, r := range t.Rows {
		labels[i] = r.Bucket.Format("02.01")
	}

	series := []struct {
		column, label string
	}{
		{metrics.ColNewUsers, d.locale.CohortNew},
		{metrics.ColRetained, d.locale.CohortRetained},
		{metrics.ColGoneUsers, d.locale.CohortGone},
	}

	p := d.newPlot(title)
	width := vg.Points(4)
	for i, s := range series {
		values, err := t.Column(s.column)
		if err != nil {
			return nil, err
		}
		bars, err := plotter.NewBarChart(plotter.Values(values), width)
		if err != nil {
			return nil, fmt.Errorf("failed to build bars: %w", err)
		}
		bars.Color = palette[i%len(palette)]
		bars.LineStyle.Width = 0
		bars.Offset = vg.Length(i-1) * width
		p.Add(bars)
		p.Legend.Add(s.label, bars)
	}
	p.Legend.Top = false
	p.NominalX(labels...)
	return p, nil
}

// cityBars draws one bar series per configured city over the days of the window.
func (d *dashboard) cityBars(title string, t *metrics.Table) (*plot.Plot, error) {
	var days []time.Time
	seen := map[int64]bool{}
	for _, b := range t.Buckets() {
		if !seen[b.Unix()] {
			seen[b.Unix()] = true
			days = append(days, b)
		}
	}
	labels := make([]string, len(days))
	for i, day := range days {
		labels[i] = day.Format("02.01")
	}

	p := d.newPlot(title)
	width := vg.Points(2.5)
	n := len(d.cities)
	for i, city := range d.cities {
		values, err := byBucket(t.Filter(city), metrics.ColDAU)
		if err != nil {
			return nil, err
		}
		series := make(plotter.Values, len(days))
		for j, day := range days {
			series[j] = values[day.Unix()]
		}

		bars, err := plotter.NewBarChart(series, width)
		if err != nil {
			return nil, fmt.Errorf("failed to build bars: %w", err)
		}
		bars.Color = palette[i%len(palette)]
		bars.LineStyle.Width = 0
		bars.Offset = (vg.Length(i) - vg.Length(n-1)/2) * width
		p.Add(bars)
		p.Legend.Add(city, bars)
	}
	p.NominalX(labels...)
	return p, nil
}

// byBucket indexes a column by bucket start (unix seconds); missing buckets read as zero.
func byBucket(t *metrics.Table, column string) (map[int64]float64, error) {
	values, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]float64, len(values))
	for i, r := range t.Rows {
		out[r.Bucket.Unix()] = values[i]
	}
	return out, nil
}

// labelTicks places a text label at every integer position, printing every nth.
type labelTicks struct {
	labels []string
	every  int
}

func (lt labelTicks) Ticks(min, max float64) []plot.Tick {
	var ticks []plot.Tick
	for i, label := range lt.labels {
		x := float64(i)
		if x < min || x > max {
			continue
		}
		if lt.every > 1 && i%lt.every != 0 {
			label = ""
		}
		ticks = append(ticks, plot.Tick{Value: x, Label: label})
	}
	return ticks
}
