package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const chartAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// spectrumChart renders the latest amplitude spectrum as an ECharts
// line chart (HTML). This is a debugging-only endpoint (no auth) to
// eyeball the sea state without a frontend.
// Query params:
//   - channel (optional; default 0)
func (s *Server) spectrumChart(w http.ResponseWriter, r *http.Request) {
	sp, status, err := s.latestSpectrum(r)
	if err != nil {
		s.writeJSONError(w, status, err.Error())
		return
	}

	x := make([]string, len(sp.Frequencies))
	y := make([]opts.LineData, len(sp.Frequencies))
	for i, f := range sp.Frequencies {
		x[i] = fmt.Sprintf("%.3f", f)
		y[i] = opts.LineData{Value: sp.Magnitudes[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Wave Spectrum", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: chartAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Amplitude Spectrum",
			Subtitle: fmt.Sprintf("window=%d transform=%d peak=%.3f Hz", sp.WindowLength, sp.TransformLength, sp.PeakFrequency),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frequency (Hz)", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Amplitude (m)", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).AddSeries("amplitude", y)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// directionChart renders the latest directional energy distribution as
// a polar scatter projected onto XY, colored by energy.
func (s *Server) directionChart(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.station.LatestAnalysis()
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "no analysis has completed yet")
		return
	}
	if len(analysis.Estimates) == 0 || len(analysis.DirectionsDeg) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no directional estimates available")
		return
	}

	// Sum energy per direction bin across the analyzed frequencies.
	total := make([]float64, len(analysis.DirectionsDeg))
	for _, est := range analysis.Estimates {
		for i, e := range est.Energy {
			if i < len(total) {
				total[i] += e
			}
		}
	}

	data := make([]opts.ScatterData, 0, len(total))
	maxAbs := 0.0
	maxEnergy := 0.0
	for i, deg := range analysis.DirectionsDeg {
		theta := deg * math.Pi / 180
		x := total[i] * math.Cos(theta)
		y := total[i] * math.Sin(theta)
		if math.Abs(x) > maxAbs {
			maxAbs = math.Abs(x)
		}
		if math.Abs(y) > maxAbs {
			maxAbs = math.Abs(y)
		}
		if total[i] > maxEnergy {
			maxEnergy = total[i]
		}
		data = append(data, opts.ScatterData{Value: []interface{}{x, y, total[i]}})
	}

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxEnergy == 0 {
		maxEnergy = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Wave Direction", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: chartAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Directional Energy",
			Subtitle: fmt.Sprintf("mean=%.1f° spread=%.1f° bins=%d", analysis.MeanDirectionDeg, analysis.SpreadDeg, len(analysis.DirectionsDeg)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "East", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "North", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxEnergy),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("energy", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// bufferChart renders the acquisition counters as a bar chart.
func (s *Server) bufferChart(w http.ResponseWriter, r *http.Request) {
	stats := s.station.AcquisitionStats()

	x := []string{"Written", "Read", "Overflow", "Fill", "High water", "Backpressure"}
	y := []opts.BarData{
		{Value: stats.Buffer.TotalWritten},
		{Value: stats.Buffer.TotalRead},
		{Value: stats.Buffer.OverflowCount},
		{Value: stats.Buffer.FillLevel},
		{Value: stats.Buffer.HighWaterMark},
		{Value: stats.BackpressureEvents},
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: chartAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Acquisition Buffer", Subtitle: fmt.Sprintf("state=%s session=%s", stats.State, stats.SessionID)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("buffer", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(chartAssetsHost)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// spectrumPNG renders the latest spectrum as a static PNG for reports
// and headless scraping.
func (s *Server) spectrumPNG(w http.ResponseWriter, r *http.Request) {
	sp, status, err := s.latestSpectrum(r)
	if err != nil {
		s.writeJSONError(w, status, err.Error())
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Amplitude Spectrum (peak %.3f Hz)", sp.PeakFrequency)
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Amplitude (m)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(sp.Frequencies))
	for i := range sp.Frequencies {
		pts[i] = plotter.XY{X: sp.Frequencies[i], Y: sp.Magnitudes[i]}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	line.Width = vg.Points(1)
	p.Add(line)

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = wt.WriteTo(w)
}
