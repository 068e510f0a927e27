package evaluate

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Band is one k-tile of the per-frame error distribution.
type Band struct {
	// Lower and Upper are per-frame percentiles.
	Lower []float64
	Upper []float64
}

// KTileBands splits each frame's error distribution across samples
// (errs is [sample][frame]) into kTiles bands. Band i spans the
// i/k..(i+1)/k quantiles, except that the last band stops at the maxBound
// percentile to keep the tail off the plot. It also returns the per-frame
// median.
func KTileBands(errs [][]float64, kTiles int, maxBound float64) ([]Band, []float64) {
	if len(errs) == 0 || kTiles <= 0 {
		return nil, nil
	}
	if maxBound <= 0 || maxBound > 100 {
		maxBound = 100
	}
	frames := len(errs[0])
	bands := make([]Band, kTiles)
	for i := range bands {
		bands[i] = Band{Lower: make([]float64, frames), Upper: make([]float64, frames)}
	}
	median := make([]float64, frames)

	col := make([]float64, len(errs))
	for t := 0; t < frames; t++ {
		for s := range errs {
			col[s] = errs[s][t]
		}
		sort.Float64s(col)
		for i := range bands {
			bands[i].Lower[t] = percentile(col, float64(i)/float64(kTiles))
			top := float64(i+1) / float64(kTiles)
			if i == kTiles-1 {
				top = maxBound / 100
			}
			bands[i].Upper[t] = percentile(col, top)
		}
		median[t] = percentile(col, 0.5)
	}
	return bands, median
}

// percentile interpolates linearly between the two order statistics around
// position p*(n-1) of sorted, so the 0.5 percentile of an even count is the
// mean of the middle pair. sorted must be ascending and non-empty.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	pos := p * float64(n-1)
	lo := int(pos)
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// PlotErrorDistribution draws the k-tile bands as filled areas over frames
// with the median as a white line on top, and saves the plot to path.
func PlotErrorDistribution(path, title string, bands []Band, median []float64) error {
	if len(bands) == 0 {
		return fmt.Errorf("no bands to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Number of frames"
	p.Y.Label.Text = "Median error (mm)"
	p.Add(plotter.NewGrid())

	colors := palette.Heat(len(bands), 1).Colors()
	for i, b := range bands {
		n := len(b.Upper)
		outline := make(plotter.XYs, 0, 2*n)
		for t := 0; t < n; t++ {
			outline = append(outline, plotter.XY{X: float64(t), Y: b.Upper[t]})
		}
		for t := n - 1; t >= 0; t-- {
			outline = append(outline, plotter.XY{X: float64(t), Y: b.Lower[t]})
		}
		poly, err := plotter.NewPolygon(outline)
		if err != nil {
			return err
		}
		poly.Color = colors[i]
		poly.LineStyle.Width = 0
		p.Add(poly)
	}

	if len(median) > 0 {
		pts := make(plotter.XYs, len(median))
		for t, v := range median {
			pts[t] = plotter.XY{X: float64(t), Y: v}
		}
		ml, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		ml.Color = color.White
		ml.Width = vg.Points(3)
		p.Add(ml)
		p.Legend.Add("median", ml)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return p.Save(12*vg.Inch, 8*vg.Inch, path)
}
