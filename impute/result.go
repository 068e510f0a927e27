package impute

import (
	"bytes"
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// resultVersion is incremented when the on-disk result format changes.
const resultVersion = 1

type resultFile struct {
	Version   int
	CreatedAt int64
	Result    *MergedResult
}

// SaveResult writes r as zstd-compressed gob to path, atomically.
func SaveResult(path string, r *MergedResult, createdAt int64) error {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(&resultFile{Version: resultVersion, CreatedAt: createdAt, Result: r}); err != nil {
		zw.Close()
		return fmt.Errorf("encode result: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return datasets.WriteFileAtomic(path, buf.Bytes())
}

// LoadResult reads a result written by SaveResult.
func LoadResult(path string) (*MergedResult, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open result %s: %w", path, err)
	}
	defer fh.Close()
	zr, err := zstd.NewReader(fh)
	if err != nil {
		return nil, fmt.Errorf("zstd reader for %s: %w", path, err)
	}
	defer zr.Close()
	var rf resultFile
	if err := gob.NewDecoder(zr).Decode(&rf); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", path, err)
	}
	if rf.Version != resultVersion {
		return nil, fmt.Errorf("result %s version mismatch: file=%d expected=%d", path, rf.Version, resultVersion)
	}
	if rf.Result == nil {
		return nil, fmt.Errorf("result %s is empty", path)
	}
	return rf.Result, nil
}

// WriteCSV writes one row per frame: frame, then for every coordinate the
// prediction in recording units, the member std in z-score units (`_std_z`)
// and the consensus-bad flag. The file is replaced atomically.
func (r *MergedResult) WriteCSV(path string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	frames, coords := r.Preds.Dims()
	header := []string{"frame"}
	for c := 0; c < coords; c++ {
		name := r.coordName(c)
		header = append(header, name, name+"_std_z", name+"_bad")
	}
	if err := w.Write(header); err != nil {
		return err
	}
	row := make([]string, 0, len(header))
	for i := 0; i < frames; i++ {
		row = append(row[:0], strconv.Itoa(i))
		for c := 0; c < coords; c++ {
			bad := "0"
			if r.BadFrames.At(i, c/3) {
				bad = "1"
			}
			row = append(row,
				strconv.FormatFloat(r.Preds.At(i, c), 'g', -1, 64),
				strconv.FormatFloat(r.MemberStds.At(i, c), 'g', -1, 64),
				bad)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write csv %s: %w", path, err)
	}
	return datasets.WriteFileAtomic(path, buf.Bytes())
}

func (r *MergedResult) coordName(c int) string {
	axis := string("xyz"[c%3])
	_, coords := r.Preds.Dims()
	if len(r.Names) > 0 && len(r.Names) == coords/3 {
		return r.Names[c/3] + "_" + axis
	}
	return fmt.Sprintf("p%d_%s", c/3, axis)
}

// PlotCoordinate writes a PNG of one coordinate over time: the measurements
// (grey), the merged prediction (blue) and the consensus-bad frames (red).
func (r *MergedResult) PlotCoordinate(path string, coord int) error {
	frames, coords := r.Preds.Dims()
	if coord < 0 || coord >= coords {
		return fmt.Errorf("coordinate %d outside 0..%d", coord, coords-1)
	}
	measured := make(plotter.XYs, frames)
	imputed := make(plotter.XYs, frames)
	var gaps plotter.XYs
	for i := 0; i < frames; i++ {
		measured[i] = plotter.XY{X: float64(i), Y: r.Markers.At(i, coord)}
		imputed[i] = plotter.XY{X: float64(i), Y: r.Preds.At(i, coord)}
		if r.BadFrames.At(i, coord/3) {
			gaps = append(gaps, imputed[i])
		}
	}

	p := plot.New()
	p.Title.Text = "Imputed " + r.coordName(coord)
	p.X.Label.Text = "frame"
	p.Y.Label.Text = "position"
	p.Add(plotter.NewGrid())

	ml, err := plotter.NewLine(measured)
	if err != nil {
		return err
	}
	ml.Color = color.RGBA{R: 120, G: 120, B: 120, A: 180}
	ml.Width = vg.Points(0.8)
	p.Add(ml)
	p.Legend.Add("measured", ml)

	il, err := plotter.NewLine(imputed)
	if err != nil {
		return err
	}
	il.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
	il.Width = vg.Points(1.2)
	p.Add(il)
	p.Legend.Add("imputed", il)

	if len(gaps) > 0 {
		gs, err := plotter.NewScatter(gaps)
		if err != nil {
			return err
		}
		gs.GlyphStyle.Color = color.RGBA{R: 200, G: 30, B: 30, A: 200}
		gs.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(gs)
		p.Legend.Add("gap", gs)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}
