package evaluate

import (
	"bytes"
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/floats"
)

// reportVersion is incremented when the on-disk report format changes.
const reportVersion = 1

// Report file names inside an evaluation run folder.
const (
	ErrorsFile  = "errors.gob.zst"
	SummaryFile = "summary.csv"
)

// SaveReport writes the report to dir as ErrorsFile (gob inside zstd) and a
// SummaryFile with one row per gap length and point.
func SaveReport(dir string, r *Report) error {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(r); err != nil {
		zw.Close()
		return fmt.Errorf("encode report: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	if err := datasets.WriteFileAtomic(filepath.Join(dir, ErrorsFile), buf.Bytes()); err != nil {
		return err
	}
	return writeSummary(filepath.Join(dir, SummaryFile), r)
}

// LoadReport reads the ErrorsFile written by SaveReport from dir.
func LoadReport(dir string) (*Report, error) {
	path := filepath.Join(dir, ErrorsFile)
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report %s: %w", path, err)
	}
	defer fh.Close()
	zr, err := zstd.NewReader(fh)
	if err != nil {
		return nil, fmt.Errorf("zstd reader for %s: %w", path, err)
	}
	defer zr.Close()
	var r Report
	if err := gob.NewDecoder(zr).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	if r.Version != reportVersion {
		return nil, fmt.Errorf("report %s version mismatch: file=%d expected=%d", path, r.Version, reportVersion)
	}
	return &r, nil
}

// Summary is the error digest of one point at one gap length.
type Summary struct {
	Length  int
	Point   int
	Name    string
	Samples int
	Median  float64
	P90     float64
	Max     float64
}

// Summaries digests every (gap length, point) pair of r. Lengths without
// samples are skipped.
func (r *Report) Summaries() []Summary {
	var out []Summary
	for _, lr := range r.Lengths {
		if lr.Samples() == 0 {
			continue
		}
		for p := 0; p < r.Points(); p++ {
			var all []float64
			for _, row := range lr.PointErrors(p) {
				all = append(all, row...)
			}
			sort.Float64s(all)
			name := fmt.Sprintf("p%d", p)
			if len(r.Names) == r.Points() {
				name = r.Names[p]
			}
			out = append(out, Summary{
				Length:  lr.Length,
				Point:   p,
				Name:    name,
				Samples: lr.Samples(),
				Median:  percentile(all, 0.5),
				P90:     percentile(all, 0.9),
				Max:     floats.Max(all),
			})
		}
	}
	return out
}

func writeSummary(path string, r *Report) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"gap_length", "point", "name", "samples", "median", "p90", "max"}); err != nil {
		return err
	}
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for _, s := range r.Summaries() {
		rec := []string{strconv.Itoa(s.Length), strconv.Itoa(s.Point), s.Name, strconv.Itoa(s.Samples), ff(s.Median), ff(s.P90), ff(s.Max)}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return datasets.WriteFileAtomic(path, buf.Bytes())
}
