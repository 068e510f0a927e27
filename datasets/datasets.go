package datasets

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// This package loads motion-capture marker recordings and prepares them for
// imputation.
//
// A recording is a sequence of frames. Each frame holds 3 coordinates for every
// tracked point, laid out point-major: coordinate i*3+j is axis j of point i.
// Sequences are stored z-scored; the per-coordinate mean and std needed to go
// back to real-world units travel with them.
//
// Two source layouts are recognised:
//
// flat
//   - markers:      frames x coords, already z-scored
//   - marker_means: coords
//   - marker_stds:  coords
//   - bad_frames:   frames x points, non-zero where the point is unreliable
//
// nested
//   - markers_aligned_preproc: point name -> frames x 3, raw units
//   - bad_frames_agg:          per point (sorted name order), the 1-based
//     frame indices at which that point is bad
//
// The nested layout is flattened and z-scored on load.

var (
	// ErrUnsupportedFormat is returned when a source is neither of the
	// recognised layouts or uses an unknown container extension.
	ErrUnsupportedFormat = errors.New("unsupported marker source format")
	// ErrShapeMismatch is returned when array dimensions disagree.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Layout identifies which source layout a recording was read from.
type Layout int

const (
	LayoutFlat Layout = iota
	LayoutNested
)

func (l Layout) String() string {
	switch l {
	case LayoutFlat:
		return "flat"
	case LayoutNested:
		return "nested"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// MarkerSet is a z-scored recording plus everything needed to interpret it.
type MarkerSet struct {
	// Names of the tracked points, one per coordinate triple. May be empty
	// for flat sources that do not carry names.
	Names []string
	// Markers is frames x coords, z-scored.
	Markers *mat.Dense
	// Means and Stds restore real-world units: v*std + mean.
	Means []float64
	Stds  []float64
	// BadFrames is frames x points.
	BadFrames *Mask
	// Layout the set was read from.
	Layout Layout
}

// Frames returns the number of frames.
func (s *MarkerSet) Frames() int {
	r, _ := s.Markers.Dims()
	return r
}

// Coords returns the number of coordinate columns.
func (s *MarkerSet) Coords() int {
	_, c := s.Markers.Dims()
	return c
}

// Points returns the number of tracked points.
func (s *MarkerSet) Points() int { return s.Coords() / 3 }

// Validate checks that all parts of the set agree on their dimensions.
func (s *MarkerSet) Validate() error {
	if s.Markers == nil || s.BadFrames == nil {
		return fmt.Errorf("marker set is missing markers or bad frames: %w", ErrShapeMismatch)
	}
	frames, coords := s.Markers.Dims()
	if coords%3 != 0 {
		return fmt.Errorf("%d coordinates is not a multiple of 3: %w", coords, ErrShapeMismatch)
	}
	if len(s.Means) != coords || len(s.Stds) != coords {
		return fmt.Errorf("normalization stats have %d/%d entries for %d coordinates: %w",
			len(s.Means), len(s.Stds), coords, ErrShapeMismatch)
	}
	br, bc := s.BadFrames.Dims()
	if br != frames || bc != coords/3 {
		return fmt.Errorf("bad frames are %dx%d, want %dx%d: %w", br, bc, frames, coords/3, ErrShapeMismatch)
	}
	if len(s.Names) != 0 && len(s.Names) != coords/3 {
		return fmt.Errorf("%d names for %d points: %w", len(s.Names), coords/3, ErrShapeMismatch)
	}
	return nil
}

// Subsample keeps every stride-th frame of markers and bad frames.
func (s *MarkerSet) Subsample(stride int) *MarkerSet {
	out := *s
	out.Markers = SubsampleRows(s.Markers, stride)
	out.BadFrames = s.BadFrames.Subsample(stride)
	return &out
}

// Slice returns the frames [from, to) as a new set sharing no storage.
func (s *MarkerSet) Slice(from, to int) *MarkerSet {
	out := *s
	out.Markers = mat.DenseCopyOf(s.Markers.Slice(from, to, 0, s.Coords()))
	out.BadFrames = s.BadFrames.Slice(from, to)
	return &out
}

// Denormalize returns v*std + mean per column.
func Denormalize(m mat.Matrix, means, stds []float64) (*mat.Dense, error) {
	r, c := m.Dims()
	if len(means) != c || len(stds) != c {
		return nil, fmt.Errorf("denormalize %d columns with %d means and %d stds: %w", c, len(means), len(stds), ErrShapeMismatch)
	}
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, j int, v float64) float64 { return v*stds[j] + means[j] }, m)
	return out, nil
}

// Normalize returns (v - mean)/std per column. It is the inverse of
// Denormalize for non-zero stds.
func Normalize(m mat.Matrix, means, stds []float64) (*mat.Dense, error) {
	r, c := m.Dims()
	if len(means) != c || len(stds) != c {
		return nil, fmt.Errorf("normalize %d columns with %d means and %d stds: %w", c, len(means), len(stds), ErrShapeMismatch)
	}
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, j int, v float64) float64 { return (v - means[j]) / stds[j] }, m)
	return out, nil
}

// ZScore computes per-column mean and population std and returns the
// z-scored matrix. Columns with zero spread keep a std of 1 so the result
// stays finite.
func ZScore(m mat.Matrix) (*mat.Dense, []float64, []float64) {
	r, c := m.Dims()
	means := make([]float64, c)
	stds := make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, m)
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		means[j], stds[j] = mean, std
	}
	z, _ := Normalize(m, means, stds)
	return z, means, stds
}

// ReverseRows returns a copy of m with the row order flipped.
func ReverseRows(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, m)
		out.SetRow(r-1-i, row)
	}
	return out
}

// SubsampleRows keeps every stride-th row starting at row 0.
func SubsampleRows(m mat.Matrix, stride int) *mat.Dense {
	if stride <= 1 {
		return mat.DenseCopyOf(m)
	}
	r, c := m.Dims()
	n := (r + stride - 1) / stride
	out := mat.NewDense(n, c, nil)
	row := make([]float64, c)
	for i := 0; i < n; i++ {
		mat.Row(row, i*stride, m)
		out.SetRow(i, row)
	}
	return out
}

// ConcatRows stacks matrices vertically. Column counts must agree.
func ConcatRows(ms ...mat.Matrix) (*mat.Dense, error) {
	if len(ms) == 0 {
		return &mat.Dense{}, nil
	}
	_, cols := ms[0].Dims()
	rows := 0
	for _, m := range ms {
		r, c := m.Dims()
		if c != cols {
			return nil, fmt.Errorf("concat matrices with %d and %d columns: %w", cols, c, ErrShapeMismatch)
		}
		rows += r
	}
	if rows == 0 {
		return &mat.Dense{}, nil
	}
	out := mat.NewDense(rows, cols, nil)
	off := 0
	for _, m := range ms {
		r, _ := m.Dims()
		if r == 0 {
			continue
		}
		out.Slice(off, off+r, 0, cols).(*mat.Dense).Copy(m)
		off += r
	}
	return out, nil
}

// flattenNested turns the nested per-point layout into a flat z-scored set.
func flattenNested(points map[string][][]float64, agg [][]int) (*MarkerSet, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("nested layout has no points: %w", ErrUnsupportedFormat)
	}
	names := make([]string, 0, len(points))
	for name := range points {
		names = append(names, name)
	}
	sort.Strings(names)

	frames := len(points[names[0]])
	raw := mat.NewDense(max(frames, 1), len(names)*3, nil)
	for i, name := range names {
		p := points[name]
		if len(p) != frames {
			return nil, fmt.Errorf("point %q has %d frames, want %d: %w", name, len(p), frames, ErrShapeMismatch)
		}
		for f, xyz := range p {
			if len(xyz) != 3 {
				return nil, fmt.Errorf("point %q frame %d has %d dims, want 3: %w", name, f, len(xyz), ErrShapeMismatch)
			}
			for j := 0; j < 3; j++ {
				raw.Set(f, i*3+j, xyz[j])
			}
		}
	}
	if frames == 0 {
		return nil, fmt.Errorf("nested layout has no frames: %w", ErrShapeMismatch)
	}

	if len(agg) != len(names) {
		return nil, fmt.Errorf("bad_frames_agg has %d entries for %d points: %w", len(agg), len(names), ErrShapeMismatch)
	}
	bad := NewMask(frames, len(names))
	for p, ids := range agg {
		for _, id := range ids {
			if id < 1 || id > frames {
				return nil, fmt.Errorf("bad frame index %d for point %q outside 1..%d: %w", id, names[p], frames, ErrShapeMismatch)
			}
			bad.Set(id-1, p, true)
		}
	}

	z, means, stds := ZScore(raw)
	return &MarkerSet{
		Names:     names,
		Markers:   z,
		Means:     means,
		Stds:      stds,
		BadFrames: bad,
		Layout:    LayoutNested,
	}, nil
}
