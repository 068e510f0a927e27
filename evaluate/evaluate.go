// Package evaluate measures how well a model reconstructs artificial gaps in
// clean stretches of a recording.
//
// For every gap length L it picks windows of InputLength+L fully good frames,
// hides the last L frames of the forward seed and the first L frames of the
// reverse seed, predicts them back one point at a time in both directions,
// blends the two passes and records the 3D Euclidean error per sample, frame
// and point in real-world units.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/Noofbiz/markerImpute/impute"
	"github.com/Noofbiz/markerImpute/model"
	"github.com/cheggaaa/pb/v3"
	"gonum.org/v1/gonum/mat"
)

// ErrNoSamples is returned when no gap length yields a single clean window.
var ErrNoSamples = errors.New("no clean windows to evaluate")

// Default tunables.
const (
	DefaultMinGap   = 10
	DefaultMaxGap   = 100
	DefaultGapStep  = 10
	DefaultSkip     = 500
	DefaultKTiles   = 5
	DefaultMaxBound = 90.0
)

// GapLengths returns lo, lo+step, ... up to and including hi.
func GapLengths(lo, hi, step int) []int {
	if step <= 0 {
		step = DefaultGapStep
	}
	var out []int
	for l := lo; l <= hi; l += step {
		if l > 0 {
			out = append(out, l)
		}
	}
	return out
}

// Evaluator holds the evaluation tunables. The zero value uses the defaults.
type Evaluator struct {
	// GapLengths are the artificial gap lengths to test.
	GapLengths []int
	// Skip keeps every Skip-th candidate window.
	Skip int
	// Stride subsamples the recording before windows are picked.
	Stride int
	// K is the blend steepness. Zero means impute.DefaultSteepness.
	K float64
	// KTiles and MaxBound shape the distribution plots.
	KTiles   int
	MaxBound float64
	// Workers bounds concurrent point evaluations. 0 means runtime.NumCPU.
	Workers int
	// PlotDistribution writes one k-tile plot per gap length and point.
	PlotDistribution bool
	Progress         io.Writer
}

func (e Evaluator) withDefaults() Evaluator {
	if len(e.GapLengths) == 0 {
		e.GapLengths = GapLengths(DefaultMinGap, DefaultMaxGap, DefaultGapStep)
	}
	if e.Skip <= 0 {
		e.Skip = DefaultSkip
	}
	if e.Stride <= 0 {
		e.Stride = 1
	}
	if e.K == 0 {
		e.K = impute.DefaultSteepness
	}
	if e.KTiles <= 0 {
		e.KTiles = DefaultKTiles
	}
	if e.MaxBound <= 0 || e.MaxBound > 100 {
		e.MaxBound = DefaultMaxBound
	}
	return e
}

// LengthReport is the outcome for one gap length.
type LengthReport struct {
	Length int
	// InputIDs and TargetIDs are the frame indices (after striding) of each
	// kept sample: InputLength seed frames, then InputLength+Length frames
	// starting at the first hidden frame.
	InputIDs  [][]int
	TargetIDs [][]int
	// Errors is [sample][frame][point], real-world units.
	Errors [][][]float64
	// MemberStds and Predictions are [sample][frame][coord].
	MemberStds  [][][]float64
	Predictions [][][]float64
}

// Samples returns the number of evaluated windows.
func (l *LengthReport) Samples() int { return len(l.Errors) }

// PointErrors returns the [sample][frame] error matrix of one point.
func (l *LengthReport) PointErrors(point int) [][]float64 {
	out := make([][]float64, len(l.Errors))
	for s, frames := range l.Errors {
		out[s] = make([]float64, len(frames))
		for f, pts := range frames {
			out[s][f] = pts[point]
		}
	}
	return out
}

// Report is the full evaluation output.
type Report struct {
	Version   int
	CreatedAt int64
	Stride    int
	Skip      int
	K         float64
	Names     []string
	Means     []float64
	Stds      []float64
	Lengths   []LengthReport
}

// Points returns the number of marker points evaluated.
func (r *Report) Points() int { return len(r.Means) / 3 }

// Run evaluates m on set. When outDir is non-empty and PlotDistribution is
// set, plots are written to outDir/length_<L>/. Run does not save the report;
// see SaveReport.
func (e Evaluator) Run(ctx context.Context, m model.Model, set *datasets.MarkerSet, outDir string) (*Report, error) {
	e = e.withDefaults()
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if set.Coords() != m.Coords() {
		return nil, fmt.Errorf("recording has %d coordinates, model wants %d: %w", set.Coords(), m.Coords(), datasets.ErrShapeMismatch)
	}
	sub := set.Subsample(e.Stride)
	inLen := m.InputLength()

	rep := &Report{
		Version:   reportVersion,
		CreatedAt: time.Now().Unix(),
		Stride:    e.Stride,
		Skip:      e.Skip,
		K:         e.K,
		Names:     sub.Names,
		Means:     append([]float64(nil), sub.Means...),
		Stds:      append([]float64(nil), sub.Stds...),
	}

	var bar *pb.ProgressBar
	if e.Progress != nil {
		bar = pb.New(len(e.GapLengths) * sub.Points())
		bar.SetWriter(e.Progress)
		bar.Start()
		defer bar.Finish()
	}

	total := 0
	for _, L := range e.GapLengths {
		Logf("Getting windows for gap length %d", L)
		ds := datasets.NewWindowDataset(sub, inLen, inLen+L, e.Skip)
		lr := LengthReport{Length: L}
		for i := 0; i < ds.Len(); i++ {
			in, out := ds.IDs(i)
			lr.InputIDs = append(lr.InputIDs, in)
			lr.TargetIDs = append(lr.TargetIDs, out)
		}
		if len(lr.InputIDs) == 0 {
			Logf("No clean windows for gap length %d", L)
			rep.Lengths = append(rep.Lengths, lr)
			if bar != nil {
				bar.Add(sub.Points())
			}
			continue
		}

		var lengthDir string
		if outDir != "" && e.PlotDistribution {
			lengthDir = filepath.Join(outDir, fmt.Sprintf("length_%d", L))
			if err := os.MkdirAll(lengthDir, 0755); err != nil {
				return nil, err
			}
		}
		if err := e.runLength(ctx, m, sub, ds, &lr, lengthDir, bar); err != nil {
			return nil, fmt.Errorf("gap length %d: %w", L, err)
		}
		total += lr.Samples()
		rep.Lengths = append(rep.Lengths, lr)
	}
	if total == 0 {
		return nil, ErrNoSamples
	}
	return rep, nil
}

// gapSample holds one window prepared for both passes.
type gapSample struct {
	fwd, rev *mat.Dense
	truth    *mat.Dense // L x coords, real-world units
}

func (e Evaluator) runLength(ctx context.Context, m model.Model, set *datasets.MarkerSet, ds *datasets.WindowDataset, lr *LengthReport, plotDir string, bar *pb.ProgressBar) error {
	L := lr.Length
	idx := make([]int, ds.Len())
	for i := range idx {
		idx[i] = i
	}
	inputs, targets, err := ds.Batch(idx)
	if err != nil {
		return err
	}
	samples := make([]gapSample, len(idx))
	for s := range samples {
		in, out := inputs[s], targets[s]
		gap := out[:L]
		// the frames after the gap, walked backwards, seed the reverse pass
		rev := make([][]float64, 0, len(out))
		for i := len(out) - 1; i >= L; i-- {
			rev = append(rev, out[i])
		}
		for i := L - 1; i >= 0; i-- {
			rev = append(rev, gap[i])
		}

		fwd := denseOf(append(append([][]float64(nil), in...), gap...))
		truth, err := datasets.Denormalize(denseOf(gap), set.Means, set.Stds)
		if err != nil {
			return err
		}
		samples[s] = gapSample{fwd: fwd, rev: denseOf(rev), truth: truth}
	}

	coords := set.Coords()
	lr.Errors = newCube(len(samples), L, coords/3)
	lr.MemberStds = newCube(len(samples), L, coords)
	lr.Predictions = newCube(len(samples), L, coords)
	weights := impute.BlendWeights(L, e.K)

	points := coords / 3
	workerCount := e.Workers
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if workerCount > points {
		workerCount = points
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobs := make(chan int, points)
	errCh := make(chan error, workerCount)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for p := range jobs {
				if ctx.Err() != nil {
					return
				}
				start := time.Now()
				if err := e.evaluatePoint(ctx, m, set, samples, weights, p, lr); err != nil {
					errCh <- fmt.Errorf("point %d: %w", p, err)
					cancel()
					return
				}
				Logf("Finished predictions of point %d (gap %d) in %s", p, L, time.Since(start).Round(time.Millisecond))
				if plotDir != "" {
					bands, median := KTileBands(lr.PointErrors(p), e.KTiles, e.MaxBound)
					path := filepath.Join(plotDir, fmt.Sprintf("multi_predict_error_distribution_vs_time_marker3d%d.png", p))
					if err := PlotErrorDistribution(path, fmt.Sprintf("Marker %d 3d", p), bands, median); err != nil {
						errCh <- fmt.Errorf("plot point %d: %w", p, err)
						cancel()
						return
					}
				}
				if bar != nil {
					bar.Increment()
				}
			}
		}()
	}
	for p := 0; p < points; p++ {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
	close(errCh)
	if err, ok := <-errCh; ok {
		return err
	}
	return ctx.Err()
}

// evaluatePoint predicts one point's triple over every sample in both
// directions and fills its slots in lr. Workers own disjoint points, so the
// writes never overlap.
func (e Evaluator) evaluatePoint(ctx context.Context, m model.Model, set *datasets.MarkerSet, samples []gapSample, weights []float64, p int, lr *LengthReport) error {
	coords := set.Coords()
	target := make([]bool, coords)
	for c := p * 3; c < p*3+3; c++ {
		target[c] = true
	}
	for s, smp := range samples {
		fF, err := impute.Predict(ctx, m, smp.fwd, target)
		if err != nil {
			return fmt.Errorf("sample %d forward: %w", s, err)
		}
		fR, err := impute.Predict(ctx, m, smp.rev, target)
		if err != nil {
			return fmt.Errorf("sample %d reverse: %w", s, err)
		}
		predF, err := datasets.Denormalize(fF.Preds, set.Means, set.Stds)
		if err != nil {
			return err
		}
		predR, err := datasets.Denormalize(datasets.ReverseRows(fR.Preds), set.Means, set.Stds)
		if err != nil {
			return err
		}
		var stdF, stdR mat.Matrix
		if fF.MemberStds != nil && fR.MemberStds != nil {
			stdF, stdR = fF.MemberStds, datasets.ReverseRows(fR.MemberStds)
		}

		for t, wR := range weights {
			wF := 1 - wR
			var sq float64
			for c := p * 3; c < p*3+3; c++ {
				v := predF.At(t, c)*wF + predR.At(t, c)*wR
				lr.Predictions[s][t][c] = v
				d := smp.truth.At(t, c) - v
				sq += d * d
				if stdF != nil {
					a, b := stdF.At(t, c), stdR.At(t, c)
					lr.MemberStds[s][t][c] = math.Sqrt(a*a*wF + b*b*wR)
				}
			}
			lr.Errors[s][t][p] = math.Sqrt(sq)
		}
	}
	return nil
}

// denseOf copies rows into a new matrix.
func denseOf(rows [][]float64) *mat.Dense {
	out := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, r := range rows {
		out.SetRow(i, r)
	}
	return out
}

func newCube(a, b, c int) [][][]float64 {
	out := make([][][]float64, a)
	for i := range out {
		out[i] = make([][]float64, b)
		for j := range out[i] {
			out[i][j] = make([]float64, c)
		}
	}
	return out
}
