package evaluate

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/Noofbiz/markerImpute/model"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func init() {
	SetLogger(nil)
}

// fixedModel predicts value on every coordinate, optionally with members at
// value+offset.
type fixedModel struct {
	window, coords int
	value          float64
	members        []float64
}

func (f *fixedModel) InputLength() int { return f.window }
func (f *fixedModel) Coords() int      { return f.coords }
func (f *fixedModel) Kind() model.Kind {
	if f.members != nil {
		return model.KindWithMembers
	}
	return model.KindSingle
}

func (f *fixedModel) Predict(_ context.Context, window [][]float64) (model.Prediction, error) {
	if err := model.CheckWindow(f, window); err != nil {
		return nil, err
	}
	frame := make([]float64, f.coords)
	for i := range frame {
		frame[i] = f.value
	}
	if f.members == nil {
		return model.Single{Values: frame}, nil
	}
	mem := make([][]float64, len(f.members))
	for i, off := range f.members {
		mem[i] = make([]float64, f.coords)
		for j := range mem[i] {
			mem[i][j] = f.value + off
		}
	}
	return model.WithMembers{Values: frame, Members: mem}, nil
}

// recording builds a set whose normalized coordinates follow fn, with the
// given frames marked bad on every point.
func recording(frames, points int, fn func(i, j int) float64, bad ...int) *datasets.MarkerSet {
	coords := points * 3
	m := mat.NewDense(frames, coords, nil)
	for i := 0; i < frames; i++ {
		for j := 0; j < coords; j++ {
			m.Set(i, j, fn(i, j))
		}
	}
	mask := datasets.NewMask(frames, points)
	for _, i := range bad {
		for p := 0; p < points; p++ {
			mask.Set(i, p, true)
		}
	}
	means := make([]float64, coords)
	stds := make([]float64, coords)
	for j := range means {
		means[j] = 10
		stds[j] = 2
	}
	return &datasets.MarkerSet{Markers: m, Means: means, Stds: stds, BadFrames: mask}
}

func TestGapLengths(t *testing.T) {
	t.Parallel()
	got := GapLengths(DefaultMinGap, DefaultMaxGap, DefaultGapStep)
	want := []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("GapLengths mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{1, 3, 5}, GapLengths(1, 6, 2))
	assert.Empty(t, GapLengths(20, 10, 5))
}

func TestRunLinearMotionIsExact(t *testing.T) {
	t.Parallel()
	set := recording(120, 2, func(i, j int) float64 { return 0.01*float64(i)*float64(j+1) - 0.3 }, 60, 61, 62)
	m := &model.ConstantVelocity{Window: 3, NCoords: 6, Damping: 1}

	ev := Evaluator{GapLengths: []int{5, 10}, Skip: 3, Workers: 2}
	rep, err := ev.Run(context.Background(), m, set, "")
	require.NoError(t, err)
	require.Len(t, rep.Lengths, 2)
	assert.Equal(t, 2, rep.Points())

	for _, lr := range rep.Lengths {
		ids, _ := datasets.WindowIDs(set.BadFrames, 3, 3+lr.Length, true, true)
		require.Equal(t, (len(ids)+2)/3, lr.Samples(), "gap %d", lr.Length)
		for s := range lr.Errors {
			require.Len(t, lr.Errors[s], lr.Length)
			for f := range lr.Errors[s] {
				for p, e := range lr.Errors[s][f] {
					require.InDelta(t, 0, e, 1e-9, "gap %d sample %d frame %d point %d", lr.Length, s, f, p)
				}
				// predictions are world units
				frame := lr.TargetIDs[s][f]
				want := set.Markers.At(frame, 4)*2 + 10
				require.InDelta(t, want, lr.Predictions[s][f][4], 1e-9)
			}
			// every window sits on clean frames
			for _, id := range append(append([]int(nil), lr.InputIDs[s]...), lr.TargetIDs[s]...) {
				require.False(t, set.BadFrames.RowAny(id))
			}
		}
	}
}

func TestRunKnownError(t *testing.T) {
	t.Parallel()
	set := recording(80, 3, func(i, j int) float64 { return 0 })
	m := &fixedModel{window: 4, coords: 9, value: 0.5, members: []float64{-1, 1}}

	rep, err := Evaluator{GapLengths: []int{6}, Skip: 10}.Run(context.Background(), m, set, "")
	require.NoError(t, err)
	lr := rep.Lengths[0]
	require.Positive(t, lr.Samples())

	// 0.5 normalized is 1.0 world on each of 3 axes
	want := math.Sqrt(3)
	for s := range lr.Errors {
		for f := range lr.Errors[s] {
			for p := 0; p < 3; p++ {
				assert.InDelta(t, want, lr.Errors[s][f][p], 1e-12)
			}
			for c := 0; c < 9; c++ {
				assert.InDelta(t, 1, lr.MemberStds[s][f][c], 1e-12)
				assert.InDelta(t, 11, lr.Predictions[s][f][c], 1e-12)
			}
		}
	}
}

func TestRunWritesPlotsAndReport(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	set := recording(60, 2, func(i, j int) float64 { return math.Sin(float64(i)/7 + float64(j)) }, 30)
	set.Names = []string{"head", "tail"}
	m := &model.ConstantVelocity{Window: 3, NCoords: 6, Damping: 0.5}

	rep, err := Evaluator{GapLengths: []int{4, 8}, Skip: 2, PlotDistribution: true}.Run(context.Background(), m, set, dir)
	require.NoError(t, err)

	for _, L := range []int{4, 8} {
		for p := 0; p < 2; p++ {
			name := fmt.Sprintf("multi_predict_error_distribution_vs_time_marker3d%d.png", p)
			assert.FileExists(t, filepath.Join(dir, fmt.Sprintf("length_%d", L), name))
		}
	}

	require.NoError(t, SaveReport(dir, rep))
	got, err := LoadReport(dir)
	require.NoError(t, err)
	if diff := cmp.Diff(rep, got); diff != "" {
		t.Fatalf("report round trip mismatch (-want +got):\n%s", diff)
	}

	f, err := os.Open(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1+2*2)
	assert.Equal(t, "gap_length", rows[0][0])
	assert.Equal(t, []string{"4", "1", "tail"}, rows[2][:3])
}

func TestRunErrors(t *testing.T) {
	t.Parallel()
	set := recording(20, 1, func(i, j int) float64 { return 0 })

	_, err := Evaluator{GapLengths: []int{30}}.Run(context.Background(), &fixedModel{window: 3, coords: 3}, set, "")
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = Evaluator{GapLengths: []int{5}}.Run(context.Background(), &fixedModel{window: 3, coords: 6}, set, "")
	assert.ErrorIs(t, err, datasets.ErrShapeMismatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Evaluator{GapLengths: []int{5}}.Run(ctx, &model.ConstantVelocity{Window: 3, NCoords: 3}, set, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKTileBands(t *testing.T) {
	t.Parallel()
	const samples, frames = 101, 4
	errs := make([][]float64, samples)
	for s := range errs {
		errs[s] = make([]float64, frames)
		for f := range errs[s] {
			// reversed so the function has to sort
			errs[s][f] = float64(samples-1-s) * float64(f+1)
		}
	}
	bands, median := KTileBands(errs, 5, 90)
	require.Len(t, bands, 5)
	require.Len(t, median, frames)

	for f := 0; f < frames; f++ {
		assert.Equal(t, 0.0, bands[0].Lower[f])
		for i, b := range bands {
			assert.LessOrEqual(t, b.Lower[f], b.Upper[f], "band %d frame %d", i, f)
			if i < len(bands)-1 {
				assert.Equal(t, b.Upper[f], bands[i+1].Lower[f])
			}
		}
		assert.Less(t, bands[4].Upper[f], 100*float64(f+1), "the tail above the max bound is cut")
		assert.InDelta(t, 50*float64(f+1), median[f], 1e-9)
	}
	assert.InDelta(t, 90, bands[4].Upper[0], 1e-9)

	b, m := KTileBands(nil, 5, 90)
	assert.Nil(t, b)
	assert.Nil(t, m)
}

func TestKTileBandsInterpolatesBetweenSamples(t *testing.T) {
	t.Parallel()
	bands, median := KTileBands([][]float64{{4}, {2}, {1}, {3}}, 5, 90)
	require.Len(t, bands, 5)
	assert.InDelta(t, 2.5, median[0], 1e-9, "even count takes the mean of the middle pair")
	assert.InDelta(t, 1.0, bands[0].Lower[0], 1e-9)
	assert.InDelta(t, 1.6, bands[0].Upper[0], 1e-9)
	assert.InDelta(t, 2.2, bands[1].Upper[0], 1e-9)
	assert.InDelta(t, 3.4, bands[4].Lower[0], 1e-9)
	assert.InDelta(t, 3.7, bands[4].Upper[0], 1e-9)
}

func TestPercentile(t *testing.T) {
	t.Parallel()
	sorted := []float64{1, 2, 3, 4}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.5, 2.5},
		{0.9, 3.7},
		{1, 4},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, percentile(sorted, tt.p), 1e-9, "p=%v", tt.p)
	}
	assert.Equal(t, 7.0, percentile([]float64{7}, 0.3))
}

func TestSummariesUseInterpolatedPercentiles(t *testing.T) {
	t.Parallel()
	r := &Report{
		Names: []string{"head"},
		Means: make([]float64, 3),
		Lengths: []LengthReport{{
			Length: 2,
			// two samples x two frames, one point
			Errors: [][][]float64{{{4}, {1}}, {{3}, {2}}},
		}},
	}
	got := r.Summaries()
	require.Len(t, got, 1)
	assert.Equal(t, "head", got[0].Name)
	assert.Equal(t, 2, got[0].Samples)
	assert.InDelta(t, 2.5, got[0].Median, 1e-9)
	assert.InDelta(t, 3.7, got[0].P90, 1e-9)
	assert.Equal(t, 4.0, got[0].Max)
}

func TestPlotErrorDistributionNeedsBands(t *testing.T) {
	t.Parallel()
	assert.Error(t, PlotErrorDistribution(filepath.Join(t.TempDir(), "x.png"), "x", nil, nil))
}
