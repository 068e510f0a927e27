package impute

import (
	"math/rand"
	"testing"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// constArtifact builds an artifact whose predictions are all value and whose
// bad frames cover the given runs on every coordinate.
func constArtifact(d Direction, foldID, nFolds, frames, coords int, value, std float64, runs ...[2]int) *FoldArtifact {
	preds := mat.NewDense(frames, coords, nil)
	stds := mat.NewDense(frames, coords, nil)
	markers := mat.NewDense(frames, coords, nil)
	for i := 0; i < frames; i++ {
		for j := 0; j < coords; j++ {
			preds.Set(i, j, value)
			stds.Set(i, j, std)
			markers.Set(i, j, float64(i))
		}
	}
	bad := datasets.NewMask(frames, coords)
	for _, r := range runs {
		for i := r[0]; i < r[1]; i++ {
			for j := 0; j < coords; j++ {
				bad.Set(i, j, true)
			}
		}
	}
	means := make([]float64, coords)
	sds := make([]float64, coords)
	for j := range sds {
		sds[j] = 1
	}
	return &FoldArtifact{
		Version: artifactVersion, Direction: d, FoldID: foldID, NFolds: nFolds,
		Markers: markers, Preds: preds, BadFrames: bad, MemberStds: stds,
		Means: means, Stds: sds,
	}
}

func TestMergeBlendsGapBetweenDirections(t *testing.T) {
	t.Parallel()
	fwd := constArtifact(Forward, 0, 1, 100, 6, 1.0, 1, [2]int{40, 50})
	rev := constArtifact(Reverse, 0, 1, 100, 6, 3.0, 1, [2]int{40, 50})

	res, err := Merge([]*FoldArtifact{rev, fwd}, MergeOptions{})
	require.NoError(t, err)

	frames, coords := res.Preds.Dims()
	require.Equal(t, 100, frames)
	require.Equal(t, 6, coords)
	for j := 0; j < coords; j++ {
		for i := 0; i < frames; i++ {
			if i >= 40 && i < 50 {
				continue
			}
			require.Equal(t, 1.0, res.Preds.At(i, j), "frame %d coord %d", i, j)
			require.Zero(t, res.MemberStds.At(i, j))
		}
		assert.Less(t, res.Preds.At(40, j), 1.1)
		assert.Greater(t, res.Preds.At(49, j), 2.9)
		for i := 41; i < 50; i++ {
			assert.Greater(t, res.Preds.At(i, j), res.Preds.At(i-1, j))
		}
		// equal unit stds stay 1 under any weights
		assert.InDelta(t, 1, res.MemberStds.At(45, j), 1e-12)
	}
	for p := 0; p < 2; p++ {
		for i := 0; i < frames; i++ {
			assert.Equal(t, i >= 40 && i < 50, res.BadFrames.At(i, p))
		}
	}
}

func TestMergeSingleFrameGap(t *testing.T) {
	t.Parallel()
	fwd := constArtifact(Forward, 0, 1, 20, 3, 2.0, 0, [2]int{7, 8})
	rev := constArtifact(Reverse, 0, 1, 20, 3, 6.0, 0, [2]int{7, 8})
	res, err := Merge([]*FoldArtifact{fwd, rev}, MergeOptions{K: 1})
	require.NoError(t, err)
	assert.Equal(t, 0.5*2.0+0.5*6.0, res.Preds.At(7, 1))
}

func TestMergeConsensusIsSubsetOfBothPasses(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(5))
	const frames, coords = 200, 9
	fwd := constArtifact(Forward, 0, 1, frames, coords, 0, 0)
	rev := constArtifact(Reverse, 0, 1, frames, coords, 0, 0)
	for i := 0; i < frames; i++ {
		for j := 0; j < coords; j++ {
			fwd.BadFrames.Set(i, j, rng.Float64() < 0.3)
			rev.BadFrames.Set(i, j, rng.Float64() < 0.3)
		}
	}
	res, err := Merge([]*FoldArtifact{fwd, rev}, MergeOptions{})
	require.NoError(t, err)

	for i := 0; i < frames; i++ {
		for p := 0; p < coords/3; p++ {
			both := false
			anyF, anyR := false, false
			for c := p * 3; c < p*3+3; c++ {
				both = both || (fwd.BadFrames.At(i, c) && rev.BadFrames.At(i, c))
				anyF = anyF || fwd.BadFrames.At(i, c)
				anyR = anyR || rev.BadFrames.At(i, c)
			}
			require.Equal(t, both, res.BadFrames.At(i, p), "frame %d point %d", i, p)
			if res.BadFrames.At(i, p) {
				require.True(t, anyF && anyR)
			}
		}
	}
}

func TestMergeConcatenatesFoldsInOrder(t *testing.T) {
	t.Parallel()
	var arts []*FoldArtifact
	for f := 2; f >= 0; f-- {
		a := constArtifact(Forward, f, 3, 10, 3, float64(f), 0)
		arts = append(arts, a, constArtifact(Reverse, f, 3, 10, 3, 0, 0))
	}
	res, err := Merge(arts, MergeOptions{})
	require.NoError(t, err)
	r, _ := res.Preds.Dims()
	require.Equal(t, 30, r)
	for i := 0; i < 30; i++ {
		assert.Equal(t, float64(i/10), res.Preds.At(i, 0))
	}
}

func TestMergeRestoresUnits(t *testing.T) {
	t.Parallel()
	fwd := constArtifact(Forward, 0, 1, 10, 3, 1, 0)
	rev := constArtifact(Reverse, 0, 1, 10, 3, 1, 0)
	for _, a := range []*FoldArtifact{fwd, rev} {
		a.Means = []float64{10, 20, 30}
		a.Stds = []float64{2, 2, 2}
	}
	res, err := Merge([]*FoldArtifact{fwd, rev}, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 32.0, res.Preds.At(3, 2))
	assert.Equal(t, 3*2+20.0, res.Markers.At(3, 1))
}

func TestMergeRejectsInconsistentArtifacts(t *testing.T) {
	t.Parallel()
	f0 := constArtifact(Forward, 0, 2, 10, 3, 0, 0)
	f1 := constArtifact(Forward, 1, 2, 10, 3, 0, 0)
	r0 := constArtifact(Reverse, 0, 2, 10, 3, 0, 0)
	r1 := constArtifact(Reverse, 1, 2, 10, 3, 0, 0)

	_, err := Merge([]*FoldArtifact{f0, f1}, MergeOptions{})
	assert.ErrorIs(t, err, ErrMissingDirection)

	_, err = Merge([]*FoldArtifact{f0, f1, r0}, MergeOptions{})
	assert.ErrorIs(t, err, datasets.ErrInvalidFold)

	_, err = Merge([]*FoldArtifact{f0, f0, r0, r1}, MergeOptions{})
	assert.ErrorIs(t, err, datasets.ErrInvalidFold)

	wide := constArtifact(Reverse, 1, 2, 10, 6, 0, 0)
	_, err = Merge([]*FoldArtifact{f0, f1, r0, wide}, MergeOptions{})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	other := constArtifact(Reverse, 1, 2, 10, 3, 0, 0)
	other.Means = []float64{1, 1, 1}
	_, err = Merge([]*FoldArtifact{f0, f1, r0, other}, MergeOptions{})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	short := constArtifact(Reverse, 1, 2, 9, 3, 0, 0)
	_, err = Merge([]*FoldArtifact{f0, f1, r0, short}, MergeOptions{})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRuns(t *testing.T) {
	t.Parallel()
	got := Runs([]bool{true, true, false, false, true, false, true, true, true})
	want := [][2]int{{0, 2}, {4, 5}, {6, 9}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Runs mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, Runs([]bool{false, false}))
	assert.Empty(t, Runs(nil))
}
