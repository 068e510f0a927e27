package impute

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Noofbiz/markerImpute/datasets"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrMissingDirection is returned when a merge lacks every artifact of one
// direction.
var ErrMissingDirection = errors.New("merge needs both forward and reverse artifacts")

// MergeOptions tune Merge.
type MergeOptions struct {
	// K is the logistic steepness across gaps. Zero means DefaultSteepness.
	K float64
}

// MergedResult is the final imputation in real-world units.
type MergedResult struct {
	// Markers are the measurements, frames x coords.
	Markers *mat.Dense
	// Preds is the imputed sequence, frames x coords.
	Preds *mat.Dense
	// BadFrames is the consensus mask, frames x points: set only where some
	// coordinate of the point was bad in both passes.
	BadFrames *datasets.Mask
	// MemberStds is the blended uncertainty, frames x coords, zero outside
	// gaps.
	MemberStds *mat.Dense

	Means []float64
	Stds  []float64
	Names []string
}

// series is one direction's folds concatenated in time order.
type series struct {
	markers *mat.Dense
	preds   *mat.Dense
	bad     *datasets.Mask
	stds    *mat.Dense
}

// Merge combines forward and reverse fold artifacts. Folds of each direction
// are concatenated in fold order and restored to real-world units. A point is
// consensus-bad at a frame when any of its coordinates was bad in both
// passes. Inside each maximal consensus-bad run the forward and reverse
// predictions are blended with logistic weights rising across the run;
// everywhere else the forward prediction is kept.
func Merge(artifacts []*FoldArtifact, opts MergeOptions) (*MergedResult, error) {
	k := opts.K
	if k == 0 {
		k = DefaultSteepness
	}

	byDir := map[Direction][]*FoldArtifact{}
	for _, a := range artifacts {
		if !a.Direction.Valid() {
			return nil, fmt.Errorf("artifact fold %d: %v: %w", a.FoldID, a.Direction, ErrInvalidDirection)
		}
		byDir[a.Direction] = append(byDir[a.Direction], a)
	}
	if len(byDir[Forward]) == 0 || len(byDir[Reverse]) == 0 {
		return nil, fmt.Errorf("%d forward and %d reverse artifacts: %w", len(byDir[Forward]), len(byDir[Reverse]), ErrMissingDirection)
	}

	ref := artifacts[0]
	for _, a := range artifacts[1:] {
		if a.Coords() != ref.Coords() {
			return nil, fmt.Errorf("artifacts with %d and %d coordinates: %w", ref.Coords(), a.Coords(), ErrShapeMismatch)
		}
		if !floats.Equal(a.Means, ref.Means) || !floats.Equal(a.Stds, ref.Stds) {
			return nil, fmt.Errorf("%s fold %d was normalized differently: %w", a.Direction, a.FoldID, ErrShapeMismatch)
		}
	}

	fwd, err := assemble(Forward, byDir[Forward])
	if err != nil {
		return nil, err
	}
	rev, err := assemble(Reverse, byDir[Reverse])
	if err != nil {
		return nil, err
	}
	frames, coords := fwd.preds.Dims()
	if rf, _ := rev.preds.Dims(); rf != frames {
		return nil, fmt.Errorf("forward covers %d frames, reverse %d: %w", frames, rf, ErrShapeMismatch)
	}

	markers, err := datasets.Denormalize(fwd.markers, ref.Means, ref.Stds)
	if err != nil {
		return nil, err
	}
	predsF, err := datasets.Denormalize(fwd.preds, ref.Means, ref.Stds)
	if err != nil {
		return nil, err
	}
	predsR, err := datasets.Denormalize(rev.preds, ref.Means, ref.Stds)
	if err != nil {
		return nil, err
	}

	both, err := fwd.bad.And(rev.bad)
	if err != nil {
		return nil, err
	}
	consensus, err := both.GroupAny(3)
	if err != nil {
		return nil, err
	}

	preds := mat.DenseCopyOf(predsF)
	stds := mat.NewDense(frames, coords, nil)
	for p := 0; p < coords/3; p++ {
		for _, run := range Runs(consensus.Column(p)) {
			w := BlendWeights(run[1]-run[0], k)
			for c := p * 3; c < p*3+3; c++ {
				for t, wR := range w {
					i := run[0] + t
					wF := 1 - wR
					preds.Set(i, c, predsF.At(i, c)*wF+predsR.At(i, c)*wR)
					sF, sR := fwd.stds.At(i, c), rev.stds.At(i, c)
					stds.Set(i, c, math.Sqrt(sF*sF*wF+sR*sR*wR))
				}
			}
		}
	}

	return &MergedResult{
		Markers:    markers,
		Preds:      preds,
		BadFrames:  consensus,
		MemberStds: stds,
		Means:      append([]float64(nil), ref.Means...),
		Stds:       append([]float64(nil), ref.Stds...),
		Names:      ref.Names,
	}, nil
}

// assemble orders one direction's artifacts by fold id, checks that they form
// a complete fold set and concatenates them along time.
func assemble(d Direction, arts []*FoldArtifact) (*series, error) {
	sorted := append([]*FoldArtifact(nil), arts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FoldID < sorted[j].FoldID })

	n := sorted[0].NFolds
	if len(sorted) != n {
		return nil, fmt.Errorf("%s: %d artifacts for %d folds: %w", d, len(sorted), n, datasets.ErrInvalidFold)
	}
	for i, a := range sorted {
		if a.NFolds != n {
			return nil, fmt.Errorf("%s fold %d claims %d folds, fold %d claims %d: %w", d, a.FoldID, a.NFolds, sorted[0].FoldID, n, datasets.ErrInvalidFold)
		}
		if a.FoldID != i {
			return nil, fmt.Errorf("%s folds are not 0..%d (found fold %d at position %d): %w", d, n-1, a.FoldID, i, datasets.ErrInvalidFold)
		}
	}

	markers := make([]mat.Matrix, len(sorted))
	preds := make([]mat.Matrix, len(sorted))
	stds := make([]mat.Matrix, len(sorted))
	bads := make([]*datasets.Mask, len(sorted))
	for i, a := range sorted {
		markers[i], preds[i], stds[i], bads[i] = a.Markers, a.Preds, a.MemberStds, a.BadFrames
	}
	s := &series{}
	var err error
	if s.markers, err = datasets.ConcatRows(markers...); err != nil {
		return nil, fmt.Errorf("%s markers: %w", d, err)
	}
	if s.preds, err = datasets.ConcatRows(preds...); err != nil {
		return nil, fmt.Errorf("%s preds: %w", d, err)
	}
	if s.stds, err = datasets.ConcatRows(stds...); err != nil {
		return nil, fmt.Errorf("%s member stds: %w", d, err)
	}
	if s.bad, err = datasets.ConcatMasks(bads...); err != nil {
		return nil, fmt.Errorf("%s bad frames: %w", d, err)
	}
	return s, nil
}

// Runs labels the maximal runs of true values in col and returns them as
// half-open [start, end) frame ranges in order.
func Runs(col []bool) [][2]int {
	var runs [][2]int
	start := -1
	for i, v := range col {
		switch {
		case v && start < 0:
			start = i
		case !v && start >= 0:
			runs = append(runs, [2]int{start, i})
			start = -1
		}
	}
	if start >= 0 {
		runs = append(runs, [2]int{start, len(col)})
	}
	return runs
}
