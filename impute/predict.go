package impute

import (
	"context"
	"errors"
	"fmt"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/Noofbiz/markerImpute/model"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInvalidHorizon is returned when a forecast asks for no frames, a
	// negative number of frames, or more frames than follow the seed window.
	ErrInvalidHorizon = errors.New("invalid prediction horizon")
	// ErrShapeMismatch is returned when sequences, masks, models or
	// normalization stats disagree on their dimensions.
	ErrShapeMismatch = datasets.ErrShapeMismatch
)

// Forecast is the output of a multi-frame prediction.
type Forecast struct {
	// Preds is horizon x coords.
	Preds *mat.Dense
	// MemberStds is horizon x coords, the population std across ensemble
	// members. Nil for single models.
	MemberStds *mat.Dense
}

// Predict forecasts every frame of seq that follows the model's seed window.
// It is PredictHorizon with horizon = frames - InputLength.
func Predict(ctx context.Context, m model.Model, seq mat.Matrix, target []bool) (*Forecast, error) {
	frames, _ := seq.Dims()
	return PredictHorizon(ctx, m, seq, target, frames-m.InputLength())
}

// PredictHorizon forecasts horizon frames after the first InputLength frames
// of seq. Each step feeds the model its current window, replaces every
// coordinate outside target with the ground truth at that frame, records the
// frame and slides it into the window. With an all-false target the output is
// exactly the ground truth.
func PredictHorizon(ctx context.Context, m model.Model, seq mat.Matrix, target []bool, horizon int) (*Forecast, error) {
	inputLen := m.InputLength()
	if inputLen < 1 {
		return nil, fmt.Errorf("model input length %d: %w", inputLen, ErrInvalidHorizon)
	}
	frames, coords := seq.Dims()
	if coords != m.Coords() {
		return nil, fmt.Errorf("sequence has %d coordinates, model wants %d: %w", coords, m.Coords(), ErrShapeMismatch)
	}
	if len(target) != coords {
		return nil, fmt.Errorf("target mask has %d entries for %d coordinates: %w", len(target), coords, ErrShapeMismatch)
	}
	available := frames - inputLen
	if horizon <= 0 || horizon > available {
		return nil, fmt.Errorf("horizon %d with %d frames after a %d-frame window: %w", horizon, max(available, 0), inputLen, ErrInvalidHorizon)
	}

	window := datasets.Gather(seq, seqRange(0, inputLen))
	fc := &Forecast{Preds: mat.NewDense(horizon, coords, nil)}
	if m.Kind() == model.KindWithMembers {
		fc.MemberStds = mat.NewDense(horizon, coords, nil)
	}

	truth := make([]float64, coords)
	for step := 0; step < horizon; step++ {
		abs := inputLen + step
		p, err := m.Predict(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("predict frame %d: %w", abs, err)
		}
		frame, err := ownFrame(p, coords)
		if err != nil {
			return nil, fmt.Errorf("predict frame %d: %w", abs, err)
		}
		mat.Row(truth, abs, seq)
		for j, t := range target {
			if !t {
				frame[j] = truth[j]
			}
		}
		fc.Preds.SetRow(step, frame)
		if fc.MemberStds != nil {
			fc.MemberStds.SetRow(step, memberStd(p, nil))
		}
		window = slide(window, frame)
	}
	return fc, nil
}

// ownFrame copies the prediction's frame and checks its width.
func ownFrame(p model.Prediction, coords int) ([]float64, error) {
	f := p.Frame()
	if len(f) != coords {
		return nil, fmt.Errorf("model returned %d values, want %d: %w", len(f), coords, ErrShapeMismatch)
	}
	return append([]float64(nil), f...), nil
}

// memberStd returns the per-coordinate population std across members of a
// WithMembers prediction. When only is non-nil, coordinates where it is false
// get 0. Single predictions have no spread and yield zeros.
func memberStd(p model.Prediction, only []bool) []float64 {
	coords := len(p.Frame())
	out := make([]float64, coords)
	wm, ok := p.(model.WithMembers)
	if !ok || len(wm.Members) == 0 {
		return out
	}
	col := make([]float64, len(wm.Members))
	for j := 0; j < coords; j++ {
		if only != nil && !only[j] {
			continue
		}
		for i, mem := range wm.Members {
			col[i] = mem[j]
		}
		_, out[j] = stat.PopMeanStdDev(col, nil)
	}
	return out
}

// slide drops the oldest frame of window and appends frame. The window keeps
// its width.
func slide(window [][]float64, frame []float64) [][]float64 {
	next := make([][]float64, len(window))
	copy(next, window[1:])
	next[len(next)-1] = frame
	return next
}

func seqRange(from, to int) []int {
	ids := make([]int, to-from)
	for i := range ids {
		ids[i] = from + i
	}
	return ids
}
