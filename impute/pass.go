package impute

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/Noofbiz/markerImpute/model"
	"github.com/cheggaaa/pb/v3"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultErrorThreshold is the z-scored prediction/measurement divergence
	// above which a measurement is treated as a tracking error.
	DefaultErrorThreshold = 0.25
	// DefaultOutlierThreshold is the z-scored magnitude above which a model
	// output is discarded in favour of the measurement.
	DefaultOutlierThreshold = 3.0
	// DefaultFixFrom is the first coordinate eligible for error detection when
	// no explicit markers-to-fix set is configured.
	DefaultFixFrom = 30
)

// FixMask marks the coordinates eligible for live error detection. With a
// non-empty list only those coordinates are set; otherwise every coordinate
// from onwards is set. A list entry outside [0, coords) is an
// ErrShapeMismatch.
func FixMask(coords, from int, list []int) ([]bool, error) {
	mask := make([]bool, coords)
	if len(list) > 0 {
		for _, c := range list {
			if c < 0 || c >= coords {
				return nil, fmt.Errorf("marker to fix %d outside 0..%d: %w", c, coords-1, ErrShapeMismatch)
			}
			mask[c] = true
		}
		return mask, nil
	}
	for c := max(from, 0); c < coords; c++ {
		mask[c] = true
	}
	return mask, nil
}

// PassOptions tune a single imputation pass. Zero thresholds take the package
// defaults; use math.Inf(1) to disable a threshold.
type PassOptions struct {
	// FixMask selects coordinates for error detection. Nil or all-false
	// disables detection.
	FixMask []bool
	// ErrorThreshold: |previous frame - measurement| above this marks the
	// coordinate bad.
	ErrorThreshold float64
	// OutlierThreshold: |prediction| above this is replaced by the measurement.
	OutlierThreshold float64
	// Progress, when set, receives a progress bar.
	Progress io.Writer
}

func (o PassOptions) withDefaults() PassOptions {
	if o.ErrorThreshold == 0 {
		o.ErrorThreshold = DefaultErrorThreshold
	}
	if o.OutlierThreshold == 0 {
		o.OutlierThreshold = DefaultOutlierThreshold
	}
	return o
}

// PassResult is the full-length output of one pass.
type PassResult struct {
	// Preds is frames x coords. The seed window rows are the measurements.
	Preds *mat.Dense
	// BadFrames is frames x coords, the input mask plus any coordinates
	// flagged by error detection.
	BadFrames *datasets.Mask
	// MemberStds is frames x coords. Zero on good coordinates and for single
	// models.
	MemberStds *mat.Dense
}

// Pass walks seq from the end of the seed window to the last frame. For each
// frame it:
//  1. flags fix-eligible coordinates whose measurement moved more than
//     ErrorThreshold away from the previous output frame,
//  2. asks the model for a new frame only if some coordinate is bad, otherwise
//     carries the previous output frame,
//  3. replaces outputs beyond OutlierThreshold with the measurement,
//  4. writes the measurement through for every good coordinate,
//  5. slides the output frame into the window.
//
// bad is frames x points; it is broadcast to coordinates and not modified.
// A model error aborts the pass.
func Pass(ctx context.Context, m model.Model, seq mat.Matrix, bad *datasets.Mask, opts PassOptions) (*PassResult, error) {
	opts = opts.withDefaults()
	inputLen := m.InputLength()
	if inputLen < 1 {
		return nil, fmt.Errorf("model input length %d: %w", inputLen, ErrInvalidHorizon)
	}
	frames, coords := seq.Dims()
	if coords != m.Coords() {
		return nil, fmt.Errorf("sequence has %d coordinates, model wants %d: %w", coords, m.Coords(), ErrShapeMismatch)
	}
	if br, bc := bad.Dims(); br != frames || bc*3 != coords {
		return nil, fmt.Errorf("bad frames are %dx%d for a %dx%d sequence: %w", br, bc, frames, coords, ErrShapeMismatch)
	}
	if opts.FixMask != nil && len(opts.FixMask) != coords {
		return nil, fmt.Errorf("fix mask has %d entries for %d coordinates: %w", len(opts.FixMask), coords, ErrShapeMismatch)
	}
	if frames <= inputLen {
		return nil, fmt.Errorf("%d frames leave nothing to predict after a %d-frame window: %w", frames, inputLen, ErrInvalidHorizon)
	}
	fixErrors := false
	for _, f := range opts.FixMask {
		fixErrors = fixErrors || f
	}

	badC := bad.RepeatColumns(3)
	res := &PassResult{
		Preds:      mat.DenseCopyOf(seq),
		BadFrames:  badC,
		MemberStds: mat.NewDense(frames, coords, nil),
	}

	var bar *pb.ProgressBar
	if opts.Progress != nil {
		bar = pb.New(frames - inputLen)
		bar.SetWriter(opts.Progress)
		bar.Start()
		defer bar.Finish()
	}

	window := datasets.Gather(seq, seqRange(0, inputLen))
	prev := append([]float64(nil), window[inputLen-1]...)
	x := make([]float64, coords)
	var last model.Prediction
	for f := inputLen; f < frames; f++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pass stopped at frame %d: %w", f, err)
		}
		mat.Row(x, f, seq)
		row := badC.Row(f)

		if fixErrors {
			for j, fix := range opts.FixMask {
				if fix && math.Abs(prev[j]-x[j]) > opts.ErrorThreshold {
					row[j] = true
				}
			}
		}

		var frame []float64
		if badC.RowAny(f) {
			p, err := m.Predict(ctx, window)
			if err != nil {
				return nil, fmt.Errorf("predict frame %d: %w", f, err)
			}
			if frame, err = ownFrame(p, coords); err != nil {
				return nil, fmt.Errorf("predict frame %d: %w", f, err)
			}
			last = p
		} else {
			frame = append([]float64(nil), prev...)
		}

		for j, v := range frame {
			if math.Abs(v) > opts.OutlierThreshold {
				frame[j] = x[j]
			}
		}
		for j, b := range row {
			if !b {
				frame[j] = x[j]
			}
		}

		res.Preds.SetRow(f, frame)
		if last != nil && badC.RowAny(f) {
			res.MemberStds.SetRow(f, memberStd(last, row))
		}
		window = slide(window, frame)
		prev = frame

		if bar != nil {
			bar.Increment()
		}
	}
	return res, nil
}
