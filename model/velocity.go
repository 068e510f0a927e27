package model

import "context"

// ConstantVelocity extrapolates the last step of the window:
// next = last + Damping*(last - previous). It is a baseline to compare learned
// models against and a deterministic stand-in where no trained model exists.
type ConstantVelocity struct {
	Window  int
	NCoords int
	// Damping scales the extrapolated step. 0 holds the last frame.
	Damping float64
}

func (v *ConstantVelocity) InputLength() int { return v.Window }
func (v *ConstantVelocity) Coords() int      { return v.NCoords }
func (v *ConstantVelocity) Kind() Kind       { return KindSingle }

// Predict implements Model.
func (v *ConstantVelocity) Predict(ctx context.Context, window [][]float64) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckWindow(v, window); err != nil {
		return nil, err
	}
	last := window[len(window)-1]
	out := append([]float64(nil), last...)
	if len(window) < 2 {
		return Single{Values: out}, nil
	}
	prev := window[len(window)-2]
	for i := range out {
		out[i] += v.Damping * (last[i] - prev[i])
	}
	return Single{Values: out}, nil
}
