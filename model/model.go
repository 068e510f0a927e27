// Package model defines the boundary to the learned frame predictors used for
// marker imputation, and a few concrete predictors behind it.
//
// A model consumes a fixed-width window of the most recent frames and returns
// the next frame. Ensemble models additionally return one frame per member so
// callers can estimate spread. Which of the two a model produces is fixed when
// the model is built or loaded and reported by Kind; callers branch on it once
// instead of inspecting every prediction.
package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrWindowShape is returned when a window does not match the model's input.
var ErrWindowShape = errors.New("window shape does not match model input")

// Kind tells whether a model returns member predictions.
type Kind int

const (
	// KindSingle models return one frame per call.
	KindSingle Kind = iota
	// KindWithMembers models return the combined frame and each member's frame.
	KindWithMembers
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindWithMembers:
		return "with-members"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Prediction is either Single or WithMembers.
type Prediction interface {
	// Frame is the model's estimate of the next frame.
	Frame() []float64
	isPrediction()
}

// Single is a plain one-frame prediction.
type Single struct {
	Values []float64
}

func (p Single) Frame() []float64 { return p.Values }
func (Single) isPrediction()      {}

// WithMembers is an ensemble prediction: the combined frame plus one frame per
// member, indexed [member][coord].
type WithMembers struct {
	Values  []float64
	Members [][]float64
}

func (p WithMembers) Frame() []float64 { return p.Values }
func (WithMembers) isPrediction()      {}

// Model predicts the frame that follows a window.
type Model interface {
	// InputLength is the number of frames in a window.
	InputLength() int
	// Coords is the number of values per frame.
	Coords() int
	// Kind reports which Prediction variant Predict returns.
	Kind() Kind
	// Predict returns the next frame for window ([frame][coord]). The
	// returned slices are owned by the caller.
	Predict(ctx context.Context, window [][]float64) (Prediction, error)
}

// CheckShape rejects models that cannot be fed a window: both the input
// length and the coordinate count must be at least 1.
func CheckShape(m Model) error {
	if m.InputLength() < 1 || m.Coords() < 1 {
		return fmt.Errorf("model input is %d frames x %d coords: %w", m.InputLength(), m.Coords(), ErrWindowShape)
	}
	return nil
}

// CheckWindow validates window against m's input shape.
func CheckWindow(m Model, window [][]float64) error {
	if err := CheckShape(m); err != nil {
		return err
	}
	if len(window) != m.InputLength() {
		return fmt.Errorf("window has %d frames, model wants %d: %w", len(window), m.InputLength(), ErrWindowShape)
	}
	for i, f := range window {
		if len(f) != m.Coords() {
			return fmt.Errorf("window frame %d has %d values, model wants %d: %w", i, len(f), m.Coords(), ErrWindowShape)
		}
	}
	return nil
}
