package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Ensemble combines independently trained members. The combined frame is the
// per-coordinate median of the members' frames.
type Ensemble struct {
	Members []Model
}

// NewEnsemble checks that all members share an input shape.
func NewEnsemble(members ...Model) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, errors.New("ensemble needs at least one member")
	}
	for i, m := range members {
		if err := CheckShape(m); err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
	}
	in, c := members[0].InputLength(), members[0].Coords()
	for i, m := range members[1:] {
		if m.InputLength() != in || m.Coords() != c {
			return nil, fmt.Errorf("member %d has input %dx%d, member 0 has %dx%d: %w",
				i+1, m.InputLength(), m.Coords(), in, c, ErrWindowShape)
		}
	}
	return &Ensemble{Members: members}, nil
}

func (e *Ensemble) InputLength() int { return e.Members[0].InputLength() }
func (e *Ensemble) Coords() int      { return e.Members[0].Coords() }
func (e *Ensemble) Kind() Kind       { return KindWithMembers }

// Predict implements Model. Members run in order; the first failure aborts.
func (e *Ensemble) Predict(ctx context.Context, window [][]float64) (Prediction, error) {
	if err := CheckWindow(e, window); err != nil {
		return nil, err
	}
	members := make([][]float64, len(e.Members))
	for i, m := range e.Members {
		p, err := m.Predict(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("ensemble member %d: %w", i, err)
		}
		members[i] = p.Frame()
	}

	n := e.Coords()
	out := make([]float64, n)
	col := make([]float64, len(members))
	for j := 0; j < n; j++ {
		for i := range members {
			col[i] = members[i][j]
		}
		out[j] = median(col)
	}
	return WithMembers{Values: out, Members: members}, nil
}

// median sorts xs in place and returns the middle value, averaging the two
// middle values for even lengths.
func median(xs []float64) float64 {
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}
