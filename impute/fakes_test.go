package impute

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/Noofbiz/markerImpute/model"
	"gonum.org/v1/gonum/mat"
)

// constModel predicts the same value for every coordinate. With members set
// it returns WithMembers predictions whose members are value+offset.
type constModel struct {
	window, coords int
	value          float64
	members        []float64
	calls          atomic.Int64
}

func (c *constModel) InputLength() int { return c.window }
func (c *constModel) Coords() int      { return c.coords }
func (c *constModel) Kind() model.Kind {
	if c.members != nil {
		return model.KindWithMembers
	}
	return model.KindSingle
}

func (c *constModel) Predict(_ context.Context, window [][]float64) (model.Prediction, error) {
	c.calls.Add(1)
	if err := model.CheckWindow(c, window); err != nil {
		return nil, err
	}
	frame := make([]float64, c.coords)
	for i := range frame {
		frame[i] = c.value
	}
	if c.members == nil {
		return model.Single{Values: frame}, nil
	}
	mem := make([][]float64, len(c.members))
	for i, off := range c.members {
		mem[i] = make([]float64, c.coords)
		for j := range mem[i] {
			mem[i][j] = c.value + off
		}
	}
	return model.WithMembers{Values: frame, Members: mem}, nil
}

// stepModel predicts the last frame of its window plus step on every
// coordinate, so its output depends on what was slid into the window.
type stepModel struct {
	window, coords int
	step           float64
	widths         []int
}

func (s *stepModel) InputLength() int { return s.window }
func (s *stepModel) Coords() int      { return s.coords }
func (s *stepModel) Kind() model.Kind { return model.KindSingle }

func (s *stepModel) Predict(_ context.Context, window [][]float64) (model.Prediction, error) {
	s.widths = append(s.widths, len(window))
	last := window[len(window)-1]
	out := make([]float64, len(last))
	for i := range out {
		out[i] = last[i] + s.step
	}
	return model.Single{Values: out}, nil
}

var errDeviceLost = errors.New("device lost")

// failModel fails on its n-th call (1-based).
type failModel struct {
	constModel
	failAt int64
}

func (f *failModel) Predict(ctx context.Context, window [][]float64) (model.Prediction, error) {
	if f.calls.Load()+1 >= f.failAt {
		f.calls.Add(1)
		return nil, errDeviceLost
	}
	return f.constModel.Predict(ctx, window)
}

// sineSet builds a z-scored-looking recording of smooth per-coordinate sines
// with the given bad runs marked on every point.
func sineSet(t *testing.T, frames, points int, badRuns ...[2]int) *datasets.MarkerSet {
	t.Helper()
	coords := points * 3
	m := mat.NewDense(frames, coords, nil)
	for i := 0; i < frames; i++ {
		for j := 0; j < coords; j++ {
			m.Set(i, j, 0.1*float64(j%5)+0.01*float64(i%50))
		}
	}
	bad := datasets.NewMask(frames, points)
	for _, r := range badRuns {
		for i := r[0]; i < r[1]; i++ {
			for p := 0; p < points; p++ {
				bad.Set(i, p, true)
			}
		}
	}
	means := make([]float64, coords)
	stds := make([]float64, coords)
	for j := range stds {
		stds[j] = 1
	}
	return &datasets.MarkerSet{Markers: m, Means: means, Stds: stds, BadFrames: bad}
}
