package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// MLPConfig holds the shape of an MLP predictor.
type MLPConfig struct {
	// InputLength is the number of frames per window. Default 9.
	InputLength int

	// Coords is the number of values per frame. Required.
	Coords int

	// HiddenSizes is the list of hidden layer sizes. Example: []int{64, 32}
	// If empty, a single hidden layer of size 64 will be used.
	HiddenSizes []int

	// Seed controls RNG for weight init. If zero, time-based seed is used.
	Seed int64
}

// MLP is a small feed-forward predictor over a flattened window. The network
// outputs the change from the window's last frame, so an all-zero network
// holds the last frame.
//
// Only the forward pass lives here; weights come from NewMLP's initialisation
// or from a model file written by Save.
type MLP struct {
	Config MLPConfig

	// layerSizes includes input size, hidden sizes, then output size.
	layerSizes []int

	// weights[l] is a matrix of shape [out][in] for layer l -> l+1
	weights [][][]float32

	// biases[l] is a vector of length out for layer l -> l+1
	biases [][]float32
}

// NewMLP creates an MLP with small random weights.
func NewMLP(cfg MLPConfig) (*MLP, error) {
	// defaults
	if cfg.InputLength == 0 {
		cfg.InputLength = 9
	}
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{64}
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Coords <= 0 {
		return nil, errors.New("mlp needs a positive coordinate count")
	}
	if cfg.InputLength < 0 {
		return nil, fmt.Errorf("mlp input length %d: %w", cfg.InputLength, ErrWindowShape)
	}

	sizes := make([]int, 0, 2+len(cfg.HiddenSizes))
	sizes = append(sizes, cfg.InputLength*cfg.Coords)
	sizes = append(sizes, cfg.HiddenSizes...)
	sizes = append(sizes, cfg.Coords)

	rng := rand.New(rand.NewSource(cfg.Seed))
	L := len(sizes) - 1
	m := &MLP{
		Config:     cfg,
		layerSizes: sizes,
		weights:    make([][][]float32, L),
		biases:     make([][]float32, L),
	}
	for l := 0; l < L; l++ {
		in, out := sizes[l], sizes[l+1]
		// Xavier/Glorot uniform initialization heuristic
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		w := make([][]float32, out)
		for j := range w {
			row := make([]float32, in)
			for i := range row {
				row[i] = (rng.Float32()*2.0 - 1.0) * limit * 0.5
			}
			w[j] = row
		}
		m.weights[l] = w
		m.biases[l] = make([]float32, out)
	}
	return m, nil
}

func (m *MLP) InputLength() int { return m.Config.InputLength }
func (m *MLP) Coords() int      { return m.Config.Coords }
func (m *MLP) Kind() Kind       { return KindSingle }

func activationReLU(x []float32) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

// forward runs the network on one flattened input and returns the output
// activations.
func (m *MLP) forward(input []float32) []float32 {
	act := input
	L := len(m.weights)
	for l := 0; l < L; l++ {
		W := m.weights[l]
		b := m.biases[l]
		next := make([]float32, len(b))
		for j := range next {
			sum := b[j]
			row := W[j]
			for i, v := range act {
				sum += row[i] * v
			}
			next[j] = sum
		}
		// hidden layers use ReLU; output layer is linear
		if l < L-1 {
			activationReLU(next)
		}
		act = next
	}
	return act
}

// Predict implements Model.
func (m *MLP) Predict(ctx context.Context, window [][]float64) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckWindow(m, window); err != nil {
		return nil, err
	}
	flat := make([]float32, 0, m.layerSizes[0])
	for _, f := range window {
		for _, v := range f {
			flat = append(flat, float32(v))
		}
	}
	delta := m.forward(flat)
	last := window[len(window)-1]
	out := make([]float64, len(last))
	for i := range out {
		out[i] = last[i] + float64(delta[i])
	}
	return Single{Values: out}, nil
}

// Zero sets every weight and bias to zero, which turns the MLP into a
// hold-last-frame predictor.
func (m *MLP) Zero() {
	for l := range m.weights {
		for j := range m.weights[l] {
			clear(m.weights[l][j])
		}
		clear(m.biases[l])
	}
}
