package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Executor runs a compiled network on a [1][time][coord] float32 window tensor
// and returns its outputs. One output is the next frame; a second output, when
// present, holds the member frames.
type Executor func(window *tensors.Tensor) ([]*tensors.Tensor, error)

// TensorModel adapts a tensor executor (for example a gomlx graph) to Model.
type TensorModel struct {
	exec   Executor
	window int
	coords int
	kind   Kind
}

// NewTensorModel wraps exec. outputs is the number of tensors exec returns and
// fixes the model's Kind: 1 means Single, 2 means WithMembers.
func NewTensorModel(exec Executor, window, coords, outputs int) (*TensorModel, error) {
	if exec == nil {
		return nil, errors.New("nil executor")
	}
	var kind Kind
	switch outputs {
	case 1:
		kind = KindSingle
	case 2:
		kind = KindWithMembers
	default:
		return nil, fmt.Errorf("executor with %d outputs: want 1 or 2", outputs)
	}
	return &TensorModel{exec: exec, window: window, coords: coords, kind: kind}, nil
}

func (t *TensorModel) InputLength() int { return t.window }
func (t *TensorModel) Coords() int      { return t.coords }
func (t *TensorModel) Kind() Kind       { return t.kind }

// Predict implements Model.
func (t *TensorModel) Predict(ctx context.Context, window [][]float64) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckWindow(t, window); err != nil {
		return nil, err
	}
	in, err := datasets.WindowTensor(window)
	if err != nil {
		return nil, err
	}
	outs, err := t.exec(in)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	want := 1
	if t.kind == KindWithMembers {
		want = 2
	}
	if len(outs) < want {
		return nil, fmt.Errorf("executor returned %d outputs, want %d", len(outs), want)
	}

	rows, err := tensorRows(outs[0].Value())
	if err != nil {
		return nil, fmt.Errorf("frame output: %w", err)
	}
	if len(rows) != 1 || len(rows[0]) != t.coords {
		return nil, fmt.Errorf("frame output has shape %dx%d, want 1x%d: %w", len(rows), rowLen(rows), t.coords, ErrWindowShape)
	}
	if t.kind == KindSingle {
		return Single{Values: rows[0]}, nil
	}

	members, err := tensorRows(outs[1].Value())
	if err != nil {
		return nil, fmt.Errorf("member output: %w", err)
	}
	for i, m := range members {
		if len(m) != t.coords {
			return nil, fmt.Errorf("member %d has %d values, want %d: %w", i, len(m), t.coords, ErrWindowShape)
		}
	}
	return WithMembers{Values: rows[0], Members: members}, nil
}

func rowLen(rows [][]float64) int {
	if len(rows) == 0 {
		return 0
	}
	return len(rows[0])
}

// tensorRows flattens a tensor value into rows of its innermost axis, dropping
// a leading batch axis of size 1.
func tensorRows(v any) ([][]float64, error) {
	switch x := v.(type) {
	case []float32:
		return [][]float64{to64(x)}, nil
	case []float64:
		return [][]float64{append([]float64(nil), x...)}, nil
	case [][]float32:
		out := make([][]float64, len(x))
		for i, r := range x {
			out[i] = to64(r)
		}
		return out, nil
	case [][]float64:
		out := make([][]float64, len(x))
		for i, r := range x {
			out[i] = append([]float64(nil), r...)
		}
		return out, nil
	case [][][]float32:
		if len(x) != 1 {
			return nil, fmt.Errorf("batch of %d, want 1", len(x))
		}
		return tensorRows(x[0])
	case [][][]float64:
		if len(x) != 1 {
			return nil, fmt.Errorf("batch of %d, want 1", len(x))
		}
		return tensorRows(x[0])
	default:
		return nil, fmt.Errorf("unsupported tensor value %T", v)
	}
}

func to64(xs []float32) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = float64(v)
	}
	return out
}
