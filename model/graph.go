package model

import (
	"fmt"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Engine names accepted by Compile.
const (
	// EngineGo runs models with their plain Go forward passes.
	EngineGo = "go"
	// EngineGraph compiles MLPs into gomlx graphs on the simplego backend.
	EngineGraph = "graph"
)

// NewGraphMLP compiles m's forward pass, including the hold-last-frame
// residual, into a gomlx graph and wraps it as a TensorModel. A nil backend
// uses simplego. The weights are copied into graph constants, so later
// changes to m do not affect the returned model.
func NewGraphMLP(m *MLP, backend backends.Backend) (*TensorModel, error) {
	if err := CheckShape(m); err != nil {
		return nil, err
	}
	if backend == nil {
		b, err := simplego.New("")
		if err != nil {
			return nil, fmt.Errorf("simplego backend: %w", err)
		}
		backend = b
	}
	sizes := m.layerSizes
	in, coords := sizes[0], m.Coords()

	// weights[l] is [out][in]; MatMul wants [in][out]
	wts := make([][][]float32, len(m.weights))
	biases := make([][][]float32, len(m.biases))
	for l, w := range m.weights {
		wt := make([][]float32, sizes[l])
		for i := range wt {
			wt[i] = make([]float32, sizes[l+1])
			for j := range wt[i] {
				wt[i][j] = w[j][i]
			}
		}
		wts[l] = wt
		biases[l] = [][]float32{append([]float32(nil), m.biases[l]...)}
	}
	// hold picks the last frame out of the flattened window
	hold := make([][]float32, in)
	for i := range hold {
		hold[i] = make([]float32, coords)
	}
	for j := 0; j < coords; j++ {
		hold[in-coords+j][j] = 1
	}

	exec, err := graph.NewExec(backend, func(x *graph.Node) *graph.Node {
		g := x.Graph()
		flat := graph.Reshape(x, 1, in)
		h := flat
		for l := range wts {
			h = graph.Add(graph.MatMul(h, graph.Const(g, wts[l])), graph.Const(g, biases[l]))
			if l < len(wts)-1 {
				h = graph.Max(h, graph.ZerosLike(h))
			}
		}
		return graph.Add(h, graph.MatMul(flat, graph.Const(g, hold)))
	})
	if err != nil {
		return nil, fmt.Errorf("compile mlp graph: %w", err)
	}
	run := func(window *tensors.Tensor) ([]*tensors.Tensor, error) {
		return exec.Exec(window)
	}
	return NewTensorModel(run, m.InputLength(), coords, 1)
}

// Compile returns m prepared for engine. With EngineGraph every MLP, including
// ensemble members, is replaced by its graph form; other models pass through.
// With EngineGo or "" m is returned as is.
func Compile(m Model, engine string) (Model, error) {
	switch engine {
	case "", EngineGo:
		return m, nil
	case EngineGraph:
	default:
		return nil, fmt.Errorf("unknown engine %q: want %s or %s", engine, EngineGo, EngineGraph)
	}
	backend, err := simplego.New("")
	if err != nil {
		return nil, fmt.Errorf("simplego backend: %w", err)
	}
	return compileOn(m, backend)
}

func compileOn(m Model, backend backends.Backend) (Model, error) {
	switch x := m.(type) {
	case *MLP:
		return NewGraphMLP(x, backend)
	case *Ensemble:
		members := make([]Model, len(x.Members))
		for i, mem := range x.Members {
			c, err := compileOn(mem, backend)
			if err != nil {
				return nil, fmt.Errorf("member %d: %w", i, err)
			}
			members[i] = c
		}
		return NewEnsemble(members...)
	default:
		return m, nil
	}
}
