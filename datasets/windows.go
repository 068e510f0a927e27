package datasets

import (
	"errors"
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidFold is returned for fold counts or ids that cannot slice a
// recording.
var ErrInvalidFold = errors.New("invalid fold")

// FoldBounds returns the frame range [start, end) of fold foldID when n frames
// are split into nFolds contiguous chunks of floor(n/nFolds) frames. The last
// fold absorbs the remainder.
func FoldBounds(n, nFolds, foldID int) (start, end int, err error) {
	if nFolds <= 0 {
		return 0, 0, fmt.Errorf("%d folds: %w", nFolds, ErrInvalidFold)
	}
	if foldID < 0 || foldID >= nFolds {
		return 0, 0, fmt.Errorf("fold id %d outside 0..%d: %w", foldID, nFolds-1, ErrInvalidFold)
	}
	foldLen := n / nFolds
	if foldLen == 0 {
		return 0, 0, fmt.Errorf("%d frames cannot fill %d folds: %w", n, nFolds, ErrInvalidFold)
	}
	start = foldLen * foldID
	end = start + foldLen
	if foldID == nFolds-1 {
		end = n
	}
	return start, end, nil
}

// WindowIDs returns frame indices for input/output window pairs. Every anchor
// is a frame g with no bad points and inputLen < g < n-outputLen; its inputs
// are g-inputLen..g-1 and its outputs g..g+outputLen-1. With onlyGoodInputs or
// onlyGoodOutputs, samples touching any bad frame in that span are dropped.
func WindowIDs(bad *Mask, inputLen, outputLen int, onlyGoodInputs, onlyGoodOutputs bool) (inputIDs, outputIDs [][]int) {
	n, _ := bad.Dims()
	for g := inputLen + 1; g < n-outputLen; g++ {
		if bad.RowAny(g) {
			continue
		}
		if onlyGoodInputs && anyBad(bad, g-inputLen, g) {
			continue
		}
		if onlyGoodOutputs && anyBad(bad, g, g+outputLen) {
			continue
		}
		in := make([]int, inputLen)
		for i := range in {
			in[i] = g - inputLen + i
		}
		out := make([]int, outputLen)
		for i := range out {
			out[i] = g + i
		}
		inputIDs = append(inputIDs, in)
		outputIDs = append(outputIDs, out)
	}
	return inputIDs, outputIDs
}

func anyBad(bad *Mask, from, to int) bool {
	for i := from; i < to; i++ {
		if bad.RowAny(i) {
			return true
		}
	}
	return false
}

// Gather returns the rows of m at ids as a [][]float64 window.
func Gather(m mat.Matrix, ids []int) [][]float64 {
	_, c := m.Dims()
	out := make([][]float64, len(ids))
	for i, id := range ids {
		out[i] = mat.Row(make([]float64, c), id, m)
	}
	return out
}

// WindowBatch stores a batch of equally shaped windows in a flat buffer.
type WindowBatch struct {
	Buf      []float32
	Batch    int
	Time     int
	Channels int
}

// MakeWindowBatch packs windows ([batch][time][channel]) into a WindowBatch.
func MakeWindowBatch(windows [][][]float64) (*WindowBatch, error) {
	if len(windows) == 0 {
		return &WindowBatch{}, nil
	}
	timeSteps := len(windows[0])
	channels := 0
	if timeSteps > 0 {
		channels = len(windows[0][0])
	}
	flat := make([]float32, len(windows)*timeSteps*channels)
	idx := 0
	for i, w := range windows {
		if len(w) != timeSteps {
			return nil, fmt.Errorf("window %d has %d frames, want %d: %w", i, len(w), timeSteps, ErrShapeMismatch)
		}
		for j, frame := range w {
			if len(frame) != channels {
				return nil, fmt.Errorf("window %d frame %d has %d channels, want %d: %w", i, j, len(frame), channels, ErrShapeMismatch)
			}
			for _, v := range frame {
				flat[idx] = float32(v)
				idx++
			}
		}
	}
	return &WindowBatch{Buf: flat, Batch: len(windows), Time: timeSteps, Channels: channels}, nil
}

// ToGomlxTensor converts the batch to a [batch][time][channel] float32 tensor.
func (b *WindowBatch) ToGomlxTensor() *tensors.Tensor {
	if b.Batch == 0 || b.Time == 0 || b.Channels == 0 {
		return tensors.FromAnyValue(make([][][]float32, 0))
	}
	data := make([][][]float32, b.Batch)
	idx := 0
	for i := 0; i < b.Batch; i++ {
		data[i] = make([][]float32, b.Time)
		for j := 0; j < b.Time; j++ {
			data[i][j] = b.Buf[idx : idx+b.Channels]
			idx += b.Channels
		}
	}
	return tensors.FromAnyValue(data)
}

// WindowTensor packs a single window into a [1][time][channel] tensor, the
// shape learned models are fed with.
func WindowTensor(window [][]float64) (*tensors.Tensor, error) {
	b, err := MakeWindowBatch([][][]float64{window})
	if err != nil {
		return nil, err
	}
	return b.ToGomlxTensor(), nil
}

// WindowDataset serves input/target window pairs cut from a recording.
type WindowDataset struct {
	markers   *mat.Dense
	inputIDs  [][]int
	outputIDs [][]int
}

// NewWindowDataset selects every fully good window pair of the given lengths,
// keeping every skip-th sample.
func NewWindowDataset(set *MarkerSet, inputLen, outputLen, skip int) *WindowDataset {
	in, out := WindowIDs(set.BadFrames, inputLen, outputLen, true, true)
	if skip > 1 {
		var kin, kout [][]int
		for i := 0; i < len(in); i += skip {
			kin = append(kin, in[i])
			kout = append(kout, out[i])
		}
		in, out = kin, kout
	}
	return &WindowDataset{markers: set.Markers, inputIDs: in, outputIDs: out}
}

// Len returns the number of samples.
func (d *WindowDataset) Len() int { return len(d.inputIDs) }

// IDs returns the frame indices of sample i.
func (d *WindowDataset) IDs(i int) (inputIDs, outputIDs []int) {
	return d.inputIDs[i], d.outputIDs[i]
}

// Example returns the input and target windows of sample i.
func (d *WindowDataset) Example(i int) (inputs, targets [][]float64, err error) {
	if i < 0 || i >= d.Len() {
		return nil, nil, fmt.Errorf("example %d out of range [0,%d)", i, d.Len())
	}
	return Gather(d.markers, d.inputIDs[i]), Gather(d.markers, d.outputIDs[i]), nil
}

// Batch returns the windows of the given samples.
func (d *WindowDataset) Batch(indices []int) (inputs, targets [][][]float64, err error) {
	inputs = make([][][]float64, len(indices))
	targets = make([][][]float64, len(indices))
	for bi, idx := range indices {
		inputs[bi], targets[bi], err = d.Example(idx)
		if err != nil {
			return nil, nil, err
		}
	}
	return inputs, targets, nil
}
