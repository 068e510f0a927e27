package impute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/Noofbiz/markerImpute/model"
)

// ErrInvalidDirection is returned for direction tokens other than forward and
// reverse.
var ErrInvalidDirection = errors.New("direction must be forward or reverse")

// Direction is the time direction of a pass.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Valid reports whether d is Forward or Reverse.
func (d Direction) Valid() bool { return d == Forward || d == Reverse }

// ParseDirection parses "forward" or "reverse".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward":
		return Forward, nil
	case "reverse":
		return Reverse, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidDirection)
	}
}

// FoldOptions select and tune one fold/direction unit of work.
type FoldOptions struct {
	Direction Direction
	// NFolds and FoldID pick the slice. Defaults: 1 fold, fold 0.
	NFolds int
	FoldID int
	// Stride subsamples frames before folding. Default 1.
	Stride int

	// FixMask defaults to FixMask(coords, DefaultFixFrom, nil) when nil.
	FixMask          []bool
	ErrorThreshold   float64
	OutlierThreshold float64
	Progress         io.Writer
}

// RunFold subsamples set by Stride, cuts out the requested fold, runs one pass
// in the requested direction and returns the artifact in original time order.
// Folds never overlap, so any number of RunFold calls on distinct
// fold/direction pairs can run concurrently on the same set.
func RunFold(ctx context.Context, m model.Model, set *datasets.MarkerSet, opts FoldOptions) (*FoldArtifact, error) {
	if !opts.Direction.Valid() {
		return nil, fmt.Errorf("%v: %w", opts.Direction, ErrInvalidDirection)
	}
	if opts.NFolds == 0 {
		opts.NFolds = 1
	}
	if opts.Stride <= 0 {
		opts.Stride = 1
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if set.Coords() != m.Coords() {
		return nil, fmt.Errorf("recording has %d coordinates, model wants %d: %w", set.Coords(), m.Coords(), ErrShapeMismatch)
	}

	sub := set.Subsample(opts.Stride)
	start, end, err := datasets.FoldBounds(sub.Frames(), opts.NFolds, opts.FoldID)
	if err != nil {
		return nil, err
	}
	fold := sub.Slice(start, end)

	fix := opts.FixMask
	if fix == nil {
		fix, _ = FixMask(set.Coords(), DefaultFixFrom, nil)
	}

	seq, bad := fold.Markers, fold.BadFrames
	if opts.Direction == Reverse {
		seq = datasets.ReverseRows(seq)
		bad = bad.Reverse()
	}

	Logf("Imputing markers: %s pass, fold %d/%d, %d frames starting at frame %d",
		opts.Direction, opts.FoldID, opts.NFolds, end-start, start)
	res, err := Pass(ctx, m, seq, bad, PassOptions{
		FixMask:          fix,
		ErrorThreshold:   opts.ErrorThreshold,
		OutlierThreshold: opts.OutlierThreshold,
		Progress:         opts.Progress,
	})
	if err != nil {
		return nil, fmt.Errorf("%s pass fold %d: %w", opts.Direction, opts.FoldID, err)
	}

	if opts.Direction == Reverse {
		res.Preds = datasets.ReverseRows(res.Preds)
		res.BadFrames = res.BadFrames.Reverse()
		res.MemberStds = datasets.ReverseRows(res.MemberStds)
	}

	return &FoldArtifact{
		Version:    artifactVersion,
		Direction:  opts.Direction,
		FoldID:     opts.FoldID,
		NFolds:     opts.NFolds,
		StartFrame: start,
		Stride:     opts.Stride,
		Markers:    fold.Markers,
		Preds:      res.Preds,
		BadFrames:  res.BadFrames,
		MemberStds: res.MemberStds,
		Means:      append([]float64(nil), set.Means...),
		Stds:       append([]float64(nil), set.Stds...),
		Names:      set.Names,
		CreatedAt:  time.Now().Unix(),
	}, nil
}
