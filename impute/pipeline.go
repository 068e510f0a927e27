package impute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/Noofbiz/markerImpute/model"
)

// ErrInvalidRange is returned when the requested frame range does not fit the
// recording.
var ErrInvalidRange = errors.New("invalid frame range")

// Options configure ImputeMarkers.
type Options struct {
	// StartFrame and NFrames restrict imputation to [StartFrame,
	// StartFrame+NFrames). NFrames 0 means through the last frame.
	StartFrame int
	NFrames    int
	Stride     int
	// NFolds splits the range into independent chunks. Default 1.
	NFolds int
	// Workers bounds concurrent fold passes. 0 means runtime.NumCPU.
	Workers int

	FixMask          []bool
	ErrorThreshold   float64
	OutlierThreshold float64
	// K is the merge blend steepness. Zero means DefaultSteepness.
	K float64

	// SaveDir, when set, receives every fold artifact and merged.gob.zst.
	SaveDir  string
	Progress io.Writer
}

// ImputeMarkers runs every fold of the requested range in both directions and
// merges them. Fold passes share nothing and run on a worker pool. The first
// failing pass cancels the rest.
func ImputeMarkers(ctx context.Context, m model.Model, set *datasets.MarkerSet, opts Options) (*MergedResult, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	total := set.Frames()
	n := opts.NFrames
	if n == 0 {
		n = total - opts.StartFrame
	}
	switch {
	case opts.StartFrame < 0:
		return nil, fmt.Errorf("start frame %d: %w", opts.StartFrame, ErrInvalidRange)
	case n < 0:
		return nil, fmt.Errorf("%d frames: likely too few input frames: %w", n, ErrInvalidRange)
	case n == 0:
		return nil, fmt.Errorf("asked to predict zero frames: %w", ErrInvalidRange)
	case n > total:
		return nil, fmt.Errorf("%d frames requested, %d available: %w", n, total, ErrInvalidRange)
	case opts.StartFrame+n > total:
		return nil, fmt.Errorf("start frame %d + %d frames exceeds %d: %w", opts.StartFrame, n, total, ErrInvalidRange)
	}
	if opts.NFolds <= 0 {
		opts.NFolds = 1
	}

	sub := set.Slice(opts.StartFrame, opts.StartFrame+n)
	Logf("Predicting %d frames starting at frame %d in %d folds", n, opts.StartFrame, opts.NFolds)

	type job struct {
		dir  Direction
		fold int
	}
	jobs := make([]job, 0, 2*opts.NFolds)
	for _, d := range []Direction{Forward, Reverse} {
		for f := 0; f < opts.NFolds; f++ {
			jobs = append(jobs, job{d, f})
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	arts := make([]*FoldArtifact, len(jobs))
	jobCh := make(chan int, len(jobs))
	errCh := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for pos := range jobCh {
				if ctx.Err() != nil {
					return
				}
				j := jobs[pos]
				// bars from concurrent passes would interleave; only a lone worker draws one
				var progress io.Writer
				if workers == 1 {
					progress = opts.Progress
				}
				a, err := RunFold(ctx, m, sub, FoldOptions{
					Direction:        j.dir,
					NFolds:           opts.NFolds,
					FoldID:           j.fold,
					Stride:           opts.Stride,
					FixMask:          opts.FixMask,
					ErrorThreshold:   opts.ErrorThreshold,
					OutlierThreshold: opts.OutlierThreshold,
					Progress:         progress,
				})
				if err != nil {
					errCh <- err
					cancel()
					return
				}
				arts[pos] = a
			}
		}()
	}
	for i := range jobs {
		jobCh <- i
	}
	close(jobCh)
	wg.Wait()
	close(errCh)
	if err, ok := <-errCh; ok {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged, err := Merge(arts, MergeOptions{K: opts.K})
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	if opts.SaveDir != "" {
		for _, a := range arts {
			p := filepath.Join(opts.SaveDir, ArtifactName(a.Direction, a.FoldID))
			if err := SaveArtifact(p, a); err != nil {
				return nil, err
			}
		}
		p := filepath.Join(opts.SaveDir, "merged.gob.zst")
		Logf("Saving to %s", p)
		if err := SaveResult(p, merged, time.Now().Unix()); err != nil {
			return nil, err
		}
	}
	return merged, nil
}
