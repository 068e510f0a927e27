package impute

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/mat"
)

// artifactVersion is incremented when the on-disk artifact format changes.
const artifactVersion = 1

// FoldArtifact is the persisted result of one fold in one direction. All
// matrices are z-scored and in original time order, even for reverse passes.
type FoldArtifact struct {
	Version    int
	Direction  Direction
	FoldID     int
	NFolds     int
	StartFrame int // first frame of the fold after striding
	Stride     int

	Markers    *mat.Dense     // frames x coords, measurements
	Preds      *mat.Dense     // frames x coords
	BadFrames  *datasets.Mask // frames x coords, after live error detection
	MemberStds *mat.Dense     // frames x coords

	Means []float64
	Stds  []float64
	Names []string

	CreatedAt int64 // unix seconds
}

// Frames returns the number of frames in the fold.
func (a *FoldArtifact) Frames() int {
	r, _ := a.Preds.Dims()
	return r
}

// Coords returns the number of coordinates.
func (a *FoldArtifact) Coords() int {
	_, c := a.Preds.Dims()
	return c
}

// ArtifactName is the file name used for a fold artifact.
func ArtifactName(d Direction, foldID int) string {
	return fmt.Sprintf("%s_fold_id_%d.gob.zst", d, foldID)
}

// SaveArtifact writes a as zstd-compressed gob to path, atomically.
func SaveArtifact(path string, a *FoldArtifact) error {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(a); err != nil {
		zw.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return datasets.WriteFileAtomic(path, buf.Bytes())
}

// LoadArtifact reads an artifact written by SaveArtifact and validates its
// version and internal shapes.
func LoadArtifact(path string) (*FoldArtifact, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer fh.Close()
	zr, err := zstd.NewReader(fh)
	if err != nil {
		return nil, fmt.Errorf("zstd reader for %s: %w", path, err)
	}
	defer zr.Close()

	var a FoldArtifact
	if err := gob.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("artifact %s version mismatch: file=%d expected=%d", path, a.Version, artifactVersion)
	}
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	return &a, nil
}

func (a *FoldArtifact) validate() error {
	if !a.Direction.Valid() {
		return fmt.Errorf("%v: %w", a.Direction, ErrInvalidDirection)
	}
	if a.Preds == nil || a.Markers == nil || a.BadFrames == nil || a.MemberStds == nil {
		return fmt.Errorf("artifact is missing arrays: %w", ErrShapeMismatch)
	}
	r, c := a.Preds.Dims()
	for name, m := range map[string]mat.Matrix{"markers": a.Markers, "member stds": a.MemberStds} {
		if mr, mc := m.Dims(); mr != r || mc != c {
			return fmt.Errorf("%s are %dx%d, preds are %dx%d: %w", name, mr, mc, r, c, ErrShapeMismatch)
		}
	}
	if br, bc := a.BadFrames.Dims(); br != r || bc != c {
		return fmt.Errorf("bad frames are %dx%d, preds are %dx%d: %w", br, bc, r, c, ErrShapeMismatch)
	}
	if len(a.Means) != c || len(a.Stds) != c {
		return fmt.Errorf("normalization stats have %d/%d entries for %d coordinates: %w", len(a.Means), len(a.Stds), c, ErrShapeMismatch)
	}
	return nil
}

// LoadArtifacts loads every path, or every *.gob.zst artifact in a directory
// when a single directory is given.
func LoadArtifacts(paths ...string) ([]*FoldArtifact, error) {
	if len(paths) == 1 {
		if st, err := os.Stat(paths[0]); err == nil && st.IsDir() {
			matches, err := filepath.Glob(filepath.Join(paths[0], "*_fold_id_*.gob.zst"))
			if err != nil {
				return nil, err
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no fold artifacts in %s", paths[0])
			}
			paths = matches
		}
	}
	out := make([]*FoldArtifact, 0, len(paths))
	for _, p := range paths {
		a, err := LoadArtifact(p)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
