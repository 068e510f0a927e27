package datasets

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
	"gonum.org/v1/gonum/mat"
)

// document is the union of both source layouts as it appears on disk. Which
// fields are populated decides the layout.
type document struct {
	// flat layout
	Markers     [][]float64 `json:"markers,omitempty" yaml:"markers,omitempty"`
	MarkerMeans []float64   `json:"marker_means,omitempty" yaml:"marker_means,omitempty"`
	MarkerStds  []float64   `json:"marker_stds,omitempty" yaml:"marker_stds,omitempty"`
	BadFrames   [][]float64 `json:"bad_frames,omitempty" yaml:"bad_frames,omitempty"`
	MarkerNames []string    `json:"marker_names,omitempty" yaml:"marker_names,omitempty"`

	// nested layout
	MarkersAlignedPreproc map[string][][]float64 `json:"markers_aligned_preproc,omitempty" yaml:"markers_aligned_preproc,omitempty"`
	BadFramesAgg          [][]int                `json:"bad_frames_agg,omitempty" yaml:"bad_frames_agg,omitempty"`
}

type container int

const (
	containerJSON container = iota
	containerYAML
	containerGob
)

// containerFor maps a path to its container and reports whether the payload
// is zstd compressed (a trailing .zst).
func containerFor(path string) (container, bool, error) {
	ext := strings.ToLower(filepath.Ext(path))
	compressed := false
	if ext == ".zst" {
		compressed = true
		ext = strings.ToLower(filepath.Ext(strings.TrimSuffix(path, filepath.Ext(path))))
	}
	switch ext {
	case ".json":
		return containerJSON, compressed, nil
	case ".yaml", ".yml":
		return containerYAML, compressed, nil
	case ".gob":
		return containerGob, compressed, nil
	default:
		return 0, false, fmt.Errorf("extension %q of %s: %w", ext, path, ErrUnsupportedFormat)
	}
}

// Load reads a marker recording from path. The container is chosen by file
// extension (.json, .yaml/.yml, .gob, each optionally followed by .zst) and
// the layout by the fields present.
func Load(path string) (*MarkerSet, error) {
	c, compressed, err := containerFor(path)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open marker source %s: %w", path, err)
	}
	defer fh.Close()

	var r io.Reader = fh
	if compressed {
		zr, err := zstd.NewReader(fh)
		if err != nil {
			return nil, fmt.Errorf("zstd reader for %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	var doc document
	if err := decode(c, r, &doc); err != nil {
		return nil, fmt.Errorf("decode marker source %s: %w", path, err)
	}
	set, err := fromDocument(&doc)
	if err != nil {
		return nil, fmt.Errorf("marker source %s: %w", path, err)
	}
	return set, nil
}

func decode(c container, r io.Reader, doc *document) error {
	switch c {
	case containerJSON:
		return json.NewDecoder(r).Decode(doc)
	case containerYAML:
		return yaml.NewDecoder(r).Decode(doc)
	case containerGob:
		return gob.NewDecoder(r).Decode(doc)
	}
	return ErrUnsupportedFormat
}

func fromDocument(doc *document) (*MarkerSet, error) {
	switch {
	case doc.Markers != nil:
		return fromFlat(doc)
	case doc.MarkersAlignedPreproc != nil:
		return flattenNested(doc.MarkersAlignedPreproc, doc.BadFramesAgg)
	default:
		return nil, fmt.Errorf("neither markers nor markers_aligned_preproc present: %w", ErrUnsupportedFormat)
	}
}

func fromFlat(doc *document) (*MarkerSet, error) {
	if doc.MarkerMeans == nil || doc.MarkerStds == nil || doc.BadFrames == nil {
		return nil, fmt.Errorf("flat layout needs markers, marker_means, marker_stds and bad_frames: %w", ErrUnsupportedFormat)
	}
	frames := len(doc.Markers)
	if frames == 0 {
		return nil, fmt.Errorf("flat layout has no frames: %w", ErrShapeMismatch)
	}
	coords := len(doc.Markers[0])
	if coords == 0 {
		return nil, fmt.Errorf("flat layout has no coordinates: %w", ErrShapeMismatch)
	}
	m := mat.NewDense(frames, coords, nil)
	for i, row := range doc.Markers {
		if len(row) != coords {
			return nil, fmt.Errorf("markers row %d has %d values, want %d: %w", i, len(row), coords, ErrShapeMismatch)
		}
		m.SetRow(i, row)
	}
	if len(doc.BadFrames) != frames {
		return nil, fmt.Errorf("bad_frames has %d rows for %d frames: %w", len(doc.BadFrames), frames, ErrShapeMismatch)
	}
	points := coords / 3
	bad := NewMask(frames, points)
	for i, row := range doc.BadFrames {
		if len(row) != points {
			return nil, fmt.Errorf("bad_frames row %d has %d values, want %d: %w", i, len(row), points, ErrShapeMismatch)
		}
		for j, v := range row {
			bad.Set(i, j, v > .5)
		}
	}
	set := &MarkerSet{
		Names:     doc.MarkerNames,
		Markers:   m,
		Means:     doc.MarkerMeans,
		Stds:      doc.MarkerStds,
		BadFrames: bad,
		Layout:    LayoutFlat,
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func toDocument(set *MarkerSet) *document {
	frames, coords := set.Markers.Dims()
	doc := &document{
		Markers:     make([][]float64, frames),
		MarkerMeans: append([]float64(nil), set.Means...),
		MarkerStds:  append([]float64(nil), set.Stds...),
		BadFrames:   make([][]float64, frames),
		MarkerNames: set.Names,
	}
	for i := 0; i < frames; i++ {
		doc.Markers[i] = mat.Row(make([]float64, coords), i, set.Markers)
		row := make([]float64, coords/3)
		for j, b := range set.BadFrames.Row(i) {
			if b {
				row[j] = 1
			}
		}
		doc.BadFrames[i] = row
	}
	return doc
}

// Save writes set in the flat layout, atomically, using the container implied
// by path.
func Save(path string, set *MarkerSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	c, compressed, err := containerFor(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	var w io.Writer = &buf
	var zw *zstd.Encoder
	if compressed {
		zw, err = zstd.NewWriter(&buf)
		if err != nil {
			return err
		}
		w = zw
	}
	doc := toDocument(set)
	switch c {
	case containerJSON:
		err = json.NewEncoder(w).Encode(doc)
	case containerYAML:
		enc := yaml.NewEncoder(w)
		err = enc.Encode(doc)
		if err == nil {
			err = enc.Close()
		}
	case containerGob:
		err = gob.NewEncoder(w).Encode(doc)
	}
	if err != nil {
		return fmt.Errorf("encode marker set: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("close zstd writer: %w", err)
		}
	}
	return WriteFileAtomic(path, buf.Bytes())
}
