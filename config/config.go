// Package config holds the tunables shared by the imputation and evaluation
// commands.
//
// Every field is a pointer so a file or a flag set can say "not given" apart
// from zero. Effective settings are layered: Defaults, then a tunables file,
// then explicit command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for unreadable or out-of-range tunables.
var ErrInvalidConfig = errors.New("invalid configuration")

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Tunables are the knobs of a run. Nil means unset.
type Tunables struct {
	// Live anomaly detection.
	ErrorThreshold   *float64 `json:"error_threshold,omitempty" yaml:"error_threshold,omitempty"`
	OutlierThreshold *float64 `json:"outlier_threshold,omitempty" yaml:"outlier_threshold,omitempty"`
	// FixFrom enables error detection on coordinates >= FixFrom. FixMarkers,
	// when non-empty, replaces it with an explicit coordinate list.
	FixFrom    *int  `json:"fix_from,omitempty" yaml:"fix_from,omitempty"`
	FixMarkers []int `json:"fix_markers,omitempty" yaml:"fix_markers,omitempty"`

	// Fold passes.
	NFolds  *int `json:"n_folds,omitempty" yaml:"n_folds,omitempty"`
	Stride  *int `json:"stride,omitempty" yaml:"stride,omitempty"`
	Workers *int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Blend steepness for merging passes and for the evaluator.
	MergeSteepness *float64 `json:"merge_steepness,omitempty" yaml:"merge_steepness,omitempty"`
	EvalSteepness  *float64 `json:"eval_steepness,omitempty" yaml:"eval_steepness,omitempty"`

	// Evaluation.
	MinGap   *int     `json:"min_gap,omitempty" yaml:"min_gap,omitempty"`
	MaxGap   *int     `json:"max_gap,omitempty" yaml:"max_gap,omitempty"`
	GapStep  *int     `json:"gap_step,omitempty" yaml:"gap_step,omitempty"`
	Skip     *int     `json:"skip,omitempty" yaml:"skip,omitempty"`
	KTiles   *int     `json:"k_tiles,omitempty" yaml:"k_tiles,omitempty"`
	MaxBound *float64 `json:"max_bound,omitempty" yaml:"max_bound,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// Defaults returns the built-in tunables with every field set.
func Defaults() *Tunables {
	return &Tunables{
		ErrorThreshold:   ptrFloat64(0.25),
		OutlierThreshold: ptrFloat64(3),
		FixFrom:          ptrInt(30),
		NFolds:           ptrInt(10),
		Stride:           ptrInt(1),
		Workers:          ptrInt(0),
		MergeSteepness:   ptrFloat64(1),
		EvalSteepness:    ptrFloat64(1),
		MinGap:           ptrInt(10),
		MaxGap:           ptrInt(100),
		GapStep:          ptrInt(10),
		Skip:             ptrInt(500),
		KTiles:           ptrInt(5),
		MaxBound:         ptrFloat64(90),
	}
}

// Load reads tunables from a .json, .yaml or .yml file. Fields the file does
// not mention stay nil.
func Load(path string) (*Tunables, error) {
	clean := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(clean))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must be .json, .yaml or .yml, got %q: %w", ext, ErrInvalidConfig)
	}
	st, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if st.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d): %w", st.Size(), maxFileSize, ErrInvalidConfig)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	t := &Tunables{}
	if ext == ".json" {
		err = json.Unmarshal(data, t)
	} else {
		err = yaml.Unmarshal(data, t)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", clean, err, ErrInvalidConfig)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks every set field.
func (t *Tunables) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf(format+": %w", append(args, ErrInvalidConfig)...)
	}
	positive := map[string]*float64{
		"error_threshold":   t.ErrorThreshold,
		"outlier_threshold": t.OutlierThreshold,
		"merge_steepness":   t.MergeSteepness,
		"eval_steepness":    t.EvalSteepness,
	}
	for name, v := range positive {
		if v != nil && (math.IsNaN(*v) || *v <= 0) {
			return bad("%s must be > 0, got %v", name, *v)
		}
	}
	atLeastOne := map[string]*int{
		"n_folds":  t.NFolds,
		"stride":   t.Stride,
		"min_gap":  t.MinGap,
		"max_gap":  t.MaxGap,
		"gap_step": t.GapStep,
		"skip":     t.Skip,
		"k_tiles":  t.KTiles,
	}
	for name, v := range atLeastOne {
		if v != nil && *v < 1 {
			return bad("%s must be >= 1, got %d", name, *v)
		}
	}
	if t.Workers != nil && *t.Workers < 0 {
		return bad("workers must be >= 0, got %d", *t.Workers)
	}
	if t.FixFrom != nil && *t.FixFrom < 0 {
		return bad("fix_from must be >= 0, got %d", *t.FixFrom)
	}
	for _, c := range t.FixMarkers {
		if c < 0 {
			return bad("fix_markers has negative coordinate %d", c)
		}
	}
	if t.MinGap != nil && t.MaxGap != nil && *t.MaxGap < *t.MinGap {
		return bad("max_gap %d is below min_gap %d", *t.MaxGap, *t.MinGap)
	}
	if t.MaxBound != nil && (*t.MaxBound <= 0 || *t.MaxBound > 100) {
		return bad("max_bound must be in (0, 100], got %v", *t.MaxBound)
	}
	return nil
}

// Apply copies every field set in o over t and returns t.
func (t *Tunables) Apply(o *Tunables) *Tunables {
	if o == nil {
		return t
	}
	setF := func(dst **float64, src *float64) {
		if src != nil {
			*dst = ptrFloat64(*src)
		}
	}
	setI := func(dst **int, src *int) {
		if src != nil {
			*dst = ptrInt(*src)
		}
	}
	setF(&t.ErrorThreshold, o.ErrorThreshold)
	setF(&t.OutlierThreshold, o.OutlierThreshold)
	setI(&t.FixFrom, o.FixFrom)
	if o.FixMarkers != nil {
		t.FixMarkers = append([]int(nil), o.FixMarkers...)
	}
	setI(&t.NFolds, o.NFolds)
	setI(&t.Stride, o.Stride)
	setI(&t.Workers, o.Workers)
	setF(&t.MergeSteepness, o.MergeSteepness)
	setF(&t.EvalSteepness, o.EvalSteepness)
	setI(&t.MinGap, o.MinGap)
	setI(&t.MaxGap, o.MaxGap)
	setI(&t.GapStep, o.GapStep)
	setI(&t.Skip, o.Skip)
	setI(&t.KTiles, o.KTiles)
	setF(&t.MaxBound, o.MaxBound)
	return t
}

// Effective layers file and flags over Defaults and validates the result.
// Either layer may be nil.
func Effective(file, flags *Tunables) (*Tunables, error) {
	t := Defaults().Apply(file).Apply(flags)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// YAML renders t for -print-effective-config.
func (t *Tunables) YAML() ([]byte, error) {
	return yaml.Marshal(t)
}

// GetErrorThreshold returns the error threshold or its default.
func (t *Tunables) GetErrorThreshold() float64 {
	if t.ErrorThreshold == nil {
		return 0.25
	}
	return *t.ErrorThreshold
}

// GetOutlierThreshold returns the outlier threshold or its default.
func (t *Tunables) GetOutlierThreshold() float64 {
	if t.OutlierThreshold == nil {
		return 3
	}
	return *t.OutlierThreshold
}

// GetFixFrom returns the first error-checked coordinate or its default.
func (t *Tunables) GetFixFrom() int {
	if t.FixFrom == nil {
		return 30
	}
	return *t.FixFrom
}

func (t *Tunables) GetNFolds() int             { return intOr(t.NFolds, 10) }
func (t *Tunables) GetStride() int             { return intOr(t.Stride, 1) }
func (t *Tunables) GetWorkers() int            { return intOr(t.Workers, 0) }
func (t *Tunables) GetSkip() int               { return intOr(t.Skip, 500) }
func (t *Tunables) GetKTiles() int             { return intOr(t.KTiles, 5) }
func (t *Tunables) GetMergeSteepness() float64 { return floatOr(t.MergeSteepness, 1) }
func (t *Tunables) GetEvalSteepness() float64  { return floatOr(t.EvalSteepness, 1) }
func (t *Tunables) GetMaxBound() float64       { return floatOr(t.MaxBound, 90) }

// GetGapRange returns min, max and step of the evaluated gap lengths.
func (t *Tunables) GetGapRange() (lo, hi, step int) {
	return intOr(t.MinGap, 10), intOr(t.MaxGap, 100), intOr(t.GapStep, 10)
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
