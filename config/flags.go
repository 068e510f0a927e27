package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// Flags binds the tunables to a flag set. Only flags the user actually passed
// end up in Overrides, so a flag left at its default never masks a value from
// the tunables file.
type Flags struct {
	fs     *flag.FlagSet
	File   *string
	Print  *bool
	values Tunables
	fix    intList
}

// intList is a comma-separated list of ints.
type intList []int

func (l *intList) String() string {
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l *intList) Set(s string) error {
	*l = (*l)[:0]
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("bad coordinate %q: %w", part, err)
		}
		*l = append(*l, v)
	}
	return nil
}

// RegisterFlags adds -config, -print-effective-config and one flag per
// tunable to fs. Defaults shown in -help come from Defaults.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	d := Defaults()
	f := &Flags{fs: fs}
	f.File = fs.String("config", "", "path to a JSON or YAML tunables file (optional); explicit flags override it")
	f.Print = fs.Bool("print-effective-config", false, "print the effective (defaults+file+flags) configuration and exit")

	v := &f.values
	v.ErrorThreshold = fs.Float64("error-threshold", *d.ErrorThreshold, "jump between consecutive frames (z-scored) that flags a coordinate as bad")
	v.OutlierThreshold = fs.Float64("outlier-threshold", *d.OutlierThreshold, "predictions beyond this magnitude (z-scored) fall back to the measurement")
	v.FixFrom = fs.Int("fix-from", *d.FixFrom, "enable live error detection on coordinates >= this index")
	fs.Var(&f.fix, "fix-markers", "comma-separated coordinate indices for live error detection (overrides -fix-from)")
	v.NFolds = fs.Int("n-folds", *d.NFolds, "number of independent folds")
	v.Stride = fs.Int("stride", *d.Stride, "temporal subsampling rate")
	v.Workers = fs.Int("workers", *d.Workers, "concurrent workers (0 = NumCPU)")
	v.MergeSteepness = fs.Float64("merge-k", *d.MergeSteepness, "logistic steepness when blending forward and reverse passes")
	v.EvalSteepness = fs.Float64("eval-k", *d.EvalSteepness, "logistic steepness used by the evaluator")
	v.MinGap = fs.Int("min-gap", *d.MinGap, "shortest evaluated gap length")
	v.MaxGap = fs.Int("max-gap", *d.MaxGap, "longest evaluated gap length")
	v.GapStep = fs.Int("gap-step", *d.GapStep, "step between evaluated gap lengths")
	v.Skip = fs.Int("skip", *d.Skip, "evaluate every skip-th candidate window")
	v.KTiles = fs.Int("k-tiles", *d.KTiles, "number of error distribution bands")
	v.MaxBound = fs.Float64("max-bound", *d.MaxBound, "top percentile of the last error band")
	return f
}

// Overrides returns the tunables whose flags were set on the command line.
// Call it after fs.Parse.
func (f *Flags) Overrides() *Tunables {
	out := &Tunables{}
	v := &f.values
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "error-threshold":
			out.ErrorThreshold = v.ErrorThreshold
		case "outlier-threshold":
			out.OutlierThreshold = v.OutlierThreshold
		case "fix-from":
			out.FixFrom = v.FixFrom
		case "fix-markers":
			out.FixMarkers = append([]int{}, f.fix...)
		case "n-folds":
			out.NFolds = v.NFolds
		case "stride":
			out.Stride = v.Stride
		case "workers":
			out.Workers = v.Workers
		case "merge-k":
			out.MergeSteepness = v.MergeSteepness
		case "eval-k":
			out.EvalSteepness = v.EvalSteepness
		case "min-gap":
			out.MinGap = v.MinGap
		case "max-gap":
			out.MaxGap = v.MaxGap
		case "gap-step":
			out.GapStep = v.GapStep
		case "skip":
			out.Skip = v.Skip
		case "k-tiles":
			out.KTiles = v.KTiles
		case "max-bound":
			out.MaxBound = v.MaxBound
		}
	})
	return out
}

// Resolve loads the -config file when given and layers the explicit flags
// over it.
func (f *Flags) Resolve() (*Tunables, error) {
	var file *Tunables
	if *f.File != "" {
		var err error
		if file, err = Load(*f.File); err != nil {
			return nil, err
		}
	}
	return Effective(file, f.Overrides())
}
