// Package cli holds the plumbing shared by the commands under cmd/.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Noofbiz/markerImpute/config"
	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/Noofbiz/markerImpute/impute"
	"github.com/Noofbiz/markerImpute/model"
	"github.com/google/uuid"
)

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// LoadModel opens the model file at path and prepares it for engine (see
// model.Compile). With an empty path and a positive velocityWindow it returns
// the constant-velocity baseline for coords coordinates instead.
func LoadModel(path string, velocityWindow, coords int, engine string) (model.Model, error) {
	switch {
	case path != "":
		m, err := model.Load(path)
		if err != nil {
			return nil, err
		}
		if m.Coords() != coords {
			return nil, fmt.Errorf("model %s predicts %d coordinates, recording has %d", path, m.Coords(), coords)
		}
		return model.Compile(m, engine)
	case velocityWindow > 0:
		return &model.ConstantVelocity{Window: velocityWindow, NCoords: coords, Damping: 1}, nil
	default:
		return nil, fmt.Errorf("either -model or -velocity-window is required")
	}
}

// FixMask resolves the markers-to-fix tunables for a recording. Listed
// coordinates the recording does not have are an error.
func FixMask(t *config.Tunables, coords int) ([]bool, error) {
	mask, err := impute.FixMask(coords, t.GetFixFrom(), t.FixMarkers)
	if err != nil {
		return nil, fmt.Errorf("fix_markers: %w", err)
	}
	return mask, nil
}

// PrintEffective writes t as YAML.
func PrintEffective(w io.Writer, t *config.Tunables) error {
	out, err := t.YAML()
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// DataSources expands a -data argument. A file names one recording; a
// directory names every marker source inside it, sorted.
func DataSources(path string) ([]string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return []string{path}, nil
	}
	return datasets.FindMarkerSources(path)
}

// SourceStem is the file name of a recording without its container
// extensions, e.g. "trial1" for "data/trial1.json.zst".
func SourceStem(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".zst")
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RunName names a run folder YYMMDD_HHMMSS_<8 hex chars>.
func RunName(now time.Time) string {
	return now.Format("060102_150405") + "_" + uuid.NewString()[:8]
}

// Progress returns os.Stderr when enabled, nil otherwise.
func Progress(enabled bool) io.Writer {
	if enabled {
		return os.Stderr
	}
	return nil
}
