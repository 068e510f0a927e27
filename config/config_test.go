package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	d := Defaults()
	require.NoError(t, d.Validate())
	assert.Equal(t, 0.25, d.GetErrorThreshold())
	assert.Equal(t, 3.0, d.GetOutlierThreshold())
	assert.Equal(t, 30, d.GetFixFrom())
	assert.Equal(t, 10, d.GetNFolds())
	lo, hi, step := d.GetGapRange()
	assert.Equal(t, []int{10, 100, 10}, []int{lo, hi, step})

	// an empty config falls back to the same values
	e := &Tunables{}
	assert.Equal(t, d.GetSkip(), e.GetSkip())
	assert.Equal(t, d.GetMaxBound(), e.GetMaxBound())
	assert.Equal(t, d.GetMergeSteepness(), e.GetMergeSteepness())
}

func TestLoad(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		p := writeFile(t, "t.json", `{"error_threshold": 0.5, "n_folds": 4, "fix_markers": [30, 31]}`)
		cfg, err := Load(p)
		require.NoError(t, err)
		assert.Equal(t, 0.5, cfg.GetErrorThreshold())
		assert.Equal(t, 4, cfg.GetNFolds())
		assert.Equal(t, []int{30, 31}, cfg.FixMarkers)
		assert.Nil(t, cfg.OutlierThreshold, "unset fields stay nil")
	})
	t.Run("yaml", func(t *testing.T) {
		p := writeFile(t, "t.yaml", "merge_steepness: 0.2335\nskip: 50\nmax_bound: 95\n")
		cfg, err := Load(p)
		require.NoError(t, err)
		assert.Equal(t, 0.2335, cfg.GetMergeSteepness())
		assert.Equal(t, 50, cfg.GetSkip())
		assert.Equal(t, 95.0, cfg.GetMaxBound())
	})
	t.Run("yaml infinity disables a threshold", func(t *testing.T) {
		p := writeFile(t, "t.yml", "outlier_threshold: .inf\n")
		cfg, err := Load(p)
		require.NoError(t, err)
		assert.True(t, cfg.GetOutlierThreshold() > 1e300)
	})
	t.Run("rejects", func(t *testing.T) {
		for name, body := range map[string]string{
			"t.toml":       "a = 1",
			"bad.json":     "{",
			"neg.json":     `{"n_folds": 0}`,
			"gap.yaml":     "min_gap: 50\nmax_gap: 10\n",
			"bound.yaml":   "max_bound: 120\n",
			"workers.json": `{"workers": -1}`,
			"fix.json":     `{"fix_markers": [-3]}`,
			"thresh.yaml":  "error_threshold: 0\n",
		} {
			_, err := Load(writeFile(t, name, body))
			assert.ErrorIs(t, err, ErrInvalidConfig, name)
		}
		_, err := Load(writeFile(t, "big.json", `{"skip": 1}`+strings.Repeat(" ", maxFileSize)))
		assert.ErrorIs(t, err, ErrInvalidConfig)
		_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}

func TestFlagsOverrideFile(t *testing.T) {
	p := writeFile(t, "t.yaml", "error_threshold: 0.5\nn_folds: 4\nskip: 20\n")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-config", p, "-n-folds", "7", "-fix-markers", "30, 33,34"}))

	cfg, err := f.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.GetNFolds(), "explicit flag beats the file")
	assert.Equal(t, 0.5, cfg.GetErrorThreshold(), "file beats a flag left at its default")
	assert.Equal(t, 20, cfg.GetSkip())
	assert.Equal(t, 3.0, cfg.GetOutlierThreshold(), "default when neither sets it")
	assert.Equal(t, []int{30, 33, 34}, cfg.FixMarkers)

	over := f.Overrides()
	assert.Nil(t, over.ErrorThreshold)
	assert.Nil(t, over.Skip)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "n_folds: 7")
}

func TestFlagsRejectInvalidValues(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-stride", "0"}))
	_, err := f.Resolve()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(new(strings.Builder))
	RegisterFlags(fs)
	assert.Error(t, fs.Parse([]string{"-fix-markers", "a,b"}))
}

func TestApplyCopies(t *testing.T) {
	src := &Tunables{NFolds: ptrInt(3), FixMarkers: []int{1}}
	dst := Defaults().Apply(src)
	*src.NFolds = 9
	src.FixMarkers[0] = 2
	assert.Equal(t, 3, dst.GetNFolds())
	assert.Equal(t, []int{1}, dst.FixMarkers)
	assert.Same(t, dst, dst.Apply(nil))
}
