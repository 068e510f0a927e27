package impute

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func init() {
	SetLogger(nil)
}

func TestImputeMarkersFillsGapsInWorldUnits(t *testing.T) {
	t.Parallel()
	set := sineSet(t, 120, 2, [2]int{50, 55})
	for j := range set.Means {
		set.Means[j] = 5
		set.Stds[j] = 2
	}
	m := &constModel{window: 4, coords: 6, value: 0.3}

	res, err := ImputeMarkers(context.Background(), m, set, Options{NFolds: 2, Workers: 2})
	require.NoError(t, err)

	frames, coords := res.Preds.Dims()
	require.Equal(t, 120, frames)
	require.Equal(t, 6, coords)
	for i := 0; i < frames; i++ {
		gap := i >= 50 && i < 55
		for p := 0; p < 2; p++ {
			assert.Equal(t, gap, res.BadFrames.At(i, p), "frame %d point %d", i, p)
		}
		for j := 0; j < coords; j++ {
			world := set.Markers.At(i, j)*2 + 5
			assert.InDelta(t, world, res.Markers.At(i, j), 1e-12)
			if gap {
				assert.InDelta(t, 0.3*2+5, res.Preds.At(i, j), 1e-12, "frame %d coord %d", i, j)
			} else {
				assert.InDelta(t, world, res.Preds.At(i, j), 1e-12, "frame %d coord %d", i, j)
			}
		}
	}
}

func TestImputeMarkersRange(t *testing.T) {
	t.Parallel()
	set := sineSet(t, 60, 1, [2]int{30, 33})
	m := &constModel{window: 4, coords: 3}

	for _, tc := range []struct {
		name          string
		start, frames int
	}{
		{"too many frames", 0, 61},
		{"past the end", 30, 31},
		{"negative count", 0, -5},
		{"start beyond recording", 70, 0},
		{"negative start", -1, 10},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ImputeMarkers(context.Background(), m, set, Options{StartFrame: tc.start, NFrames: tc.frames})
			assert.ErrorIs(t, err, ErrInvalidRange)
		})
	}

	res, err := ImputeMarkers(context.Background(), m, set, Options{StartFrame: 20, NFrames: 30, Workers: 1})
	require.NoError(t, err)
	r, _ := res.Preds.Dims()
	assert.Equal(t, 30, r)
	assert.True(t, res.BadFrames.At(10, 0), "frame 30 of the recording is frame 10 of the range")
}

func TestImputeMarkersSavesArtifacts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	set := sineSet(t, 80, 2, [2]int{20, 26}, [2]int{60, 61})
	set.Names = []string{"nose", "tail"}
	m := &constModel{window: 5, coords: 6, value: 0.1, members: []float64{-0.2, 0.2}}

	res, err := ImputeMarkers(context.Background(), m, set, Options{NFolds: 2, SaveDir: dir})
	require.NoError(t, err)

	for _, name := range []string{
		"forward_fold_id_0.gob.zst", "forward_fold_id_1.gob.zst",
		"reverse_fold_id_0.gob.zst", "reverse_fold_id_1.gob.zst",
		"merged.gob.zst",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	arts, err := LoadArtifacts(dir)
	require.NoError(t, err)
	require.Len(t, arts, 4)
	again, err := Merge(arts, MergeOptions{})
	require.NoError(t, err)
	assert.True(t, mat.Equal(res.Preds, again.Preds))
	assert.True(t, mat.Equal(res.MemberStds, again.MemberStds))

	loaded, err := LoadResult(filepath.Join(dir, "merged.gob.zst"))
	require.NoError(t, err)
	assert.True(t, mat.Equal(res.Preds, loaded.Preds))
	assert.Equal(t, res.BadFrames.ToRows(), loaded.BadFrames.ToRows())
	assert.Equal(t, []string{"nose", "tail"}, loaded.Names)
	assert.Greater(t, loaded.MemberStds.At(22, 0), 0.0)
}

func TestImputeMarkersModelFailure(t *testing.T) {
	t.Parallel()
	set := sineSet(t, 60, 1, [2]int{30, 33})
	fm := &failModel{constModel: constModel{window: 4, coords: 3}, failAt: 1}
	_, err := ImputeMarkers(context.Background(), fm, set, Options{NFolds: 2, Workers: 2})
	assert.ErrorIs(t, err, errDeviceLost)
}

func TestImputeMarkersCanceled(t *testing.T) {
	t.Parallel()
	set := sineSet(t, 60, 1, [2]int{30, 33})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ImputeMarkers(ctx, &constModel{window: 4, coords: 3}, set, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMergedResultOutputs(t *testing.T) {
	t.Parallel()
	fwd := constArtifact(Forward, 0, 1, 30, 6, 1, 0, [2]int{10, 14})
	rev := constArtifact(Reverse, 0, 1, 30, 6, 2, 0, [2]int{10, 14})
	res, err := Merge([]*FoldArtifact{fwd, rev}, MergeOptions{})
	require.NoError(t, err)
	res.Names = []string{"a", "b"}
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "out", "merged.csv")
	require.NoError(t, res.WriteCSV(csvPath))
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 31)
	assert.Equal(t, []string{"frame", "a_x", "a_x_std_z", "a_x_bad"}, rows[0][:4])
	assert.Equal(t, "b_z_bad", rows[0][len(rows[0])-1])
	assert.Equal(t, "1", rows[11][3])
	assert.Equal(t, "0", rows[1][3])
	entries, err := os.ReadDir(filepath.Dir(csvPath))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files are left next to the csv")
	assert.Equal(t, "merged.csv", entries[0].Name())

	png := filepath.Join(dir, "plots", "coord0.png")
	require.NoError(t, res.PlotCoordinate(png, 0))
	st, err := os.Stat(png)
	require.NoError(t, err)
	assert.Greater(t, st.Size(), int64(0))
	assert.Error(t, res.PlotCoordinate(png, 6))
}
