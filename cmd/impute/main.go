// Command impute runs the whole pipeline in one process: every fold in both
// directions on a worker pool, then the merge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Noofbiz/markerImpute/config"
	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/Noofbiz/markerImpute/impute"
	"github.com/Noofbiz/markerImpute/internal/cli"
	"github.com/Noofbiz/markerImpute/model"
)

func main() {
	modelPath := flag.String("model", "", "path to a model file written by cmd/ensemble or model.Save")
	velocityWindow := flag.Int("velocity-window", 0, "use the constant-velocity baseline with this window instead of -model")
	engine := flag.String("engine", model.EngineGo, "how to run MLPs: go (plain forward pass) or graph (gomlx simplego graph)")
	dataPath := flag.String("data", "", "marker recording (.json, .yaml, .gob, optionally .zst) or a directory of them")
	startFrame := flag.Int("start-frame", 0, "first frame to impute")
	nFrames := flag.Int("n-frames", 0, "number of frames to impute (0 = through the end)")
	saveDir := flag.String("save-dir", "", "if set, write fold artifacts and merged.gob.zst here")
	dumpCSV := flag.String("dump-csv", "", "if set, write the merged result as CSV to this path (merged.csv per recording for a directory)")
	progress := flag.Bool("progress", false, "draw a progress bar on stderr (single worker only)")
	tun := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := tun.Resolve()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *tun.Print {
		if err := cli.PrintEffective(os.Stdout, cfg); err != nil {
			log.Fatalf("print config: %v", err)
		}
		return
	}
	if *dataPath == "" {
		log.Fatal("-data is required")
	}
	opts := runOptions{startFrame: *startFrame, nFrames: *nFrames, progress: *progress}

	sources, err := cli.DataSources(*dataPath)
	if err != nil {
		log.Fatalf("-data: %v", err)
	}
	if len(sources) > 1 && *saveDir == "" {
		log.Fatal("-save-dir is required when -data is a directory")
	}

	ctx, stop := cli.SignalContext()
	defer stop()
	for _, src := range sources {
		dir, csvPath := *saveDir, *dumpCSV
		if len(sources) > 1 {
			// one subfolder per recording; -dump-csv only switches the CSV on
			dir = filepath.Join(*saveDir, cli.SourceStem(src))
			if csvPath != "" {
				csvPath = filepath.Join(dir, "merged.csv")
			}
		}
		if err := imputeOne(ctx, src, dir, csvPath, cfg, *modelPath, *velocityWindow, *engine, opts); err != nil {
			log.Fatalf("%s: %v", src, err)
		}
	}
}

// runOptions are the per-invocation flags shared by every recording.
type runOptions struct {
	startFrame, nFrames int
	progress            bool
}

func imputeOne(ctx context.Context, src, saveDir, csvPath string, cfg *config.Tunables, modelPath string, velocityWindow int, engine string, opts runOptions) error {
	log.Printf("Loading data from %s", src)
	set, err := datasets.Load(src)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	m, err := cli.LoadModel(modelPath, velocityWindow, set.Coords(), engine)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	fix, err := cli.FixMask(cfg, set.Coords())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	res, err := impute.ImputeMarkers(ctx, m, set, impute.Options{
		StartFrame:       opts.startFrame,
		NFrames:          opts.nFrames,
		Stride:           cfg.GetStride(),
		NFolds:           cfg.GetNFolds(),
		Workers:          cfg.GetWorkers(),
		FixMask:          fix,
		ErrorThreshold:   cfg.GetErrorThreshold(),
		OutlierThreshold: cfg.GetOutlierThreshold(),
		K:                cfg.GetMergeSteepness(),
		SaveDir:          saveDir,
		Progress:         cli.Progress(opts.progress),
	})
	if err != nil {
		return fmt.Errorf("imputation failed: %w", err)
	}
	frames, coords := res.Preds.Dims()
	log.Printf("Imputed %d frames x %d coordinates", frames, coords)

	if saveDir != "" {
		out, err := cfg.YAML()
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		if err := datasets.WriteFileAtomic(filepath.Join(saveDir, "config.yaml"), out); err != nil {
			log.Printf("warning: could not save effective config: %v", err)
		}
	}
	if csvPath != "" {
		if err := res.WriteCSV(csvPath); err != nil {
			return fmt.Errorf("failed to write CSV: %w", err)
		}
		log.Printf("Wrote %s", csvPath)
	}
	return nil
}
