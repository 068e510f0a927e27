// Command predict runs one imputation pass (one fold, one direction) over a
// marker recording and saves the fold artifact for cmd/merge.
package main

import (
	"flag"
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
	dataPath := flag.String("data", "", "marker recording (.json, .yaml, .gob, optionally .zst)")
	direction := flag.String("direction", "forward", "pass direction: forward or reverse")
	foldID := flag.Int("fold-id", 0, "fold to process (0-based)")
	saveDir := flag.String("save-dir", "output", "directory for the fold artifact")
	progress := flag.Bool("progress", true, "draw a progress bar on stderr")
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
	dir, err := impute.ParseDirection(*direction)
	if err != nil {
		log.Fatalf("%v", err)
	}

	log.Printf("Loading data from %s", *dataPath)
	set, err := datasets.Load(*dataPath)
	if err != nil {
		log.Fatalf("failed to load data: %v", err)
	}
	m, err := cli.LoadModel(*modelPath, *velocityWindow, set.Coords(), *engine)
	if err != nil {
		log.Fatalf("failed to load model: %v", err)
	}
	log.Printf("Loaded %s model, input length %d", m.Kind(), m.InputLength())

	fix, err := cli.FixMask(cfg, set.Coords())
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := cli.SignalContext()
	defer stop()
	a, err := impute.RunFold(ctx, m, set, impute.FoldOptions{
		Direction:        dir,
		NFolds:           cfg.GetNFolds(),
		FoldID:           *foldID,
		Stride:           cfg.GetStride(),
		FixMask:          fix,
		ErrorThreshold:   cfg.GetErrorThreshold(),
		OutlierThreshold: cfg.GetOutlierThreshold(),
		Progress:         cli.Progress(*progress),
	})
	if err != nil {
		log.Fatalf("prediction failed: %v", err)
	}

	out := filepath.Join(*saveDir, impute.ArtifactName(a.Direction, a.FoldID))
	log.Printf("Saving to %s", out)
	if err := impute.SaveArtifact(out, a); err != nil {
		log.Fatalf("failed to save artifact: %v", err)
	}
}
