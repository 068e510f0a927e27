// Command analyze measures a model's gap reconstruction error on clean
// stretches of a recording and writes plots, errors.gob.zst and a summary CSV
// into a fresh run folder.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Noofbiz/markerImpute/config"
	"github.com/Noofbiz/markerImpute/datasets"
	"github.com/Noofbiz/markerImpute/evaluate"
	"github.com/Noofbiz/markerImpute/internal/cli"
	"github.com/Noofbiz/markerImpute/model"
)

func main() {
	modelPath := flag.String("model", "", "path to a model file written by cmd/ensemble or model.Save")
	velocityWindow := flag.Int("velocity-window", 0, "use the constant-velocity baseline with this window instead of -model")
	engine := flag.String("engine", model.EngineGo, "how to run MLPs: go (plain forward pass) or graph (gomlx simplego graph)")
	dataPath := flag.String("data", "", "marker recording (.json, .yaml, .gob, optionally .zst) or a directory of them")
	vizDir := flag.String("viz-dir", "viz", "parent directory of run folders")
	runName := flag.String("run-name", "", "run folder name (default YYMMDD_HHMMSS_<id>)")
	plot := flag.Bool("plot", true, "write error distribution plots")
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

	sources, err := cli.DataSources(*dataPath)
	if err != nil {
		log.Fatalf("-data: %v", err)
	}

	name := *runName
	if name == "" {
		name = cli.RunName(time.Now())
	}
	runDir := filepath.Join(*vizDir, name)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		log.Fatalf("failed to create run folder: %v", err)
	}
	log.Printf("Created run: %s", runDir)
	if out, err := cfg.YAML(); err == nil {
		if err := datasets.WriteFileAtomic(filepath.Join(runDir, "config.yaml"), out); err != nil {
			log.Printf("warning: could not save effective config: %v", err)
		}
	}

	lo, hi, step := cfg.GetGapRange()
	ev := evaluate.Evaluator{
		GapLengths:       evaluate.GapLengths(lo, hi, step),
		Skip:             cfg.GetSkip(),
		Stride:           cfg.GetStride(),
		K:                cfg.GetEvalSteepness(),
		KTiles:           cfg.GetKTiles(),
		MaxBound:         cfg.GetMaxBound(),
		Workers:          cfg.GetWorkers(),
		PlotDistribution: *plot,
		Progress:         cli.Progress(*progress),
	}

	ctx, stop := cli.SignalContext()
	defer stop()
	for _, src := range sources {
		dir := runDir
		if len(sources) > 1 {
			dir = filepath.Join(runDir, cli.SourceStem(src))
		}
		log.Printf("Loading data from %s", src)
		set, err := datasets.Load(src)
		if err != nil {
			log.Fatalf("failed to load data: %v", err)
		}
		m, err := cli.LoadModel(*modelPath, *velocityWindow, set.Coords(), *engine)
		if err != nil {
			log.Fatalf("failed to load model: %v", err)
		}
		rep, err := ev.Run(ctx, m, set, dir)
		if err != nil {
			log.Fatalf("evaluation of %s failed: %v", src, err)
		}

		log.Printf("Saving predictions to %s", dir)
		if err := evaluate.SaveReport(dir, rep); err != nil {
			log.Fatalf("failed to save report: %v", err)
		}
		for _, s := range rep.Summaries() {
			log.Printf("gap %3d  %-12s  median %.3f  p90 %.3f  (%d samples)", s.Length, s.Name, s.Median, s.P90, s.Samples)
		}
	}
}
