// Command merge combines the forward and reverse fold artifacts written by
// cmd/predict into one imputed recording.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Noofbiz/markerImpute/config"
	"github.com/Noofbiz/markerImpute/impute"
	"github.com/Noofbiz/markerImpute/internal/cli"
)

func main() {
	artifactDir := flag.String("artifacts", "output", "directory of *_fold_id_*.gob.zst artifacts; positional args name files instead")
	out := flag.String("out", "output/merged.gob.zst", "path for the merged result")
	dumpCSV := flag.String("dump-csv", "", "if set, also write the merged result as CSV to this path")
	plotDir := flag.String("plot-dir", "", "if set, write one trajectory plot per selected coordinate here")
	plotCoords := flag.String("plot-coords", "", "comma-separated coordinates to plot (default: every coordinate of every point with a gap)")
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

	paths := flag.Args()
	if len(paths) == 0 {
		paths = []string{*artifactDir}
	}
	arts, err := impute.LoadArtifacts(paths...)
	if err != nil {
		log.Fatalf("failed to load artifacts: %v", err)
	}
	log.Printf("Loaded %d artifacts", len(arts))

	res, err := impute.Merge(arts, impute.MergeOptions{K: cfg.GetMergeSteepness()})
	if err != nil {
		log.Fatalf("merge failed: %v", err)
	}
	frames, coords := res.Preds.Dims()
	log.Printf("Merged %d frames x %d coordinates, %d consensus-bad point-frames blended", frames, coords, res.BadFrames.Count())

	log.Printf("Saving to %s", *out)
	if err := impute.SaveResult(*out, res, time.Now().Unix()); err != nil {
		log.Fatalf("failed to save result: %v", err)
	}
	if *dumpCSV != "" {
		if err := res.WriteCSV(*dumpCSV); err != nil {
			log.Fatalf("failed to write CSV: %v", err)
		}
		log.Printf("Wrote %s", *dumpCSV)
	}
	if *plotDir != "" {
		sel, err := selectCoords(*plotCoords, res)
		if err != nil {
			log.Fatalf("-plot-coords: %v", err)
		}
		for _, c := range sel {
			p := filepath.Join(*plotDir, fmt.Sprintf("coord_%d.png", c))
			if err := res.PlotCoordinate(p, c); err != nil {
				log.Fatalf("failed to plot coordinate %d: %v", c, err)
			}
		}
		log.Printf("Wrote %d plots to %s", len(sel), *plotDir)
	}
}

func selectCoords(list string, res *impute.MergedResult) ([]int, error) {
	_, coords := res.Preds.Dims()
	var out []int
	if strings.TrimSpace(list) == "" {
		for p := 0; p < coords/3; p++ {
			col := res.BadFrames.Column(p)
			if len(impute.Runs(col)) > 0 {
				out = append(out, p*3, p*3+1, p*3+2)
			}
		}
		return out, nil
	}
	for _, part := range strings.Split(list, ",") {
		c, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if c < 0 || c >= coords {
			return nil, fmt.Errorf("coordinate %d outside 0..%d", c, coords-1)
		}
		out = append(out, c)
	}
	return out, nil
}
