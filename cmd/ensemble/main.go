// Command ensemble combines model files into one ensemble model whose
// prediction is the member median and which reports member spread.
//
//	ensemble -out ensemble.gob member1.gob member2.gob ...
package main

import (
	"flag"
	"log"

	"github.com/Noofbiz/markerImpute/model"
)

func main() {
	out := flag.String("out", "ensemble.gob", "path for the ensemble model")
	velocityWindow := flag.Int("add-velocity", 0, "also add a constant-velocity member with this window")
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 && *velocityWindow == 0 {
		log.Fatal("usage: ensemble -out ensemble.gob member.gob...")
	}

	members := make([]model.Model, 0, len(paths)+1)
	for _, p := range paths {
		m, err := model.Load(p)
		if err != nil {
			log.Fatalf("failed to load member: %v", err)
		}
		log.Printf("Loaded %s (%s, input length %d, %d coords)", p, m.Kind(), m.InputLength(), m.Coords())
		members = append(members, m)
	}
	if *velocityWindow > 0 {
		if len(members) == 0 {
			log.Fatal("-add-velocity needs at least one member file to take the coordinate count from")
		}
		members = append(members, &model.ConstantVelocity{Window: *velocityWindow, NCoords: members[0].Coords(), Damping: 1})
	}

	ens, err := model.NewEnsemble(members...)
	if err != nil {
		log.Fatalf("failed to build ensemble: %v", err)
	}
	if err := model.Save(*out, ens); err != nil {
		log.Fatalf("failed to save ensemble: %v", err)
	}
	log.Printf("Wrote %d-member ensemble to %s", len(ens.Members), *out)
}
