package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/Noofbiz/markerImpute/datasets"
)

// fileVersion is incremented when the on-disk model format changes.
const fileVersion = 1

// fileFormat is the gob representation of a saved model. Exactly one of the
// kind-specific fields is set, matching Kind.
type fileFormat struct {
	Version int
	Kind    string // "mlp", "velocity" or "ensemble"

	MLP      *mlpState
	Velocity *ConstantVelocity
	Members  []fileFormat
}

type mlpState struct {
	Config     MLPConfig
	LayerSizes []int
	Weights    [][][]float32
	Biases     [][]float32
}

func toFile(m Model) (fileFormat, error) {
	switch x := m.(type) {
	case *MLP:
		return fileFormat{Version: fileVersion, Kind: "mlp", MLP: &mlpState{
			Config:     x.Config,
			LayerSizes: x.layerSizes,
			Weights:    x.weights,
			Biases:     x.biases,
		}}, nil
	case *ConstantVelocity:
		return fileFormat{Version: fileVersion, Kind: "velocity", Velocity: x}, nil
	case *Ensemble:
		ff := fileFormat{Version: fileVersion, Kind: "ensemble"}
		for i, mem := range x.Members {
			mf, err := toFile(mem)
			if err != nil {
				return fileFormat{}, fmt.Errorf("member %d: %w", i, err)
			}
			ff.Members = append(ff.Members, mf)
		}
		return ff, nil
	default:
		return fileFormat{}, fmt.Errorf("cannot save model of type %T", m)
	}
}

func fromFile(ff fileFormat) (Model, error) {
	m, err := decodeModel(ff)
	if err != nil {
		return nil, err
	}
	if err := CheckShape(m); err != nil {
		return nil, fmt.Errorf("%s model: %w", ff.Kind, err)
	}
	return m, nil
}

func decodeModel(ff fileFormat) (Model, error) {
	if ff.Version != fileVersion {
		return nil, fmt.Errorf("model file version mismatch: file=%d expected=%d", ff.Version, fileVersion)
	}
	switch ff.Kind {
	case "mlp":
		if ff.MLP == nil {
			return nil, fmt.Errorf("mlp model file without weights")
		}
		s := ff.MLP
		if len(s.Weights) != len(s.LayerSizes)-1 || len(s.Biases) != len(s.Weights) {
			return nil, fmt.Errorf("mlp model file has %d layers for sizes %v", len(s.Weights), s.LayerSizes)
		}
		if err := checkLayers(s); err != nil {
			return nil, err
		}
		return &MLP{Config: s.Config, layerSizes: s.LayerSizes, weights: s.Weights, biases: s.Biases}, nil
	case "velocity":
		if ff.Velocity == nil {
			return nil, fmt.Errorf("velocity model file without parameters")
		}
		return ff.Velocity, nil
	case "ensemble":
		members := make([]Model, 0, len(ff.Members))
		for i, mf := range ff.Members {
			m, err := fromFile(mf)
			if err != nil {
				return nil, fmt.Errorf("member %d: %w", i, err)
			}
			members = append(members, m)
		}
		return NewEnsemble(members...)
	default:
		return nil, fmt.Errorf("unknown model kind %q", ff.Kind)
	}
}

// checkLayers makes sure the stored weights match the layer sizes and the
// declared window, so the forward pass never indexes past a slice.
func checkLayers(s *mlpState) error {
	sizes := s.LayerSizes
	if len(sizes) < 2 || sizes[0] != s.Config.InputLength*s.Config.Coords || sizes[len(sizes)-1] != s.Config.Coords {
		return fmt.Errorf("mlp layer sizes %v do not fit a %dx%d window: %w", sizes, s.Config.InputLength, s.Config.Coords, ErrWindowShape)
	}
	for l, w := range s.Weights {
		if len(w) != sizes[l+1] || len(s.Biases[l]) != sizes[l+1] {
			return fmt.Errorf("mlp layer %d has %d outputs, want %d: %w", l, len(w), sizes[l+1], ErrWindowShape)
		}
		for _, row := range w {
			if len(row) != sizes[l] {
				return fmt.Errorf("mlp layer %d has %d inputs, want %d: %w", l, len(row), sizes[l], ErrWindowShape)
			}
		}
	}
	return nil
}

// Save writes m to path with encoding/gob. Tensor-backed models cannot be
// saved this way; their graphs live with the framework that built them.
func Save(path string, m Model) error {
	ff, err := toFile(m)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&ff); err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	return datasets.WriteFileAtomic(path, buf.Bytes())
}

// Load reads a model written by Save. The returned model's Kind is fixed from
// the file contents.
func Load(path string) (Model, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", path, err)
	}
	defer fh.Close()
	var ff fileFormat
	if err := gob.NewDecoder(fh).Decode(&ff); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	m, err := fromFile(ff)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

// BuildEnsemble loads the member models at paths and combines them.
func BuildEnsemble(paths ...string) (*Ensemble, error) {
	members := make([]Model, 0, len(paths))
	for _, p := range paths {
		m, err := Load(p)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return NewEnsemble(members...)
}
