package opt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// SolverType selects a GradientUpdater implementation.
type SolverType string

const (
	SolverSGD      SolverType = "SGD"
	SolverAdaGrad  SolverType = "ADAGRAD"
	SolverNesterov SolverType = "NESTEROV"
)

// Policy names a learning-rate decay schedule.
type Policy string

const (
	PolicyFixed Policy = "fixed"
	PolicyStep  Policy = "step"
	PolicyExp   Policy = "exp"
	PolicyInv   Policy = "inv"
	PolicyPoly  Policy = "poly"
)

// Regularization names the weight-decay penalty.
type Regularization string

const (
	L1 Regularization = "L1"
	L2 Regularization = "L2"
)

// DefaultDelta is the AdaGrad denominator floor used when none is configured.
const DefaultDelta float32 = 1e-8

// SolverConfig holds the solver parameters read by every GradientUpdater.
// It is treated as read-only once an updater holds it.
type SolverConfig struct {
	Type           SolverType     `yaml:"type"`
	LRPolicy       Policy         `yaml:"lr_policy"`
	BaseLR         float32        `yaml:"base_lr"`
	Momentum       float32        `yaml:"momentum"`
	WeightDecay    float32        `yaml:"weight_decay"`
	Regularization Regularization `yaml:"regularization_type"`
	Delta          float32        `yaml:"delta"`

	// Schedule parameters.
	Gamma    float32 `yaml:"gamma"`
	StepSize int     `yaml:"stepsize"`
	Power    float32 `yaml:"power"`
	MaxIter  int     `yaml:"max_iter"`
}

// DefaultSolverConfig returns a plain SGD configuration with a fixed rate.
func DefaultSolverConfig() *SolverConfig {
	s := &SolverConfig{BaseLR: 0.01}
	s.applyDefaults()
	return s
}

func (s *SolverConfig) applyDefaults() {
	if s.Type == "" {
		s.Type = SolverSGD
	}
	s.Type = SolverType(strings.ToUpper(string(s.Type)))
	if s.LRPolicy == "" {
		s.LRPolicy = PolicyFixed
	}
	if s.Regularization == "" {
		s.Regularization = L2
	}
	s.Regularization = Regularization(strings.ToUpper(string(s.Regularization)))
	if s.Delta == 0 {
		s.Delta = DefaultDelta
	}
}

// Validate reports configurations no updater can run.
func (s *SolverConfig) Validate() error {
	var errs []error
	switch s.Type {
	case SolverSGD, SolverAdaGrad, SolverNesterov:
	default:
		errs = append(errs, fmt.Errorf("solver type %q: %w", s.Type, tensor.ErrUnsupportedConfig))
	}
	switch s.Regularization {
	case L1, L2:
	default:
		errs = append(errs, fmt.Errorf("regularization %q: %w", s.Regularization, tensor.ErrUnsupportedConfig))
	}
	switch s.LRPolicy {
	case PolicyFixed, PolicyExp:
	case PolicyStep:
		if s.StepSize <= 0 {
			errs = append(errs, fmt.Errorf("step policy needs stepsize > 0, got %d: %w", s.StepSize, tensor.ErrUnsupportedConfig))
		}
	case PolicyInv:
	case PolicyPoly:
		if s.MaxIter <= 0 {
			errs = append(errs, fmt.Errorf("poly policy needs max_iter > 0, got %d: %w", s.MaxIter, tensor.ErrUnsupportedConfig))
		}
	default:
		errs = append(errs, fmt.Errorf("lr policy %q: %w", s.LRPolicy, tensor.ErrUnsupportedConfig))
	}
	if s.BaseLR < 0 {
		errs = append(errs, fmt.Errorf("base_lr %v is negative: %w", s.BaseLR, tensor.ErrUnsupportedConfig))
	}
	if s.Delta < 0 {
		errs = append(errs, fmt.Errorf("delta %v is negative: %w", s.Delta, tensor.ErrUnsupportedConfig))
	}
	return errors.Join(errs...)
}

// LoadSolverConfig decodes a YAML solver configuration, fills defaults and
// validates the result.
func LoadSolverConfig(r io.Reader) (*SolverConfig, error) {
	var s SolverConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse solver config: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSolverConfigFile reads a YAML solver configuration from path.
func LoadSolverConfigFile(path string) (*SolverConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open solver config: %w", err)
	}
	defer f.Close()
	return LoadSolverConfig(f)
}
