package opt

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// Scheduler maps an iteration to a learning rate.
type Scheduler interface {
	GetLR(iter int) float32
}

// FixedLR keeps the base rate.
type FixedLR struct {
	BaseLR float32
}

func (s FixedLR) GetLR(int) float32 { return s.BaseLR }

// StepLR decays the rate by Gamma every StepSize iterations.
type StepLR struct {
	BaseLR   float32
	Gamma    float32
	StepSize int
}

func (s StepLR) GetLR(iter int) float32 {
	return s.BaseLR * math32.Pow(s.Gamma, float32(iter/s.StepSize))
}

// ExponentialLR decays the rate by Gamma every iteration.
type ExponentialLR struct {
	BaseLR float32
	Gamma  float32
}

func (s ExponentialLR) GetLR(iter int) float32 {
	return s.BaseLR * math32.Pow(s.Gamma, float32(iter))
}

// InverseLR returns BaseLR * (1 + Gamma*iter)^-Power.
type InverseLR struct {
	BaseLR float32
	Gamma  float32
	Power  float32
}

func (s InverseLR) GetLR(iter int) float32 {
	return s.BaseLR * math32.Pow(1+s.Gamma*float32(iter), -s.Power)
}

// PolyLR returns BaseLR * (1 - iter/MaxIter)^Power, reaching zero at MaxIter
// and staying there.
type PolyLR struct {
	BaseLR  float32
	Power   float32
	MaxIter int
}

func (s PolyLR) GetLR(iter int) float32 {
	if iter >= s.MaxIter {
		return 0
	}
	return s.BaseLR * math32.Pow(1-float32(iter)/float32(s.MaxIter), s.Power)
}

// NewScheduler builds the schedule named by s.LRPolicy.
func NewScheduler(s *SolverConfig) (Scheduler, error) {
	switch s.LRPolicy {
	case PolicyFixed, "":
		return FixedLR{BaseLR: s.BaseLR}, nil
	case PolicyStep:
		if s.StepSize <= 0 {
			return nil, fmt.Errorf("step policy with stepsize %d: %w", s.StepSize, tensor.ErrUnsupportedConfig)
		}
		return StepLR{BaseLR: s.BaseLR, Gamma: s.Gamma, StepSize: s.StepSize}, nil
	case PolicyExp:
		return ExponentialLR{BaseLR: s.BaseLR, Gamma: s.Gamma}, nil
	case PolicyInv:
		return InverseLR{BaseLR: s.BaseLR, Gamma: s.Gamma, Power: s.Power}, nil
	case PolicyPoly:
		if s.MaxIter <= 0 {
			return nil, fmt.Errorf("poly policy with max_iter %d: %w", s.MaxIter, tensor.ErrUnsupportedConfig)
		}
		return PolyLR{BaseLR: s.BaseLR, Power: s.Power, MaxIter: s.MaxIter}, nil
	}
	return nil, fmt.Errorf("lr policy %q: %w", s.LRPolicy, tensor.ErrUnsupportedConfig)
}

// ReduceLROnPlateau shrinks a rate multiplier when the loss has stopped
// improving for Patience observations.
type ReduceLROnPlateau struct {
	factor    float32
	patience  int
	threshold float32
	cooldown  int
	minScale  float32

	scale           float32
	bestLoss        float32
	numBadEpochs    int
	cooldownCounter int
}

func NewReduceLROnPlateau(factor float32, patience int, threshold, minScale float32, cooldown int) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		factor:    factor,
		patience:  patience,
		threshold: threshold,
		cooldown:  cooldown,
		minScale:  minScale,
		scale:     1,
		bestLoss:  math32.MaxFloat32,
	}
}

// StepWithLoss records a loss and reports whether the multiplier changed.
func (s *ReduceLROnPlateau) StepWithLoss(currentLoss float32) bool {
	if s.cooldownCounter > 0 {
		s.cooldownCounter--
		return false
	}

	if currentLoss < s.bestLoss-s.threshold {
		s.bestLoss = currentLoss
		s.numBadEpochs = 0
	} else {
		s.numBadEpochs++
	}

	if s.numBadEpochs < s.patience {
		return false
	}
	s.numBadEpochs = 0
	s.cooldownCounter = s.cooldown
	next := max(s.scale*s.factor, s.minScale)
	if next == s.scale {
		return false
	}
	s.scale = next
	return true
}

// Scale returns the current multiplier, starting at 1.
func (s *ReduceLROnPlateau) Scale() float32 { return s.scale }
