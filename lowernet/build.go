package lowernet

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/chewxy/math32"

	"github.com/FlavioCFOliveira/lowernet/internal/layer"
	"github.com/FlavioCFOliveira/lowernet/internal/loss"
	"github.com/FlavioCFOliveira/lowernet/internal/net"
	"github.com/FlavioCFOliveira/lowernet/internal/opt"
	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// Stage is one convolution of a stack built by Build.
type Stage struct {
	Kernel   int
	Channels int
	Function NonLinearFunction
}

// NetworkConfig describes a stack of convolutions ending in a softmax loss.
type NetworkConfig struct {
	// Rows, Cols, Depth and Batch give the input shape.
	Rows, Cols, Depth, Batch int

	Stages []Stage

	// Solver, when set, gives every stage a GradientUpdater. Otherwise each
	// stage updates in place with StepSize.
	Solver   *SolverConfig
	StepSize float32

	Threads int
	Seed    int64
	Logger  *log.Logger
}

// Model is a built network together with its input layer and labels.
type Model struct {
	*Network
	Input  *Layer
	Labels *Cube
	Convs  []*ConvolutionBridge
}

// Build allocates every layer and bridge described by cfg. Kernels are
// initialised uniformly in +-1/sqrt(k*k*D).
func Build(cfg NetworkConfig) (*Model, error) {
	if len(cfg.Stages) == 0 {
		return nil, fmt.Errorf("network needs at least one stage: %w", tensor.ErrUnsupportedConfig)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	in := layer.NewLayer(cfg.Rows, cfg.Cols, cfg.Depth, cfg.Batch, nil)
	cur := in
	var (
		bridges []layer.Bridge
		convs   []*layer.ConvolutionBridge
		groups  []net.ParamGroup
	)
	for i, st := range cfg.Stages {
		d := cur.Data
		if st.Kernel < 1 || st.Kernel > d.R || st.Kernel > d.C || st.Channels < 1 {
			return nil, fmt.Errorf("stage %d: kernel %d, %d channels on %v: %w", i, st.Kernel, st.Channels, d, tensor.ErrShapeMismatch)
		}
		cur.Model = tensor.NewCube(st.Kernel, st.Kernel, d.D, st.Channels)
		scale := 1 / math32.Sqrt(float32(st.Kernel*st.Kernel*d.D))
		for j := range cur.Model.Data {
			cur.Model.Data[j] = (rng.Float32()*2 - 1) * scale
		}

		next := layer.NewLayer(d.R-st.Kernel+1, d.C-st.Kernel+1, st.Channels, d.B, nil)
		conv, err := layer.NewConvolutionBridge(cur, next, layer.ConvOptions{
			Function:       st.Function,
			StepSize:       cfg.StepSize,
			Threads:        cfg.Threads,
			ExternalUpdate: cfg.Solver != nil,
			Logger:         cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		if cfg.Solver != nil {
			u, err := opt.NewGradientUpdater(cur.Model.Data, cfg.Solver, 1, 1)
			if err != nil {
				return nil, fmt.Errorf("stage %d: %w", i, err)
			}
			groups = append(groups, net.ParamGroup{Updater: u, Gradient: conv.ModelGradient().Data})
		}
		bridges = append(bridges, conv)
		convs = append(convs, conv)
		cur = next
	}

	d := cur.Data
	out := layer.NewLayer(d.R, d.C, d.D, d.B, nil)
	labels := tensor.NewCube(1, 1, 1, d.B)
	lb, err := loss.NewSoftmaxLossBridge(cur, out, labels)
	if err != nil {
		return nil, err
	}
	network, err := net.New(bridges, lb, groups...)
	if err != nil {
		return nil, err
	}
	return &Model{Network: network, Input: in, Labels: labels, Convs: convs}, nil
}
