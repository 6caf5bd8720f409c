// Package lowernet re-exports the training core: cubes, layers, the
// convolution and softmax loss bridges, gradient updaters and the network
// driver.
package lowernet

import (
	"github.com/FlavioCFOliveira/lowernet/internal/activations"
	"github.com/FlavioCFOliveira/lowernet/internal/layer"
	"github.com/FlavioCFOliveira/lowernet/internal/loss"
	"github.com/FlavioCFOliveira/lowernet/internal/net"
	"github.com/FlavioCFOliveira/lowernet/internal/opt"
	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// Re-export common types and functions for easier access
type (
	Cube              = tensor.Cube
	Layer             = layer.Layer
	Bridge            = layer.Bridge
	ConvOptions       = layer.ConvOptions
	ConvolutionBridge = layer.ConvolutionBridge
	SoftmaxLossBridge = loss.SoftmaxLossBridge
	Network           = net.Network
	ParamGroup        = net.ParamGroup
	Callback          = net.Callback
	CSVLog            = net.CSVLogger
	SolverConfig      = opt.SolverConfig
	GradientUpdater   = opt.GradientUpdater
	NonLinearFunction = activations.NonLinearFunction
)

// Nonlinearities
const (
	FuncNone    = activations.FuncNone
	FuncTanh    = activations.FuncTanh
	FuncReLU    = activations.FuncReLU
	FuncSigmoid = activations.FuncSigmoid
	FuncLeaky   = activations.FuncLeakyReLU
)

// Errors
var (
	ErrShapeMismatch     = tensor.ErrShapeMismatch
	ErrUnsupportedConfig = tensor.ErrUnsupportedConfig
	ErrInvalidLabel      = loss.ErrInvalidLabel
	ErrNotForwarded      = layer.ErrNotForwarded
	ErrClosed            = opt.ErrClosed
)

// Tensors and layers
func NewCube(r, c, d, b int) *Cube {
	return tensor.NewCube(r, c, d, b)
}

func NewLayer(r, c, d, b int, model *Cube) *Layer {
	return layer.NewLayer(r, c, d, b, model)
}

// Bridges
func Convolution(in, out *Layer, opts ConvOptions) (*ConvolutionBridge, error) {
	return layer.NewConvolutionBridge(in, out, opts)
}

func SoftmaxLoss(in, out *Layer, labels *Cube) (*SoftmaxLossBridge, error) {
	return loss.NewSoftmaxLossBridge(in, out, labels)
}

// Solvers
func LoadSolverConfigFile(path string) (*SolverConfig, error) {
	return opt.LoadSolverConfigFile(path)
}

func NewGradientUpdater(model []float32, solver *SolverConfig, baseLR, baseReg float32) (GradientUpdater, error) {
	return opt.NewGradientUpdater(model, solver, baseLR, baseReg)
}

// Callbacks
func Logger(interval int) net.Logger {
	return net.Logger{Interval: interval}
}

func EarlyStopping(patience int, minDelta float32) *net.EarlyStopping {
	return net.NewEarlyStopping(patience, minDelta)
}

func CSVLogger(filename string, append bool) *CSVLog {
	return net.NewCSVLogger(filename, append)
}

func ReduceLROnPlateau(factor float32, patience int, threshold, minScale float32, cooldown int) net.Callback {
	return net.NewSchedulerCallback(opt.NewReduceLROnPlateau(factor, patience, threshold, minScale, cooldown))
}
