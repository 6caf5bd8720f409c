package layer

import (
	"fmt"
	"log"

	"github.com/FlavioCFOliveira/lowernet/internal/activations"
	"github.com/FlavioCFOliveira/lowernet/internal/kernel"
	"github.com/FlavioCFOliveira/lowernet/internal/lowering"
	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// DefaultStepSize is the fixed learning rate of a convolution bridge.
const DefaultStepSize float32 = 0.01

var _ Bridge = (*ConvolutionBridge)(nil)

// ConvOptions configures a ConvolutionBridge.
type ConvOptions struct {
	// Lowering selects the lowering strategy; zero means lowering.Type1.
	Lowering lowering.Type

	// Function is applied to the output after the multiply.
	Function activations.NonLinearFunction

	// StepSize is the fixed step of the in-bridge weight update; zero means DefaultStepSize.
	StepSize float32

	// Threads is the worker hint passed to every GEMM; zero means 1.
	Threads int

	// ApplyActivationGradient multiplies the incoming gradient by the
	// derivative of Function before back-propagating. Off by default, in
	// which case the output gradient is used as is.
	ApplyActivationGradient bool

	// ExternalUpdate leaves the model untouched in Backward and writes the
	// weight gradient to ModelGradient instead, for a GradientUpdater to
	// consume.
	ExternalUpdate bool

	// Logger receives allocation messages. nil disables logging.
	Logger *log.Logger
}

// ConvolutionBridge connects two layers through a stride-1, unpadded
// convolution expressed as lowering + GEMM.
//
// Shapes, with the model stored on the input layer:
//
//	input data  (iR, iC, D, B)
//	model       (k, k, D, O)
//	output data (iR-k+1, iC-k+1, O, B)
//
// Forward:
//
//	(1) iData ---lowering---> lowered            (k*k*D) x (oR*oC*B)
//	(2) model x lowered ----> oData              O x (oR*oC*B)
//	(3) oData ---f (if any)-> oData
//	(4) oData ---remap------> batch-contiguous oData
//
// Backward:
//
//	(1) oGrad ---un-remap---> grad               O x (oR*oC*B)
//	(2) model^T x grad -----> loweredGrad
//	(3) loweredGrad ---inverse lowering---> iGrad
//	(4) model += -stepsize * grad x lowered^T
//
// With ExternalUpdate, step (4) writes grad x lowered^T to ModelGradient.
type ConvolutionBridge struct {
	Base

	stepSize     float32
	applyActGrad bool
	external     bool
	forwarded    bool

	oR, oC, oD, oB int

	connector *lowering.Connector
	scanner   *activations.Scanner

	// Scratch, allocated once.
	lowered      *tensor.Cube
	remapScratch []float32
	outGrad      *tensor.Cube
	loweredGrad  *tensor.Cube
	actDeriv     *tensor.Cube
	modelGrad    *tensor.Cube

	// Matrix views over layer storage.
	modelMatrix     *tensor.Cube
	modelGradMatrix *tensor.Cube
	outputMatrix    *tensor.Cube
	outGradMatrix   *tensor.Cube

	forwardGemm *kernel.GEMM
	gradGemm    *kernel.GEMM
	weightGemm  *kernel.GEMM
	mul         kernel.ElementwiseMul
}

// NewConvolutionBridge validates the shapes of in and out and allocates all
// scratch space. The kernel size is taken from in.Model.
func NewConvolutionBridge(in, out *Layer, opts ConvOptions) (*ConvolutionBridge, error) {
	if opts.Lowering == 0 {
		opts.Lowering = lowering.Type1
	}
	if opts.StepSize == 0 {
		opts.StepSize = DefaultStepSize
	}
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	if err := checkConvShapes(in, out); err != nil {
		return nil, err
	}

	model := in.Model
	k := model.R
	connector, err := lowering.NewConnector(opts.Lowering, lowering.Config{KernelSize: k})
	if err != nil {
		return nil, err
	}
	scanner, err := activations.NewScanner(opts.Function)
	if err != nil {
		return nil, err
	}

	b := &ConvolutionBridge{
		Base:         NewBase(in, out),
		stepSize:     opts.StepSize,
		applyActGrad: opts.ApplyActivationGradient,
		external:     opts.ExternalUpdate,
		oR:           out.Data.R,
		oC:           out.Data.C,
		oD:           out.Data.D,
		oB:           out.Data.B,
		connector:    connector,
		scanner:      scanner,
		forwardGemm:  kernel.NewGEMM(false, false),
		gradGemm:     kernel.NewGEMM(true, false),
		weightGemm:   kernel.NewGEMM(false, true),
	}
	b.Threads = opts.Threads
	b.constructor.Start()

	rows, cols := connector.Config.LoweredShape(in.Data)
	if opts.Logger != nil {
		opts.Logger.Printf("Allocating %.6f GB data for the lowering matrix (%d x %d)",
			float64(rows)*float64(cols)*4/1024/1024/1024, rows, cols)
	}
	b.lowered = tensor.NewCube(rows, cols, 1, 1)
	b.loweredGrad = tensor.NewCube(rows, cols, 1, 1)
	b.remapScratch = make([]float32, out.Data.Len())
	b.outGrad = tensor.NewCube(b.oR, b.oC, b.oD, b.oB)
	if b.applyActGrad {
		b.actDeriv = tensor.NewCube(b.oR, b.oC, b.oD, b.oB)
	}

	if b.external {
		b.modelGrad = tensor.NewCube(model.R, model.C, model.D, model.B)
	}

	if b.modelMatrix, err = model.Matrix(model.B, rows); err != nil {
		return nil, err
	}
	if b.outputMatrix, err = out.Data.Matrix(b.oD, cols); err != nil {
		return nil, err
	}
	if b.outGradMatrix, err = b.outGrad.Matrix(b.oD, cols); err != nil {
		return nil, err
	}
	if b.external {
		if b.modelGradMatrix, err = b.modelGrad.Matrix(model.B, rows); err != nil {
			return nil, err
		}
	}

	scratch := int64(2*rows*cols+2*out.Data.Len()) * 4
	b.constructor.End(0, 0, scratch)
	return b, nil
}

func checkConvShapes(in, out *Layer) error {
	if in == nil || out == nil || in.Data == nil || out.Data == nil {
		return fmt.Errorf("convolution needs input and output layers: %w", tensor.ErrShapeMismatch)
	}
	if in.Model == nil {
		return fmt.Errorf("convolution input layer has no model: %w", tensor.ErrShapeMismatch)
	}
	i, m, o := in.Data, in.Model, out.Data
	switch {
	case m.R != m.C:
		return fmt.Errorf("kernel %dx%d is not square: %w", m.R, m.C, tensor.ErrShapeMismatch)
	case m.R < 1 || m.R > i.R || m.C > i.C:
		return fmt.Errorf("kernel %d larger than input %v: %w", m.R, i, tensor.ErrShapeMismatch)
	case o.R != i.R-m.R+1 || o.C != i.C-m.C+1:
		return fmt.Errorf("output %v, want %dx%d spatial extent for input %v and kernel %d: %w",
			o, i.R-m.R+1, i.C-m.C+1, i, m.R, tensor.ErrShapeMismatch)
	case i.D != m.D:
		return fmt.Errorf("input depth %d != model depth %d: %w", i.D, m.D, tensor.ErrShapeMismatch)
	case i.B != o.B:
		return fmt.Errorf("input batch %d != output batch %d: %w", i.B, o.B, tensor.ErrShapeMismatch)
	case m.B != o.D:
		return fmt.Errorf("model output channels %d != output depth %d: %w", m.B, o.D, tensor.ErrShapeMismatch)
	}
	if in.Gradient == nil || !in.Gradient.SameShape(i) {
		return fmt.Errorf("input gradient does not match input data %v: %w", i, tensor.ErrShapeMismatch)
	}
	if out.Gradient == nil || !out.Gradient.SameShape(o) {
		return fmt.Errorf("output gradient does not match output data %v: %w", o, tensor.ErrShapeMismatch)
	}
	return nil
}

// Forward lowers the input, multiplies by the model, applies the
// nonlinearity and remaps the output into batch-contiguous order.
func (b *ConvolutionBridge) Forward() error {
	b.StartForward()
	in, out := b.Input(), b.Output()

	// (1) lowering
	if err := b.connector.LowerCube(in.Data, b.lowered); err != nil {
		return err
	}
	lowerReport := b.connector.LastReport()

	// (2) output := model x lowered
	if err := b.forwardGemm.Compute(b.modelMatrix, b.lowered, b.outputMatrix, b.Threads); err != nil {
		return err
	}

	// (3) nonlinearity, pointwise so the layout does not matter yet
	b.scanner.Apply(out.Data)

	// (4) [O][B][spatial] -> [B][O][spatial]
	if err := out.Data.RemapOutput(b.remapScratch, b.oD, b.oB, b.oR*b.oC); err != nil {
		return err
	}

	b.forwarded = true
	b.FinishForward(b.forwardGemm.LastReport(), lowerReport, b.scanner.LastReport())
	return nil
}

// Backward propagates the output gradient to the input gradient and applies
// a fixed-step descent update to the model. It reads the lowered input
// cached by the preceding Forward.
func (b *ConvolutionBridge) Backward() error {
	if !b.forwarded {
		return ErrNotForwarded
	}
	b.StartBackward()
	in, out := b.Input(), b.Output()

	// (1) back-propagated gradient, in GEMM order
	src := out.Gradient
	if b.applyActGrad {
		if err := b.scanner.Derivative(out.Data, b.actDeriv); err != nil {
			return err
		}
		if err := b.mul.Compute(b.actDeriv, out.Gradient, b.actDeriv); err != nil {
			return err
		}
		src = b.actDeriv
	}
	if err := b.outGrad.InverseRemapOutput(src, b.oD, b.oB, b.oR*b.oC); err != nil {
		return err
	}

	// (2) loweredGrad := model^T x grad
	if err := b.gradGemm.Compute(b.modelMatrix, b.outGradMatrix, b.loweredGrad, b.Threads); err != nil {
		return err
	}

	// (3) sum overlapping windows back into the input gradient
	if err := b.connector.InverseLowerCube(b.loweredGrad, in.Gradient); err != nil {
		return err
	}
	unlowerReport := b.connector.LastReport()

	// (4) model := -stepsize * grad x lowered^T + model
	target := b.modelMatrix
	b.weightGemm.Alpha, b.weightGemm.Beta = -b.stepSize, 1
	if b.external {
		target = b.modelGradMatrix
		b.weightGemm.Alpha, b.weightGemm.Beta = 1, 0
	}
	if err := b.weightGemm.Compute(b.outGradMatrix, b.lowered, target, b.Threads); err != nil {
		return err
	}

	b.FinishBackward(b.mul.LastReport(), b.gradGemm.LastReport(), unlowerReport, b.weightGemm.LastReport())
	return nil
}

// StepSize returns the fixed step of the weight update.
func (b *ConvolutionBridge) StepSize() float32 { return b.stepSize }

// SetStepSize changes the fixed step of the weight update.
func (b *ConvolutionBridge) SetStepSize(s float32) { b.stepSize = s }

// LoweringConfig returns the configuration shared by forward lowering and
// backward un-lowering.
func (b *ConvolutionBridge) LoweringConfig() lowering.Config { return b.connector.Config }

// Function returns the configured nonlinearity.
func (b *ConvolutionBridge) Function() activations.NonLinearFunction { return b.scanner.Function() }

// ModelGradient returns the weight gradient of the last Backward, or nil
// unless the bridge was built with ExternalUpdate.
func (b *ConvolutionBridge) ModelGradient() *tensor.Cube { return b.modelGrad }

// Model returns the kernel cube owned by the input layer.
func (b *ConvolutionBridge) Model() *tensor.Cube { return b.Input().Model }

// Lowered returns the lowered input cached by the last Forward.
func (b *ConvolutionBridge) Lowered() *tensor.Cube { return b.lowered }
