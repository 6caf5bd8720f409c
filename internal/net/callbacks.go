package net

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/FlavioCFOliveira/lowernet/internal/opt"
)

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(n *Network)
	OnTrainEnd(n *Network)
	OnIterationBegin(iter int, n *Network)
	OnIterationEnd(iter int, loss float32, n *Network)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(n *Network)                           {}
func (c BaseCallback) OnTrainEnd(n *Network)                             {}
func (c BaseCallback) OnIterationBegin(iter int, n *Network)             {}
func (c BaseCallback) OnIterationEnd(iter int, loss float32, n *Network) {}

// rateScaler is implemented by updaters whose base learning rate can change.
type rateScaler interface {
	BaseLR() float32
	SetBaseLR(lr float32)
}

// stepSizer is implemented by bridges that update their own model.
type stepSizer interface {
	StepSize() float32
	SetStepSize(s float32)
}

// SchedulerCallback scales every learning rate in the network by the
// multiplier of a plateau scheduler: updater base rates and the fixed steps
// of self-updating bridges.
type SchedulerCallback struct {
	BaseCallback
	scheduler *opt.ReduceLROnPlateau

	updaterBase []float32
	bridgeBase  []float32
}

func NewSchedulerCallback(scheduler *opt.ReduceLROnPlateau) *SchedulerCallback {
	return &SchedulerCallback{scheduler: scheduler}
}

func (c *SchedulerCallback) OnTrainBegin(n *Network) {
	c.updaterBase = c.updaterBase[:0]
	for _, g := range n.Groups() {
		var lr float32
		if r, ok := g.Updater.(rateScaler); ok {
			lr = r.BaseLR()
		}
		c.updaterBase = append(c.updaterBase, lr)
	}
	c.bridgeBase = c.bridgeBase[:0]
	for _, b := range n.Bridges() {
		var s float32
		if st, ok := b.(stepSizer); ok {
			s = st.StepSize()
		}
		c.bridgeBase = append(c.bridgeBase, s)
	}
}

func (c *SchedulerCallback) OnIterationEnd(iter int, loss float32, n *Network) {
	if !c.scheduler.StepWithLoss(loss) {
		return
	}
	scale := c.scheduler.Scale()
	for i, g := range n.Groups() {
		if r, ok := g.Updater.(rateScaler); ok && i < len(c.updaterBase) {
			r.SetBaseLR(c.updaterBase[i] * scale)
		}
	}
	for i, b := range n.Bridges() {
		if st, ok := b.(stepSizer); ok && i < len(c.bridgeBase) {
			st.SetStepSize(c.bridgeBase[i] * scale)
		}
	}
}

// EarlyStopping stops training when the loss has stopped improving.
type EarlyStopping struct {
	BaseCallback
	Patience  int
	Threshold float32

	bestLoss    float32
	numBadIters int
	Stopped     bool
}

func NewEarlyStopping(patience int, threshold float32) *EarlyStopping {
	return &EarlyStopping{
		Patience:  patience,
		Threshold: threshold,
		bestLoss:  math.MaxFloat32,
	}
}

func (c *EarlyStopping) OnIterationEnd(iter int, loss float32, n *Network) {
	if loss < c.bestLoss-c.Threshold {
		c.bestLoss = loss
		c.numBadIters = 0
	} else {
		c.numBadIters++
	}

	if c.numBadIters >= c.Patience {
		fmt.Printf("\nEarly stopping at iteration %d: loss %.6f did not improve for %d iterations\n", iter, loss, c.Patience)
		c.Stopped = true
	}
}

func (c *EarlyStopping) ShouldStop() bool { return c.Stopped }

// Logger logs training progress every Interval iterations. Out defaults to
// standard output.
type Logger struct {
	BaseCallback
	Interval int
	Out      io.Writer
}

func (c Logger) OnIterationEnd(iter int, loss float32, n *Network) {
	if c.Interval <= 0 || iter%c.Interval != 0 {
		return
	}
	w := c.Out
	if w == nil {
		w = os.Stdout
	}
	fwd, bwd := n.Reports()
	fmt.Fprintf(w, "Iteration %d: loss = %.6f (forward %.3f GFLOPS, backward %.3f GFLOPS)\n",
		iter, loss, fwd.GFLOPS(), bwd.GFLOPS())
}
