// Package net drives a chain of bridges through forward, loss, backward and
// parameter updates.
package net

import (
	"fmt"

	"github.com/FlavioCFOliveira/lowernet/internal/layer"
	"github.com/FlavioCFOliveira/lowernet/internal/loss"
	"github.com/FlavioCFOliveira/lowernet/internal/opt"
	"github.com/FlavioCFOliveira/lowernet/internal/report"
	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

// ParamGroup pairs an updater with the gradient buffer it consumes after
// every backward pass.
type ParamGroup struct {
	Updater  opt.GradientUpdater
	Gradient []float32
}

// Network is an ordered chain of bridges ending in a softmax loss bridge.
type Network struct {
	bridges []layer.Bridge
	loss    *loss.SoftmaxLossBridge
	groups  []ParamGroup

	iter int
}

type linked interface {
	Input() *layer.Layer
	Output() *layer.Layer
}

// New checks that every bridge's output layer is the next bridge's input
// layer and that the last one feeds lossBridge.
func New(bridges []layer.Bridge, lossBridge *loss.SoftmaxLossBridge, groups ...ParamGroup) (*Network, error) {
	if lossBridge == nil {
		return nil, fmt.Errorf("network needs a loss bridge: %w", tensor.ErrShapeMismatch)
	}
	var prev *layer.Layer
	for i, b := range bridges {
		l, ok := b.(linked)
		if !ok {
			continue
		}
		if prev != nil && l.Input() != prev {
			return nil, fmt.Errorf("bridge %d does not read the output of bridge %d: %w", i, i-1, tensor.ErrShapeMismatch)
		}
		prev = l.Output()
	}
	if prev != nil && lossBridge.Input() != prev {
		return nil, fmt.Errorf("loss bridge does not read the last bridge output: %w", tensor.ErrShapeMismatch)
	}
	for i, g := range groups {
		if g.Updater == nil {
			return nil, fmt.Errorf("param group %d has no updater: %w", i, tensor.ErrUnsupportedConfig)
		}
	}
	return &Network{bridges: bridges, loss: lossBridge, groups: groups}, nil
}

// Forward runs every bridge in order, then the loss bridge.
func (n *Network) Forward() error {
	for i, b := range n.bridges {
		if err := b.Forward(); err != nil {
			return fmt.Errorf("bridge %d forward: %w", i, err)
		}
	}
	if err := n.loss.Forward(); err != nil {
		return fmt.Errorf("loss forward: %w", err)
	}
	return nil
}

// Backward seeds the loss output gradient with the loss output, runs the
// loss backward and then every bridge in reverse order.
func (n *Network) Backward() error {
	if err := n.loss.CheckLabels(); err != nil {
		return fmt.Errorf("loss backward: %w", err)
	}
	out := n.loss.Output()
	if err := out.Gradient.CopyFrom(out.Data); err != nil {
		return err
	}
	if err := n.loss.Backward(); err != nil {
		return fmt.Errorf("loss backward: %w", err)
	}
	for i := len(n.bridges) - 1; i >= 0; i-- {
		if err := n.bridges[i].Backward(); err != nil {
			return fmt.Errorf("bridge %d backward: %w", i, err)
		}
	}
	return nil
}

// Update applies every parameter group's updater to its gradient.
func (n *Network) Update() error {
	for i, g := range n.groups {
		if err := g.Updater.Update(g.Gradient); err != nil {
			return fmt.Errorf("param group %d: %w", i, err)
		}
	}
	return nil
}

// Step runs one training iteration and returns its loss.
func (n *Network) Step() (float32, error) {
	n.loss.ResetLoss()
	if err := n.Forward(); err != nil {
		return 0, err
	}
	if err := n.Backward(); err != nil {
		return 0, err
	}
	if err := n.Update(); err != nil {
		return 0, err
	}
	n.iter++
	return n.loss.Loss(), nil
}

// Stopper is implemented by callbacks that can end training early.
type Stopper interface {
	ShouldStop() bool
}

// Train runs up to iters steps, notifying callbacks around each one. It
// returns the loss of the last completed step.
func (n *Network) Train(iters int, callbacks ...Callback) (float32, error) {
	for _, cb := range callbacks {
		cb.OnTrainBegin(n)
	}
	defer func() {
		for _, cb := range callbacks {
			cb.OnTrainEnd(n)
		}
	}()

	var last float32
	for i := 0; i < iters; i++ {
		for _, cb := range callbacks {
			cb.OnIterationBegin(i, n)
		}
		l, err := n.Step()
		if err != nil {
			return last, fmt.Errorf("iteration %d: %w", i, err)
		}
		last = l
		for _, cb := range callbacks {
			cb.OnIterationEnd(i, l, n)
		}
		if stopped(callbacks) {
			break
		}
	}
	return last, nil
}

func stopped(callbacks []Callback) bool {
	for _, cb := range callbacks {
		if s, ok := cb.(Stopper); ok && s.ShouldStop() {
			return true
		}
	}
	return false
}

// Iter returns the number of completed steps.
func (n *Network) Iter() int { return n.iter }

// Bridges returns the bridge chain.
func (n *Network) Bridges() []layer.Bridge { return n.bridges }

// LossBridge returns the terminal loss bridge.
func (n *Network) LossBridge() *loss.SoftmaxLossBridge { return n.loss }

// Groups returns the registered parameter groups.
func (n *Network) Groups() []ParamGroup { return n.groups }

// Reports aggregates the last forward and backward reports of every bridge,
// the loss bridge included.
func (n *Network) Reports() (forward, backward report.Report) {
	for _, b := range n.bridges {
		forward.Aggregate(b.ForwardReport())
		backward.Aggregate(b.BackwardReport())
	}
	forward.Aggregate(n.loss.ForwardReport())
	backward.Aggregate(n.loss.BackwardReport())
	return forward, backward
}

// Close releases every updater's history.
func (n *Network) Close() {
	for _, g := range n.groups {
		g.Updater.Close()
	}
}
