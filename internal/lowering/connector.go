package lowering

import (
	"fmt"

	"github.com/FlavioCFOliveira/lowernet/internal/report"
	"github.com/FlavioCFOliveira/lowernet/internal/tensor"
)

const sizeofFloat32 = 4

// Connector binds a lowering configuration to a bridge and reports the
// traffic of its last call.
type Connector struct {
	Type   Type
	Config Config

	lastReport report.Report
}

// NewConnector returns a connector for lowering type t.
func NewConnector(t Type, cfg Config) (*Connector, error) {
	if t != Type1 {
		return nil, fmt.Errorf("lowering %s: %w", t, tensor.ErrUnsupportedConfig)
	}
	if cfg.KernelSize < 1 {
		return nil, fmt.Errorf("kernel size %d: %w", cfg.KernelSize, tensor.ErrShapeMismatch)
	}
	return &Connector{Type: t, Config: cfg}, nil
}

// LowerCube lowers in into out.
func (c *Connector) LowerCube(in, out *tensor.Cube) error {
	c.lastReport.Start()
	if err := Lower(in, out, c.Config); err != nil {
		return err
	}
	c.lastReport.End(0, int64(in.Len())*sizeofFloat32, int64(out.Len())*sizeofFloat32)
	return nil
}

// InverseLowerCube scatters lowered back into grad, summing overlaps.
func (c *Connector) InverseLowerCube(lowered, grad *tensor.Cube) error {
	c.lastReport.Start()
	if err := InverseLower(lowered, grad, c.Config); err != nil {
		return err
	}
	c.lastReport.End(int64(lowered.Len()), int64(lowered.Len())*sizeofFloat32, int64(grad.Len())*sizeofFloat32)
	return nil
}

// LastReport returns the statistics of the most recent call.
func (c *Connector) LastReport() report.Report { return c.lastReport }
