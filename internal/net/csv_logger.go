package net

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

var csvHeader = []string{"iteration", "loss", "time_seconds", "forward_gflops", "backward_gflops"}

// CSVLogger records one row per completed step. The iteration column is the
// zero-based index of the step over the network's lifetime, matching Logger
// within a single Train call and staying monotone across appended runs.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool

	f     *os.File
	w     *csv.Writer
	start time.Time
	err   error
}

func NewCSVLogger(filename string, append bool) *CSVLogger {
	return &CSVLogger{Filename: filename, Append: append}
}

// Err returns the first open or write failure. Failures never abort
// training; the logger just stops writing.
func (c *CSVLogger) Err() error { return c.err }

func (c *CSVLogger) OnTrainBegin(n *Network) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if c.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(c.Filename, flags, 0o644)
	if err != nil {
		c.err = err
		return
	}
	c.f, c.w, c.start = f, csv.NewWriter(f), time.Now()

	if fi, err := f.Stat(); err == nil && fi.Size() == 0 {
		c.write(csvHeader)
	}
}

func (c *CSVLogger) OnIterationEnd(iter int, loss float32, n *Network) {
	if c.w == nil {
		return
	}
	fwd, bwd := n.Reports()
	c.write([]string{
		strconv.Itoa(n.Iter()-1),
		strconv.FormatFloat(float64(loss), 'g', 8, 32),
		strconv.FormatFloat(time.Since(c.start).Seconds(), 'f', 3, 64),
		strconv.FormatFloat(fwd.GFLOPS(), 'f', 3, 64),
		strconv.FormatFloat(bwd.GFLOPS(), 'f', 3, 64),
	})
}

func (c *CSVLogger) write(record []string) {
	c.w.Write(record)
	c.w.Flush()
	if err := c.w.Error(); err != nil && c.err == nil {
		c.err = err
		c.w = nil
	}
}

func (c *CSVLogger) OnTrainEnd(n *Network) {
	if c.f == nil {
		return
	}
	if err := c.f.Close(); err != nil && c.err == nil {
		c.err = err
	}
	c.f, c.w = nil, nil
}
