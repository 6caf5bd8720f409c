package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/FlavioCFOliveira/lowernet/lowernet"
)

func main() {
	solverPath := flag.String("solver", "", "YAML solver config; empty trains with the in-bridge fixed step")
	iters := flag.Int("iters", 200, "Training iterations")
	batch := flag.Int("batch", 16, "Batch size")
	size := flag.Int("size", 12, "Image side length")
	classes := flag.Int("classes", 5, "Number of classes (at most 5)")
	stepSize := flag.Float64("stepsize", 0.001, "Fixed step for in-bridge updates")
	threads := flag.Int("threads", 4, "GEMM worker hint")
	seed := flag.Int64("seed", 42, "Random seed")
	interval := flag.Int("log-interval", 20, "Iterations between progress lines")
	csvPath := flag.String("csv", "", "Write per-iteration statistics to this CSV file")
	patience := flag.Int("patience", 0, "Stop after this many iterations without improvement (0 = off)")
	flag.Parse()

	if *classes < 1 || *classes > 5 {
		log.Fatalf("classes must be in [1, 5], got %d", *classes)
	}
	if *size < 8 {
		log.Fatalf("size must be at least 8, got %d", *size)
	}

	logger := log.New(os.Stderr, "convtrain: ", log.LstdFlags)

	var solver *lowernet.SolverConfig
	if *solverPath != "" {
		var err error
		solver, err = lowernet.LoadSolverConfigFile(*solverPath)
		if err != nil {
			log.Fatalf("Failed to load solver: %v", err)
		}
		logger.Printf("solver %s, policy %s, base_lr %g", solver.Type, solver.LRPolicy, solver.BaseLR)
	}

	// conv 5x5 -> tanh -> conv spanning the rest -> 1x1 x classes -> softmax
	first := 5
	m, err := lowernet.Build(lowernet.NetworkConfig{
		Rows: *size, Cols: *size, Depth: 1, Batch: *batch,
		Stages: []lowernet.Stage{
			{Kernel: first, Channels: 8, Function: lowernet.FuncTanh},
			{Kernel: *size - first + 1, Channels: *classes},
		},
		Solver:   solver,
		StepSize: float32(*stepSize),
		Threads:  *threads,
		Seed:     *seed,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("Failed to build network: %v", err)
	}
	defer m.Close()

	rng := rand.New(rand.NewSource(*seed))
	fillSynthetic(rng, m.Input.Data, m.Labels, *classes)

	callbacks := []lowernet.Callback{lowernet.Logger(*interval)}
	var csvLog *lowernet.CSVLog
	if *csvPath != "" {
		csvLog = lowernet.CSVLogger(*csvPath, false)
		callbacks = append(callbacks, csvLog)
	}
	if *patience > 0 {
		callbacks = append(callbacks, lowernet.EarlyStopping(*patience, 1e-4))
	}

	last, err := m.Train(*iters, callbacks...)
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}
	if csvLog != nil && csvLog.Err() != nil {
		logger.Printf("csv log %s incomplete: %v", *csvPath, csvLog.Err())
	}

	fmt.Printf("Finished %d iterations, final loss %.6f\n", m.Iter(), last)
	for i, c := range m.Convs {
		fmt.Printf("  conv %d forward:  %s\n", i, c.ForwardHistory())
		fmt.Printf("  conv %d backward: %s\n", i, c.BackwardHistory())
	}
}
