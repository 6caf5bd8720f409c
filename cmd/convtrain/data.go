package main

import (
	"math/rand"

	"github.com/FlavioCFOliveira/lowernet/lowernet"
)

// fillSynthetic writes a batch of size x size single-channel images into
// input and their classes into labels. Class 0 is low noise; class k > 0
// lights up quadrant k-1.
func fillSynthetic(rng *rand.Rand, input, labels *lowernet.Cube, classes int) {
	size := input.R
	for b := 0; b < input.B; b++ {
		class := rng.Intn(classes)
		labels.Data[b] = float32(class)
		for r := 0; r < size; r++ {
			for c := 0; c < input.C; c++ {
				v := rng.Float32() * 0.2
				if class > 0 && quadrant(r, c, size) == class-1 {
					v += 0.5 + rng.Float32()*0.1
				}
				input.Set(r, c, 0, b, v)
			}
		}
	}
}

func quadrant(r, c, size int) int {
	q := 0
	if r >= size/2 {
		q += 2
	}
	if c >= size/2 {
		q++
	}
	return q
}
