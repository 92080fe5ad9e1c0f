package training

import (
	"strconv"
	"strings"
)

type Hyperparams struct {
	Steps        int
	LearningRate float64
	LoraRank     int
	Optimizer    string
	Resolution   string
	BatchSize    int
}

func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		Steps:        1000,
		LearningRate: 0.0004,
		LoraRank:     16,
		Optimizer:    "adamw8bit",
		Resolution:   "512",
		BatchSize:    1,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampHyperparams forces every numeric parameter into its safe range.
// Resolution is only parsed, not clamped; the optimizer name is lowercased.
// The function is pure and idempotent.
func ClampHyperparams(p Hyperparams) Hyperparams {
	defaults := DefaultHyperparams()

	if p.Steps == 0 {
		p.Steps = defaults.Steps
	}
	if p.LearningRate == 0 {
		p.LearningRate = defaults.LearningRate
	}
	if p.LoraRank == 0 {
		p.LoraRank = defaults.LoraRank
	}
	if p.BatchSize == 0 {
		p.BatchSize = defaults.BatchSize
	}
	if p.Optimizer == "" {
		p.Optimizer = defaults.Optimizer
	}
	if p.Resolution == "" {
		p.Resolution = defaults.Resolution
	}

	p.Steps = clampInt(p.Steps, 100, 2000)
	p.LearningRate = clampFloat(p.LearningRate, 0.0001, 0.001)
	p.LoraRank = clampInt(p.LoraRank, 4, 64)
	p.BatchSize = clampInt(p.BatchSize, 1, 4)
	p.Optimizer = strings.ToLower(p.Optimizer)

	if res, err := strconv.Atoi(strings.TrimSpace(p.Resolution)); err != nil {
		p.Resolution = defaults.Resolution
	} else {
		p.Resolution = strconv.Itoa(res)
	}

	return p
}
