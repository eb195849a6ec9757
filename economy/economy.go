// Package economy evaluates the v1 macro formulas. Everything here is pure
// arithmetic over inputs the caller already holds; no storage, no clocks.
package economy

import (
	"time"

	"gridsnakes/server/storage"
)

// Inputs are the period-keyed aggregates the v1 formulas consume.
type Inputs struct {
	Params      storage.EconomyParams
	SumMi       int64 // sum of user balances
	MG          int64 // government reserve
	DeltaMBuy   int64 // purchased cells this period
	DeltaMIssue int64
	CapDeltaM   int64
	KSnakes     int64 // occupied cells by on-field alive snakes
	DeltaKObs   int64
}

// State is the derived macro state for one period.
type State struct {
	PeriodKey string
	SumMi     int64
	MG        int64
	M         int64   // money supply
	DeltaM    int64   // money growth this period
	K         int64   // effective capital
	Y         float64 // output
	P         float64 // price index
	PClamped  float64
	Pi        float64 // inflation
	AWorld    int64   // implied world area
	MWhite    int64   // free space
}

// ComputeV1 is deterministic and side-effect free: identical inputs yield
// identical outputs.
func ComputeV1(in Inputs, periodKey string) State {
	out := State{
		PeriodKey: periodKey,
		SumMi:     in.SumMi,
		MG:        in.MG,
	}

	out.M = in.SumMi + in.MG
	out.DeltaM = min64(in.CapDeltaM, in.DeltaMIssue) + in.DeltaMBuy
	out.K = in.KSnakes + in.DeltaKObs
	out.Y = in.Params.AProductivity * float64(out.K)

	denomY := out.Y
	if denomY < 1.0 {
		denomY = 1.0
	}
	out.P = (float64(out.M) * in.Params.VVelocity) / denomY
	out.PClamped = clamp(out.P, 0.2, 5.0)

	denomM := out.M
	if denomM < 1 {
		denomM = 1
	}
	out.Pi = float64(out.DeltaM) / float64(denomM)

	out.AWorld = int64(in.Params.KLand) * out.M
	out.MWhite = out.AWorld - out.K
	if out.MWhite < 0 {
		out.MWhite = 0
	}
	return out
}

// PeriodKey formats the UTC accumulation window for t as YYYYMMDDHH.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006010215")
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
