package economy

import (
	"testing"
	"time"

	"gridsnakes/server/storage"
)

func TestComputeV1ReferenceValues(t *testing.T) {
	in := Inputs{
		Params: storage.EconomyParams{
			KLand:         24,
			AProductivity: 1.0,
			VVelocity:     2.0,
		},
		SumMi:       100,
		MG:          400,
		DeltaMIssue: 50,
		CapDeltaM:   30,
		DeltaMBuy:   5,
		KSnakes:     10,
		DeltaKObs:   0,
	}

	out := ComputeV1(in, "2025010112")

	if out.M != 500 {
		t.Fatalf("M = %d, want 500", out.M)
	}
	if out.DeltaM != 35 {
		t.Fatalf("DeltaM = %d, want 35", out.DeltaM)
	}
	if out.K != 10 {
		t.Fatalf("K = %d, want 10", out.K)
	}
	if out.Y != 10.0 {
		t.Fatalf("Y = %v, want 10", out.Y)
	}
	if out.P != 100.0 {
		t.Fatalf("P = %v, want 100", out.P)
	}
	if out.PClamped != 5.0 {
		t.Fatalf("PClamped = %v, want 5", out.PClamped)
	}
	if out.Pi != 0.07 {
		t.Fatalf("Pi = %v, want 0.07", out.Pi)
	}
	if out.AWorld != 12000 {
		t.Fatalf("AWorld = %d, want 12000", out.AWorld)
	}
	if out.MWhite != 11990 {
		t.Fatalf("MWhite = %d, want 11990", out.MWhite)
	}
	if out.PeriodKey != "2025010112" {
		t.Fatalf("PeriodKey = %q", out.PeriodKey)
	}
}

func TestComputeV1IsPure(t *testing.T) {
	in := Inputs{
		Params:      storage.DefaultEconomyParams(),
		SumMi:       1234,
		MG:          400,
		DeltaMBuy:   17,
		DeltaMIssue: 9,
		CapDeltaM:   5000,
		KSnakes:     88,
	}
	first := ComputeV1(in, "2025060608")
	second := ComputeV1(in, "2025060608")
	if first != second {
		t.Fatalf("identical inputs must give identical outputs:\n%+v\n%+v", first, second)
	}
}

func TestComputeV1ZeroDenominators(t *testing.T) {
	out := ComputeV1(Inputs{}, "x")
	if out.P != 0 {
		t.Fatalf("zero output must not divide by zero: P=%v", out.P)
	}
	if out.Pi != 0 {
		t.Fatalf("zero money must not divide by zero: Pi=%v", out.Pi)
	}
	if out.PClamped != 0.2 {
		t.Fatalf("P clamps to the floor, got %v", out.PClamped)
	}
	if out.MWhite != 0 {
		t.Fatalf("free space floors at zero, got %d", out.MWhite)
	}
}

func TestComputeV1PriceClampFloor(t *testing.T) {
	in := Inputs{
		Params:  storage.EconomyParams{AProductivity: 1.0, VVelocity: 1.0},
		SumMi:   1,
		KSnakes: 1000,
	}
	out := ComputeV1(in, "x")
	if out.PClamped != 0.2 {
		t.Fatalf("low prices clamp to 0.2, got %v", out.PClamped)
	}
}

func TestPeriodKeyIsUTCHourly(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	local := time.Date(2025, time.March, 1, 2, 30, 0, 0, loc)
	if got := PeriodKey(local); got != "2025022817" {
		t.Fatalf("PeriodKey must use UTC: got %q", got)
	}
	utc := time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC)
	if got := PeriodKey(utc); got != "2025123123" {
		t.Fatalf("PeriodKey(%v) = %q", utc, got)
	}
}
