package script

import (
	"math"

	"github.com/JcJet/jds6600-controller/internal/models"
)

// CycleRangeCount returns how many frequencies an inclusive range visits.
// Computed arithmetically; ranges are never materialized.
func CycleRangeCount(r models.CycleRange) int {
	span := math.Abs(r.EndHz - r.StartHz)
	step := math.Abs(r.StepHz)
	if step == 0 {
		return 1
	}
	return int(math.Floor(span/step+1e-12)) + 1
}

// CycleItemsCount returns the total number of frequency visits across items.
func CycleItemsCount(items []models.CycleItem) int {
	n := 0
	for _, it := range items {
		switch r := it.(type) {
		case models.CyclePoint:
			n++
		case models.CycleRange:
			n += CycleRangeCount(r)
		}
	}
	return n
}

// ModUpdates returns the number of update ticks in one sweep leg, never
// less than 1.
func ModUpdates(s models.ModStep) int {
	n := int(math.Round(s.TimeS / (s.UpdateMs / 1000.0)))
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateStepDuration returns the wall-clock seconds the step will take.
// fixedWait, when set, overrides every wait duration: unconditionally for
// plain waits, and for cycle on/off holds only where the compiled hold is
// positive. A repeating mod step returns +Inf.
func EstimateStepDuration(step models.Step, fixedWait *float64) float64 {
	switch s := step.(type) {
	case models.FreqStep, models.StopStep:
		return 0

	case models.WaitStep:
		if fixedWait != nil {
			return *fixedWait
		}
		return s.Seconds

	case models.CycleStep:
		on := s.OnWait
		if fixedWait != nil && on > 0 {
			on = *fixedWait
		}
		off := 0.0
		if s.OffWait != nil && *s.OffWait > 0 {
			off = *s.OffWait
			if fixedWait != nil {
				off = *fixedWait
			}
		}
		return float64(CycleItemsCount(s.Items)) * (on + off)

	case models.ModStep:
		if s.Repeat {
			return math.Inf(1)
		}
		legs := 1.0
		if s.Direction == models.DirRiseAndFall {
			legs = 2.0
		}
		return s.TimeS * legs
	}
	return 0
}

// EstimateRemainingRunTime sums step durations from fromIndex to the end.
// Any repeating mod step makes the total +Inf.
func EstimateRemainingRunTime(steps []models.Step, fromIndex int, fixedWait *float64) float64 {
	total := 0.0
	for i := fromIndex; i < len(steps); i++ {
		total += EstimateStepDuration(steps[i], fixedWait)
	}
	return total
}

// EstimateTotalRunTime estimates the whole sequence.
func EstimateTotalRunTime(steps []models.Step, fixedWait *float64) float64 {
	return EstimateRemainingRunTime(steps, 0, fixedWait)
}

// EstimateRemainingWaitTime sums only plain wait durations from fromIndex.
// Cycle holds and sweeps are ignored. Kept for progress displays that count
// just the idle time between commands.
func EstimateRemainingWaitTime(steps []models.Step, fromIndex int, fixedWait *float64) float64 {
	total := 0.0
	for i := fromIndex; i < len(steps); i++ {
		if w, ok := steps[i].(models.WaitStep); ok {
			if fixedWait != nil {
				total += *fixedWait
			} else {
				total += w.Seconds
			}
		}
	}
	return total
}
