package core

import "math"

const (
	// DefaultWeightKg is assumed when the user has no weight sample on file.
	DefaultWeightKg = 70.0

	// Model assumption: roughly 100 steps per minute of walking.
	stepsPerMinute = 100.0

	// Calories burned per step per kilogram of body weight.
	caloriesPerStepKg = 0.0005
)

// CalculateWalkingMetrics derives elapsed walking time (minutes) and a
// calorie estimate from a step count. Pure function, no I/O. Non-positive
// step counts yield zero metrics, never negative values and never an error.
func CalculateWalkingMetrics(steps int, weightKg float64) WalkingMetrics {
	if steps <= 0 {
		return WalkingMetrics{}
	}
	if weightKg <= 0 {
		weightKg = DefaultWeightKg
	}

	return WalkingMetrics{
		Steps:       steps,
		WalkingTime: int(math.Round(float64(steps) / stepsPerMinute)),
		Calories:    int(math.Round(float64(steps) * weightKg * caloriesPerStepKg)),
	}
}

// WeightFromRecords picks the weight sample to feed the calculator: the
// first record in the given order that carries a weight, or the default.
//
// Deliberately "first match in given order", not max-by-timestamp: the
// collection is handed over newest-first and this lookup trusts that
// ordering instead of re-sorting.
func WeightFromRecords(records []HealthRecord) float64 {
	for i := range records {
		if records[i].WeightKg != nil && *records[i].WeightKg > 0 {
			return *records[i].WeightKg
		}
	}
	return DefaultWeightKg
}
