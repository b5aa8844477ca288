package analytics

import (
	"math"
	"reflect"
	"testing"

	"github.com/sudghosh/CIL-CBT-APP-sub001/models"
)

func profile(topic, level string, correct bool, seconds float64) models.UserPerformanceProfile {
	return models.UserPerformanceProfile{
		Topic:           topic,
		DifficultyLevel: level,
		IsCorrect:       correct,
		ResponseSeconds: seconds,
	}
}

func TestSummarizeProfilesBuckets(t *testing.T) {
	profiles := []models.UserPerformanceProfile{
		profile("Algebra", models.LevelEasy, true, 10),
		profile("Algebra", models.LevelEasy, false, 20),
		profile("Geometry", models.LevelMedium, true, 30),
		profile("Geometry", models.LevelHard, false, 40),
	}

	overall, topics := SummarizeProfiles(7, profiles)

	if overall.TotalAnswered != 4 || overall.TotalCorrect != 2 {
		t.Fatalf("overall = %d/%d, want 2/4", overall.TotalCorrect, overall.TotalAnswered)
	}
	if overall.AccuracyPercent != 50.0 {
		t.Fatalf("accuracy = %.1f, want 50", overall.AccuracyPercent)
	}
	if overall.AvgResponseSeconds != 25.0 {
		t.Fatalf("avg seconds = %.1f, want 25", overall.AvgResponseSeconds)
	}
	if overall.EasyAnswered != 2 || overall.EasyCorrect != 1 {
		t.Fatalf("easy bucket = %d/%d, want 1/2", overall.EasyCorrect, overall.EasyAnswered)
	}
	if overall.MediumAnswered != 1 || overall.MediumCorrect != 1 {
		t.Fatalf("medium bucket = %d/%d, want 1/1", overall.MediumCorrect, overall.MediumAnswered)
	}
	if overall.HardAnswered != 1 || overall.HardCorrect != 0 {
		t.Fatalf("hard bucket = %d/%d, want 0/1", overall.HardCorrect, overall.HardAnswered)
	}

	algebra := topics["Algebra"]
	if algebra.TotalAnswered != 2 || algebra.TotalCorrect != 1 || algebra.AccuracyPercent != 50.0 {
		t.Fatalf("algebra topic summary wrong: %+v", algebra)
	}
	if algebra.AvgResponseSeconds != 15.0 {
		t.Fatalf("algebra avg seconds = %.1f, want 15", algebra.AvgResponseSeconds)
	}
	if topics["Geometry"].TotalAnswered != 2 {
		t.Fatalf("geometry topic summary wrong: %+v", topics["Geometry"])
	}
}

func TestSummarizeProfilesEmpty(t *testing.T) {
	overall, topics := SummarizeProfiles(3, nil)
	if overall.TotalAnswered != 0 || overall.AccuracyPercent != 0 || overall.AvgResponseSeconds != 0 {
		t.Fatalf("empty history should produce a zero summary: %+v", overall)
	}
	if len(topics) != 0 {
		t.Fatalf("empty history should produce no topic summaries: %v", topics)
	}
}

func TestSummarizeProfilesDeterministic(t *testing.T) {
	// Recomputation from the same rows must yield identical summaries;
	// this is what makes the aggregator safe to re-run.
	profiles := []models.UserPerformanceProfile{
		profile("Logic", models.LevelMedium, true, 12),
		profile("Logic", models.LevelHard, false, 45),
		profile("Reading", models.LevelEasy, true, 8),
	}

	overall1, topics1 := SummarizeProfiles(1, profiles)
	overall2, topics2 := SummarizeProfiles(1, profiles)

	if !reflect.DeepEqual(overall1, overall2) {
		t.Fatalf("overall summaries differ between runs: %+v vs %+v", overall1, overall2)
	}
	if !reflect.DeepEqual(topics1, topics2) {
		t.Fatalf("topic summaries differ between runs")
	}
}

func TestDifficultyFromSuccessRate(t *testing.T) {
	cases := []struct {
		rate float64
		want float64
	}{
		{1.0, 0.0},
		{0.0, 10.0},
		{0.5, 5.0},
		{0.75, 2.5},
	}
	for _, tc := range cases {
		if got := DifficultyFromSuccessRate(tc.rate); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("DifficultyFromSuccessRate(%.2f) = %.2f, want %.2f", tc.rate, got, tc.want)
		}
	}
}
