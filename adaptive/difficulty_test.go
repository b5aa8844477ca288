package adaptive

import (
	"math"
	"testing"

	"github.com/sudghosh/CIL-CBT-APP-sub001/models"
)

func TestNextDifficultyDirection(t *testing.T) {
	// Repeated success must lower difficulty, repeated failure must raise it.
	d := DifficultyDefault
	for i := 0; i < 5; i++ {
		next := NextDifficulty(d, true, i)
		if next >= d {
			t.Fatalf("correct answer %d did not lower difficulty: %.3f -> %.3f", i, d, next)
		}
		d = next
	}

	d = DifficultyDefault
	for i := 0; i < 5; i++ {
		next := NextDifficulty(d, false, i)
		if next <= d {
			t.Fatalf("wrong answer %d did not raise difficulty: %.3f -> %.3f", i, d, next)
		}
		d = next
	}
}

func TestNextDifficultyClamped(t *testing.T) {
	d := DifficultyMin
	for i := 0; i < 50; i++ {
		d = NextDifficulty(d, true, i)
		if d < DifficultyMin || d > DifficultyMax {
			t.Fatalf("difficulty escaped bounds after %d correct answers: %.3f", i+1, d)
		}
	}

	d = DifficultyMax
	for i := 0; i < 50; i++ {
		d = NextDifficulty(d, false, i)
		if d < DifficultyMin || d > DifficultyMax {
			t.Fatalf("difficulty escaped bounds after %d wrong answers: %.3f", i+1, d)
		}
	}
}

func TestNextDifficultyConvergesWithAttempts(t *testing.T) {
	// A mature record should move less than a fresh one for the same outcome.
	freshDelta := math.Abs(NextDifficulty(DifficultyDefault, false, 0) - DifficultyDefault)
	matureDelta := math.Abs(NextDifficulty(DifficultyDefault, false, 50) - DifficultyDefault)
	if matureDelta >= freshDelta {
		t.Fatalf("mature record moved as much as fresh one: fresh=%.3f mature=%.3f", freshDelta, matureDelta)
	}
}

func TestExpectedCorrectMidpoint(t *testing.T) {
	p := ExpectedCorrect(DifficultyDefault)
	if math.Abs(p-0.5) > 1e-9 {
		t.Fatalf("expected 0.5 at midpoint difficulty, got %.6f", p)
	}
	if ExpectedCorrect(2.0) <= ExpectedCorrect(8.0) {
		t.Fatalf("easier questions should have higher expected accuracy")
	}
}

func TestLevelForDifficulty(t *testing.T) {
	cases := []struct {
		d    float64
		want string
	}{
		{0.0, models.LevelEasy},
		{3.9, models.LevelEasy},
		{4.0, models.LevelMedium},
		{5.0, models.LevelMedium},
		{7.0, models.LevelMedium},
		{7.1, models.LevelHard},
		{10.0, models.LevelHard},
	}
	for _, tc := range cases {
		if got := LevelForDifficulty(tc.d); got != tc.want {
			t.Errorf("LevelForDifficulty(%.1f) = %s, want %s", tc.d, got, tc.want)
		}
	}
}

func TestRunningAverage(t *testing.T) {
	avg := 0.0
	values := []float64{10, 20, 30}
	for i, v := range values {
		avg = RunningAverage(avg, i+1, v)
	}
	if math.Abs(avg-20.0) > 1e-9 {
		t.Fatalf("running average of 10,20,30 = %.3f, want 20", avg)
	}
}
