package adaptive

import (
	"math/rand"
	"testing"

	"github.com/sudghosh/CIL-CBT-APP-sub001/models"
)

func makePool(easy, medium, hard int) []candidate {
	var pool []candidate
	id := 1
	add := func(n int, level string) {
		for i := 0; i < n; i++ {
			pool = append(pool, candidate{ID: id, Level: level})
			id++
		}
	}
	add(easy, models.LevelEasy)
	add(medium, models.LevelMedium)
	add(hard, models.LevelHard)
	return pool
}

func assertUnique(t *testing.T, ids []int) {
	t.Helper()
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate question id %d in selection %v", id, ids)
		}
		seen[id] = true
	}
}

func TestPickQuestionsNoDuplicates(t *testing.T) {
	pool := makePool(10, 10, 10)
	r := rand.New(rand.NewSource(1))

	for _, strategy := range []string{models.StrategyBalanced, models.StrategyAdaptive, models.StrategyRandom} {
		weights := StrategyWeights(strategy, models.LevelHard, bucketCounts(pool))
		ids := pickQuestions(append([]candidate(nil), pool...), 12, weights, r)
		assertUnique(t, ids)
		if len(ids) != 12 {
			t.Fatalf("strategy %s: got %d questions, want 12", strategy, len(ids))
		}
	}
}

func TestPickQuestionsShortPool(t *testing.T) {
	// Pool of 3, requested 10: return exactly the pool, no error.
	pool := makePool(1, 1, 1)
	r := rand.New(rand.NewSource(7))
	weights := StrategyWeights(models.StrategyBalanced, "", bucketCounts(pool))

	ids := pickQuestions(pool, 10, weights, r)
	assertUnique(t, ids)
	if len(ids) != 3 {
		t.Fatalf("short pool selection length = %d, want 3", len(ids))
	}
}

func TestPickQuestionsEmptyPool(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	ids := pickQuestions(nil, 5, nil, r)
	if len(ids) != 0 {
		t.Fatalf("empty pool should yield empty selection, got %v", ids)
	}
}

func TestAllocateBucketsRespectsAvailability(t *testing.T) {
	avail := map[string]int{
		models.LevelEasy:   2,
		models.LevelMedium: 8,
		models.LevelHard:   1,
	}
	weights := map[string]float64{
		models.LevelEasy:   0.4,
		models.LevelMedium: 0.2,
		models.LevelHard:   0.4,
	}

	targets := AllocateBuckets(10, avail, weights)
	total := 0
	for level, n := range targets {
		if n > avail[level] {
			t.Fatalf("bucket %s allocated %d but only %d available", level, n, avail[level])
		}
		total += n
	}
	if total != 10 {
		t.Fatalf("total allocated = %d, want 10 (pool has 11)", total)
	}
}

func TestAllocateBucketsNeverOverCount(t *testing.T) {
	avail := map[string]int{
		models.LevelEasy:   100,
		models.LevelMedium: 100,
		models.LevelHard:   100,
	}
	weights := map[string]float64{
		models.LevelEasy:   0.5,
		models.LevelMedium: 0.5,
		models.LevelHard:   0.5,
	}

	targets := AllocateBuckets(9, avail, weights)
	total := 0
	for _, n := range targets {
		total += n
	}
	if total != 9 {
		t.Fatalf("oversubscribed weights allocated %d, want 9", total)
	}
}

func TestStrategyWeightsAdaptiveFavorsWeakBucket(t *testing.T) {
	avail := map[string]int{
		models.LevelEasy:   10,
		models.LevelMedium: 10,
		models.LevelHard:   10,
	}
	weights := StrategyWeights(models.StrategyAdaptive, models.LevelHard, avail)
	if weights[models.LevelHard] <= weights[models.LevelEasy] {
		t.Fatalf("adaptive strategy should favor the weak bucket: %v", weights)
	}
}

func TestStrategyWeightsBalancedMatchesPool(t *testing.T) {
	avail := map[string]int{
		models.LevelEasy:   6,
		models.LevelMedium: 3,
		models.LevelHard:   1,
	}
	weights := StrategyWeights(models.StrategyBalanced, "", avail)
	if weights[models.LevelEasy] != 0.6 || weights[models.LevelMedium] != 0.3 || weights[models.LevelHard] != 0.1 {
		t.Fatalf("balanced weights should mirror pool composition: %v", weights)
	}
}
