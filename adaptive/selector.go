package adaptive

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudghosh/CIL-CBT-APP-sub001/models"
)

// SelectParams scopes a personalized question selection.
type SelectParams struct {
	UserID       int
	PaperID      int
	SectionID    *int
	SubsectionID *int
	Count        int
	Strategy     string
}

// candidate is one eligible question with its effective difficulty bucket
// (the user's personal level when a record exists, the static level
// otherwise).
type candidate struct {
	ID    int
	Level string
}

// StrategyWeights returns the per-bucket weighting for a strategy.
// balanced mirrors the pool's own composition; adaptive leans on the
// user's weakest bucket; random uses no buckets at all (nil).
func StrategyWeights(strategy, weakestBucket string, avail map[string]int) map[string]float64 {
	switch strategy {
	case models.StrategyAdaptive:
		weights := map[string]float64{
			models.LevelEasy:   0.25,
			models.LevelMedium: 0.25,
			models.LevelHard:   0.25,
		}
		weights[weakestBucket] = 0.5
		return weights
	case models.StrategyBalanced:
		total := 0
		for _, n := range avail {
			total += n
		}
		if total == 0 {
			return nil
		}
		weights := make(map[string]float64, len(avail))
		for level, n := range avail {
			weights[level] = float64(n) / float64(total)
		}
		return weights
	default:
		return nil
	}
}

// AllocateBuckets turns bucket weights into per-bucket pick counts. Each
// bucket is capped by its availability; any shortfall is redistributed to
// buckets that still have spare questions. The totals never exceed count
// or the pool size.
func AllocateBuckets(count int, avail map[string]int, weights map[string]float64) map[string]int {
	levels := []string{models.LevelEasy, models.LevelMedium, models.LevelHard}
	targets := make(map[string]int, len(levels))

	allocated := 0
	for _, level := range levels {
		want := int(math.Round(float64(count) * weights[level]))
		if want > avail[level] {
			want = avail[level]
		}
		targets[level] = want
		allocated += want
	}

	// Rounding or thin buckets can leave us short; backfill from whatever
	// still has questions.
	for allocated > count {
		for _, level := range levels {
			if allocated <= count {
				break
			}
			if targets[level] > 0 {
				targets[level]--
				allocated--
			}
		}
	}
	for {
		progressed := false
		for _, level := range levels {
			if allocated >= count {
				return targets
			}
			if targets[level] < avail[level] {
				targets[level]++
				allocated++
				progressed = true
			}
		}
		if !progressed {
			return targets
		}
	}
}

// Select returns an ordered, deduplicated list of question IDs for the
// user, at most params.Count long. A pool smaller than the requested count
// yields a short result; an empty pool yields an empty list. Never errors
// for lack of questions.
func Select(ctx context.Context, pool *pgxpool.Pool, params SelectParams) ([]int, error) {
	if params.Count <= 0 {
		return []int{}, nil
	}

	rows, err := pool.Query(ctx, `
		SELECT q.id, COALESCE(d.difficulty_level, q.difficulty_level)
		FROM questions q
		LEFT JOIN user_question_difficulties d
			ON d.question_id = q.id AND d.user_id = $1
		WHERE q.paper_id = $2
			AND ($3::int IS NULL OR q.section_id = $3)
			AND ($4::int IS NULL OR q.subsection_id = $4)
	`, params.UserID, params.PaperID, params.SectionID, params.SubsectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible questions: %w", err)
	}
	defer rows.Close()

	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.ID, &c.Level); err != nil {
			return nil, fmt.Errorf("failed to scan candidate question: %w", err)
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return []int{}, nil
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	var weights map[string]float64
	if params.Strategy == models.StrategyAdaptive {
		weakest, err := WeakestBucket(ctx, pool, params.UserID)
		if err != nil {
			return nil, err
		}
		weights = StrategyWeights(params.Strategy, weakest, bucketCounts(candidates))
	} else {
		weights = StrategyWeights(params.Strategy, "", bucketCounts(candidates))
	}

	return pickQuestions(candidates, params.Count, weights, r), nil
}

func bucketCounts(candidates []candidate) map[string]int {
	counts := make(map[string]int)
	for _, c := range candidates {
		counts[c.Level]++
	}
	return counts
}

// pickQuestions draws from the candidate pool according to the bucket
// targets, then backfills from the remainder. The used-ID set guarantees
// no question appears twice in the result.
func pickQuestions(candidates []candidate, count int, weights map[string]float64, r *rand.Rand) []int {
	r.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	if count > len(candidates) {
		count = len(candidates)
	}

	selected := make([]int, 0, count)
	usedIDs := make(map[int]bool, count)

	if weights != nil {
		targets := AllocateBuckets(count, bucketCounts(candidates), weights)
		remaining := make(map[string]int, len(targets))
		for level, n := range targets {
			remaining[level] = n
		}
		for _, c := range candidates {
			if remaining[c.Level] > 0 && !usedIDs[c.ID] {
				selected = append(selected, c.ID)
				usedIDs[c.ID] = true
				remaining[c.Level]--
			}
		}
	}

	// Backfill (and the whole selection, for the random strategy).
	for _, c := range candidates {
		if len(selected) >= count {
			break
		}
		if !usedIDs[c.ID] {
			selected = append(selected, c.ID)
			usedIDs[c.ID] = true
		}
	}

	return selected
}
