package analytics

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudghosh/CIL-CBT-APP-sub001/utils"
)

// DifficultyFromSuccessRate maps an observed success rate onto the 0-10
// difficulty scale: a question everyone gets right scores 0, one nobody
// gets right scores 10.
func DifficultyFromSuccessRate(rate float64) float64 {
	return utils.Clamp(10.0*(1.0-rate), 0, 10)
}

// RefreshQuestionMetrics recomputes each question's observed success rate,
// average completion time, and crowd difficulty from the answer records.
// Questions nobody has answered keep their seeded values. Runs on a timer
// and is safe to re-run at any time.
func RefreshQuestionMetrics(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	rows, err := pool.Query(ctx, `
		SELECT question_id,
			COUNT(*) FILTER (WHERE is_correct)::float / COUNT(*),
			AVG(response_seconds)
		FROM user_performance_profiles
		GROUP BY question_id
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to compute question metrics: %w", err)
	}
	defer rows.Close()

	type metric struct {
		questionID  int
		successRate float64
		avgSeconds  float64
	}
	var metrics []metric
	for rows.Next() {
		var m metric
		if err := rows.Scan(&m.questionID, &m.successRate, &m.avgSeconds); err != nil {
			return 0, fmt.Errorf("failed to scan question metric: %w", err)
		}
		metrics = append(metrics, m)
	}

	updated := 0
	for _, m := range metrics {
		_, err := pool.Exec(ctx, `
			UPDATE questions SET
				success_rate = $1,
				average_completion_time = $2,
				numeric_difficulty = $3,
				metrics_calculated_at = CURRENT_TIMESTAMP
			WHERE id = $4
		`, m.successRate, m.avgSeconds, DifficultyFromSuccessRate(m.successRate), m.questionID)
		if err != nil {
			log.Printf("ERROR: Failed to refresh metrics for question %d: %v", m.questionID, err)
			continue
		}
		updated++
	}

	if updated > 0 {
		log.Printf("Question metrics refresh: updated %d question(s)", updated)
	}
	return updated, nil
}
