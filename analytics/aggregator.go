package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudghosh/CIL-CBT-APP-sub001/models"
)

// ErrAttemptNotFound is returned when the attempt to aggregate does not exist.
var ErrAttemptNotFound = errors.New("attempt not found")

// SummarizeProfiles folds answer records into the overall and per-topic
// summary shapes. Pure recomputation: feeding it the same rows always
// produces the same summaries.
func SummarizeProfiles(userID int, profiles []models.UserPerformanceProfile) (models.UserOverallSummary, map[string]models.UserTopicSummary) {
	overall := models.UserOverallSummary{UserID: userID}
	topics := make(map[string]models.UserTopicSummary)

	totalSeconds := 0.0
	topicSeconds := make(map[string]float64)

	for _, p := range profiles {
		overall.TotalAnswered++
		totalSeconds += p.ResponseSeconds
		if p.IsCorrect {
			overall.TotalCorrect++
		}

		switch p.DifficultyLevel {
		case models.LevelEasy:
			overall.EasyAnswered++
			if p.IsCorrect {
				overall.EasyCorrect++
			}
		case models.LevelMedium:
			overall.MediumAnswered++
			if p.IsCorrect {
				overall.MediumCorrect++
			}
		case models.LevelHard:
			overall.HardAnswered++
			if p.IsCorrect {
				overall.HardCorrect++
			}
		}

		ts := topics[p.Topic]
		ts.UserID = userID
		ts.Topic = p.Topic
		ts.TotalAnswered++
		if p.IsCorrect {
			ts.TotalCorrect++
		}
		topicSeconds[p.Topic] += p.ResponseSeconds
		topics[p.Topic] = ts
	}

	if overall.TotalAnswered > 0 {
		overall.AccuracyPercent = float64(overall.TotalCorrect) / float64(overall.TotalAnswered) * 100.0
		overall.AvgResponseSeconds = totalSeconds / float64(overall.TotalAnswered)
	}
	for topic, ts := range topics {
		ts.AccuracyPercent = float64(ts.TotalCorrect) / float64(ts.TotalAnswered) * 100.0
		ts.AvgResponseSeconds = topicSeconds[topic] / float64(ts.TotalAnswered)
		topics[topic] = ts
	}

	return overall, topics
}

// Aggregate recomputes the attempt owner's summaries from their full answer
// history and overwrites the summary rows. Running it twice for the same
// state is a no-op, so retries and sweeps can call it freely.
func Aggregate(ctx context.Context, pool *pgxpool.Pool, attemptID int) error {
	var userID int
	err := pool.QueryRow(ctx, `
		SELECT user_id FROM test_attempts WHERE id = $1
	`, attemptID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAttemptNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to resolve owner of attempt %d: %w", attemptID, err)
	}
	return aggregateUser(ctx, pool, userID)
}

func aggregateUser(ctx context.Context, pool *pgxpool.Pool, userID int) error {
	rows, err := pool.Query(ctx, `
		SELECT is_correct, response_seconds, topic, difficulty_level
		FROM user_performance_profiles
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to load answer history for user %d: %w", userID, err)
	}
	defer rows.Close()

	var profiles []models.UserPerformanceProfile
	for rows.Next() {
		var p models.UserPerformanceProfile
		if err := rows.Scan(&p.IsCorrect, &p.ResponseSeconds, &p.Topic, &p.DifficultyLevel); err != nil {
			return fmt.Errorf("failed to scan answer record: %w", err)
		}
		profiles = append(profiles, p)
	}

	overall, topics := SummarizeProfiles(userID, profiles)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO user_overall_summaries
			(user_id, total_answered, total_correct, accuracy_percent, avg_response_seconds,
			 easy_answered, easy_correct, medium_answered, medium_correct, hard_answered, hard_correct,
			 updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE SET
			total_answered = EXCLUDED.total_answered,
			total_correct = EXCLUDED.total_correct,
			accuracy_percent = EXCLUDED.accuracy_percent,
			avg_response_seconds = EXCLUDED.avg_response_seconds,
			easy_answered = EXCLUDED.easy_answered,
			easy_correct = EXCLUDED.easy_correct,
			medium_answered = EXCLUDED.medium_answered,
			medium_correct = EXCLUDED.medium_correct,
			hard_answered = EXCLUDED.hard_answered,
			hard_correct = EXCLUDED.hard_correct,
			updated_at = CURRENT_TIMESTAMP
	`, overall.UserID, overall.TotalAnswered, overall.TotalCorrect, overall.AccuracyPercent,
		overall.AvgResponseSeconds, overall.EasyAnswered, overall.EasyCorrect,
		overall.MediumAnswered, overall.MediumCorrect, overall.HardAnswered, overall.HardCorrect)
	if err != nil {
		return fmt.Errorf("failed to upsert overall summary for user %d: %w", userID, err)
	}

	// Topics the user no longer has rows for (history trimmed) go away so
	// the summaries always mirror the recomputation.
	_, err = tx.Exec(ctx, `
		DELETE FROM user_topic_summaries
		WHERE user_id = $1 AND topic NOT IN (
			SELECT DISTINCT topic FROM user_performance_profiles WHERE user_id = $1
		)
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to prune topic summaries for user %d: %w", userID, err)
	}

	for _, ts := range topics {
		_, err = tx.Exec(ctx, `
			INSERT INTO user_topic_summaries
				(user_id, topic, total_answered, total_correct, accuracy_percent, avg_response_seconds, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
			ON CONFLICT (user_id, topic) DO UPDATE SET
				total_answered = EXCLUDED.total_answered,
				total_correct = EXCLUDED.total_correct,
				accuracy_percent = EXCLUDED.accuracy_percent,
				avg_response_seconds = EXCLUDED.avg_response_seconds,
				updated_at = CURRENT_TIMESTAMP
		`, ts.UserID, ts.Topic, ts.TotalAnswered, ts.TotalCorrect, ts.AccuracyPercent, ts.AvgResponseSeconds)
		if err != nil {
			return fmt.Errorf("failed to upsert topic summary %s for user %d: %w", ts.Topic, userID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit summaries for user %d: %w", userID, err)
	}
	return nil
}

// AggregateAll rebuilds summaries for every user with recorded answers.
// Admin backfill path; per-user failures are logged and skipped so one bad
// row never aborts the batch.
func AggregateAll(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	rows, err := pool.Query(ctx, `
		SELECT DISTINCT user_id FROM user_performance_profiles
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to list users with answer history: %w", err)
	}
	defer rows.Close()

	var userIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	done := 0
	for _, userID := range userIDs {
		if err := aggregateUser(ctx, pool, userID); err != nil {
			log.Printf("ERROR: Failed to aggregate performance for user %d: %v", userID, err)
			continue
		}
		done++
	}
	log.Printf("Performance backfill: aggregated %d of %d user(s)", done, len(userIDs))
	return done, nil
}

// OverallForUser reads the summary row, returning a zero-valued summary for
// users who have not answered anything yet.
func OverallForUser(ctx context.Context, pool *pgxpool.Pool, userID int) (models.UserOverallSummary, error) {
	s := models.UserOverallSummary{UserID: userID}
	err := pool.QueryRow(ctx, `
		SELECT total_answered, total_correct, accuracy_percent, avg_response_seconds,
			easy_answered, easy_correct, medium_answered, medium_correct,
			hard_answered, hard_correct, updated_at
		FROM user_overall_summaries
		WHERE user_id = $1
	`, userID).Scan(&s.TotalAnswered, &s.TotalCorrect, &s.AccuracyPercent, &s.AvgResponseSeconds,
		&s.EasyAnswered, &s.EasyCorrect, &s.MediumAnswered, &s.MediumCorrect,
		&s.HardAnswered, &s.HardCorrect, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserOverallSummary{UserID: userID}, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to load overall summary for user %d: %w", userID, err)
	}
	return s, nil
}

// TopicsForUser reads the per-topic summary rows, empty slice when none.
func TopicsForUser(ctx context.Context, pool *pgxpool.Pool, userID int) ([]models.UserTopicSummary, error) {
	rows, err := pool.Query(ctx, `
		SELECT topic, total_answered, total_correct, accuracy_percent, avg_response_seconds, updated_at
		FROM user_topic_summaries
		WHERE user_id = $1
		ORDER BY topic
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load topic summaries for user %d: %w", userID, err)
	}
	defer rows.Close()

	summaries := []models.UserTopicSummary{}
	for rows.Next() {
		s := models.UserTopicSummary{UserID: userID}
		if err := rows.Scan(&s.Topic, &s.TotalAnswered, &s.TotalCorrect, &s.AccuracyPercent,
			&s.AvgResponseSeconds, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan topic summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
