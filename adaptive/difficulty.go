package adaptive

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudghosh/CIL-CBT-APP-sub001/db"
	"github.com/sudghosh/CIL-CBT-APP-sub001/models"
	"github.com/sudghosh/CIL-CBT-APP-sub001/utils"
)

const (
	// Difficulty is tracked on a 0-10 scale; new records start at the midpoint.
	DifficultyMin     = 0.0
	DifficultyMax     = 10.0
	DifficultyDefault = 5.0

	// A record stops calibrating once it has this many attempts
	// (revised down from 5; overridable via the settings table).
	defaultRecordAttempts = 3
)

// ExpectedCorrect returns the probability that the user answers a question
// of the given personal difficulty correctly. Sigmoid centered on the
// midpoint of the 0-10 scale.
func ExpectedCorrect(difficulty float64) float64 {
	x := (DifficultyDefault - difficulty) / 1.25
	return 1.0 / (1.0 + math.Exp(-x))
}

// KFactor returns the adjustment strength for a record with the given
// attempt count. Fresh records converge fast, mature records stay stable.
func KFactor(attempts int) float64 {
	if attempts < 3 {
		return 3.0
	}
	if attempts < 10 {
		return 1.5
	}
	return 0.75
}

// NextDifficulty computes the updated numeric difficulty after an answer.
// A correct answer lowers difficulty, a wrong one raises it, each by an
// amount proportional to how surprising the outcome was.
func NextDifficulty(current float64, correct bool, attempts int) float64 {
	expected := ExpectedCorrect(current)

	outcome := 0.0
	if correct {
		outcome = 1.0
	}

	next := current + KFactor(attempts)*(expected-outcome)
	return utils.Clamp(next, DifficultyMin, DifficultyMax)
}

// LevelForDifficulty maps a numeric difficulty to its discrete level.
func LevelForDifficulty(d float64) string {
	switch {
	case d < 4.0:
		return models.LevelEasy
	case d <= 7.0:
		return models.LevelMedium
	default:
		return models.LevelHard
	}
}

// RunningAverage folds one more observation into an average over n-1 prior
// observations.
func RunningAverage(avg float64, n int, value float64) float64 {
	if n <= 1 {
		return value
	}
	return (avg*float64(n-1) + value) / float64(n)
}

// GetOrCreateRecord returns the difficulty record for (userID, questionID),
// creating it with defaults on first sight.
func GetOrCreateRecord(ctx context.Context, pool *pgxpool.Pool, userID, questionID int) (*models.UserQuestionDifficulty, error) {
	rec := &models.UserQuestionDifficulty{}
	err := pool.QueryRow(ctx, `
		INSERT INTO user_question_difficulties (user_id, question_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, question_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, question_id, numeric_difficulty, difficulty_level,
			confidence, attempts, correct_answers, avg_time_seconds, is_calibrating
	`, userID, questionID).Scan(
		&rec.ID, &rec.UserID, &rec.QuestionID, &rec.NumericDifficulty, &rec.DifficultyLevel,
		&rec.Confidence, &rec.Attempts, &rec.CorrectAnswers, &rec.AvgTimeSeconds, &rec.IsCalibrating,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create difficulty record for user %d, question %d: %w", userID, questionID, err)
	}
	return rec, nil
}

// RecordAnswer folds one answer into the difficulty record: attempts and
// correct counts, running response-time average, the difficulty update, and
// the one-way is_calibrating flip once the attempt threshold is reached.
func RecordAnswer(ctx context.Context, pool *pgxpool.Pool, userID, questionID int, correct bool, timeSeconds float64) (*models.UserQuestionDifficulty, error) {
	threshold := db.GetSettingInt(pool, "calibration_record_attempts", defaultRecordAttempts)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec := &models.UserQuestionDifficulty{}
	err = tx.QueryRow(ctx, `
		INSERT INTO user_question_difficulties (user_id, question_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, question_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, numeric_difficulty, attempts, correct_answers, avg_time_seconds, is_calibrating
	`, userID, questionID).Scan(
		&rec.ID, &rec.NumericDifficulty, &rec.Attempts, &rec.CorrectAnswers, &rec.AvgTimeSeconds, &rec.IsCalibrating,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock difficulty record for user %d, question %d: %w", userID, questionID, err)
	}

	rec.UserID = userID
	rec.QuestionID = questionID
	rec.Attempts++
	if correct {
		rec.CorrectAnswers++
	}
	rec.AvgTimeSeconds = RunningAverage(rec.AvgTimeSeconds, rec.Attempts, timeSeconds)
	rec.NumericDifficulty = NextDifficulty(rec.NumericDifficulty, correct, rec.Attempts-1)
	rec.DifficultyLevel = LevelForDifficulty(rec.NumericDifficulty)
	if rec.IsCalibrating && rec.Attempts >= threshold {
		rec.IsCalibrating = false
	}
	conf := utils.Clamp(float64(rec.Attempts)/10.0, 0, 1)
	rec.Confidence = &conf

	_, err = tx.Exec(ctx, `
		UPDATE user_question_difficulties SET
			numeric_difficulty = $1,
			difficulty_level = $2,
			confidence = $3,
			attempts = $4,
			correct_answers = $5,
			avg_time_seconds = $6,
			is_calibrating = $7
		WHERE id = $8
	`, rec.NumericDifficulty, rec.DifficultyLevel, conf, rec.Attempts, rec.CorrectAnswers,
		rec.AvgTimeSeconds, rec.IsCalibrating, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update difficulty record %d: %w", rec.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit difficulty update: %w", err)
	}
	return rec, nil
}
