package adaptive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudghosh/CIL-CBT-APP-sub001/db"
	"github.com/sudghosh/CIL-CBT-APP-sub001/models"
)

// Default user-level calibration thresholds. Both are policy values, not
// derived; overridable via the settings table.
const (
	defaultUserAttempted  = 8
	defaultUserCalibrated = 3
)

// IsUserCalibrated applies the calibration rule: enough questions attempted
// AND enough individual records calibrated.
func IsUserCalibrated(totalAttempted, calibratedCount, reqAttempted, reqCalibrated int) bool {
	return totalAttempted >= reqAttempted && calibratedCount >= reqCalibrated
}

// ProgressPercentage blends attempt progress and record-calibration
// progress equally, capped at 100. A threshold of zero or less counts as
// already met so tuned-down settings never divide by zero.
func ProgressPercentage(totalAttempted, calibratedCount, reqAttempted, reqCalibrated int) float64 {
	return (progressPart(totalAttempted, reqAttempted) + progressPart(calibratedCount, reqCalibrated)) * 50.0
}

func progressPart(have, want int) float64 {
	if want <= 0 || have >= want {
		return 1
	}
	return float64(have) / float64(want)
}

// StatusLabel names the calibration state for API consumers.
func StatusLabel(totalAttempted int, isCalibrated bool) string {
	switch {
	case isCalibrated:
		return "calibrated"
	case totalAttempted > 0:
		return "calibrating"
	default:
		return "not_started"
	}
}

func buildStatus(attempted, calibrated, reqAttempted, reqCalibrated int) models.CalibrationStatus {
	done := IsUserCalibrated(attempted, calibrated, reqAttempted, reqCalibrated)
	return models.CalibrationStatus{
		TotalAttempted:     attempted,
		CalibratedCount:    calibrated,
		CalibratingCount:   attempted - calibrated,
		ProgressPercentage: ProgressPercentage(attempted, calibrated, reqAttempted, reqCalibrated),
		IsCalibrated:       done,
		StatusLabel:        StatusLabel(attempted, done),
	}
}

// StatusForUser aggregates the user's difficulty records into an overall
// calibration status. A user with no records gets a zero-progress status,
// not an error.
func StatusForUser(ctx context.Context, pool *pgxpool.Pool, userID int) (models.CalibrationStatus, error) {
	reqAttempted := db.GetSettingInt(pool, "calibration_user_attempted", defaultUserAttempted)
	reqCalibrated := db.GetSettingInt(pool, "calibration_user_calibrated", defaultUserCalibrated)

	var attempted, calibrated int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT is_calibrating)
		FROM user_question_difficulties
		WHERE user_id = $1
	`, userID).Scan(&attempted, &calibrated)
	if err != nil {
		return models.CalibrationStatus{}, fmt.Errorf("failed to query calibration status for user %d: %w", userID, err)
	}

	return buildStatus(attempted, calibrated, reqAttempted, reqCalibrated), nil
}

// DetailsForUser returns the overall status plus a per-difficulty-bucket
// breakdown with the same shape. Buckets with no records report
// zero-progress.
func DetailsForUser(ctx context.Context, pool *pgxpool.Pool, userID int) (models.CalibrationDetails, error) {
	overall, err := StatusForUser(ctx, pool, userID)
	if err != nil {
		return models.CalibrationDetails{}, err
	}

	reqAttempted := db.GetSettingInt(pool, "calibration_user_attempted", defaultUserAttempted)
	reqCalibrated := db.GetSettingInt(pool, "calibration_user_calibrated", defaultUserCalibrated)

	buckets := map[string]models.CalibrationStatus{
		models.LevelEasy:   buildStatus(0, 0, reqAttempted, reqCalibrated),
		models.LevelMedium: buildStatus(0, 0, reqAttempted, reqCalibrated),
		models.LevelHard:   buildStatus(0, 0, reqAttempted, reqCalibrated),
	}

	rows, err := pool.Query(ctx, `
		SELECT difficulty_level, COUNT(*), COUNT(*) FILTER (WHERE NOT is_calibrating)
		FROM user_question_difficulties
		WHERE user_id = $1
		GROUP BY difficulty_level
	`, userID)
	if err != nil {
		return models.CalibrationDetails{}, fmt.Errorf("failed to query calibration details for user %d: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var level string
		var attempted, calibrated int
		if err := rows.Scan(&level, &attempted, &calibrated); err != nil {
			return models.CalibrationDetails{}, fmt.Errorf("failed to scan calibration bucket row: %w", err)
		}
		buckets[level] = buildStatus(attempted, calibrated, reqAttempted, reqCalibrated)
	}

	return models.CalibrationDetails{Overall: overall, Buckets: buckets}, nil
}

// WeakestBucket returns the difficulty level the user performs worst in,
// judged by accuracy over calibrated records. Falls back to Medium when the
// user has no answer history.
func WeakestBucket(ctx context.Context, pool *pgxpool.Pool, userID int) (string, error) {
	rows, err := pool.Query(ctx, `
		SELECT difficulty_level,
			SUM(correct_answers)::float / NULLIF(SUM(attempts), 0) AS accuracy
		FROM user_question_difficulties
		WHERE user_id = $1 AND attempts > 0
		GROUP BY difficulty_level
	`, userID)
	if err != nil {
		return "", fmt.Errorf("failed to query weakest bucket for user %d: %w", userID, err)
	}
	defer rows.Close()

	weakest := models.LevelMedium
	lowest := 2.0 // above any real accuracy
	for rows.Next() {
		var level string
		var accuracy *float64
		if err := rows.Scan(&level, &accuracy); err != nil {
			return "", fmt.Errorf("failed to scan bucket accuracy row: %w", err)
		}
		if accuracy != nil && *accuracy < lowest {
			lowest = *accuracy
			weakest = level
		}
	}
	return weakest, nil
}
