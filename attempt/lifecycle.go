package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudghosh/CIL-CBT-APP-sub001/adaptive"
	"github.com/sudghosh/CIL-CBT-APP-sub001/analytics"
	"github.com/sudghosh/CIL-CBT-APP-sub001/db"
	"github.com/sudghosh/CIL-CBT-APP-sub001/models"
	"github.com/sudghosh/CIL-CBT-APP-sub001/utils"
)

// Sentinel errors the HTTP layer maps to status codes.
var (
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrNotOwner           = errors.New("attempt belongs to another user")
	ErrAttemptFinished    = errors.New("attempt is no longer in progress")
	ErrQuestionNotInSet   = errors.New("question is not part of this attempt")
	ErrAlreadyAnswered    = errors.New("question already answered in this attempt")
	ErrTemplateNotFound   = errors.New("test template not found")
	ErrTemplateNoSections = errors.New("test template has no sections")
	ErrNoQuestions        = errors.New("no questions available for this template")
)

const defaultSweepGraceMinutes = 5

// GradeSelection grades a raw selected-option payload against the correct
// option index. Anything that is not a JSON integer in the valid option
// range counts as a wrong answer; malformed input is never an error.
func GradeSelection(raw json.RawMessage, correctIndex int) bool {
	if len(raw) == 0 {
		return false
	}
	// Unmarshal through a pointer: a JSON null leaves the target untouched
	// and must not be mistaken for option 0.
	var selected *int
	if err := json.Unmarshal(raw, &selected); err != nil || selected == nil {
		return false
	}
	if *selected < 0 || *selected > 3 {
		return false
	}
	return *selected == correctIndex
}

// Start creates a new attempt from a template: one selector pass per
// template section, then the attempt and its question order persisted in a
// single transaction. Thin sections yield fewer questions, never an error.
func Start(ctx context.Context, pool *pgxpool.Pool, userID int, req models.StartTestRequest) (*models.StartTestResponse, error) {
	var testType string
	err := pool.QueryRow(ctx, `
		SELECT test_type FROM test_templates WHERE id = $1
	`, req.TemplateID).Scan(&testType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %d: %w", req.TemplateID, err)
	}

	rows, err := pool.Query(ctx, `
		SELECT id, paper_id, section_id_ref, subsection_id, question_count
		FROM test_template_sections
		WHERE template_id = $1
		ORDER BY id
	`, req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sections for template %d: %w", req.TemplateID, err)
	}
	defer rows.Close()

	var sections []models.TestTemplateSection
	for rows.Next() {
		var s models.TestTemplateSection
		if err := rows.Scan(&s.ID, &s.PaperID, &s.SectionIDRef, &s.SubsectionID, &s.QuestionCount); err != nil {
			return nil, fmt.Errorf("failed to scan template section: %w", err)
		}
		sections = append(sections, s)
	}
	if len(sections) == 0 {
		return nil, ErrTemplateNoSections
	}

	strategy := req.Strategy
	if testType == "adaptive" && strategy == "" {
		strategy = models.StrategyAdaptive
	}

	// Select per section, reading the section FK off each joined row. A set
	// over all sections guards against a question surfacing twice when
	// scopes overlap.
	var questionIDs []int
	seen := make(map[int]bool)
	for _, s := range sections {
		sectionID := s.SectionIDRef
		ids, err := adaptive.Select(ctx, pool, adaptive.SelectParams{
			UserID:       userID,
			PaperID:      s.PaperID,
			SectionID:    &sectionID,
			SubsectionID: s.SubsectionID,
			Count:        s.QuestionCount,
			Strategy:     strategy,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to select questions for section %d: %w", s.SectionIDRef, err)
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				questionIDs = append(questionIDs, id)
			}
		}
	}

	// An attempt with nothing to answer would linger in_progress until the
	// sweep; refuse to create it.
	if len(questionIDs) == 0 {
		return nil, ErrNoQuestions
	}

	maxQuestions := req.MaxQuestions
	if testType == "adaptive" && maxQuestions == nil {
		n := len(questionIDs)
		maxQuestions = &n
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	strategyCol := utils.StringPtr(strategy)

	var attemptID int
	var startedAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO test_attempts
			(template_id, user_id, test_type, duration_minutes,
			 total_allotted_duration_minutes, max_questions, adaptive_strategy_chosen)
		VALUES ($1, $2, $3, $4, $4, $5, $6)
		RETURNING id, started_at
	`, req.TemplateID, userID, testType, req.DurationMinutes, maxQuestions, strategyCol).Scan(&attemptID, &startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	for order, qID := range questionIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO attempt_questions (attempt_id, question_id, question_order)
			VALUES ($1, $2, $3)
		`, attemptID, qID, order)
		if err != nil {
			return nil, fmt.Errorf("failed to persist question order for attempt %d: %w", attemptID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit attempt %d: %w", attemptID, err)
	}

	questions, err := loadAttemptQuestions(ctx, pool, attemptID)
	if err != nil {
		return nil, err
	}

	log.Printf("Started attempt %d for user %d (template %d, %d questions)", attemptID, userID, req.TemplateID, len(questions))
	return &models.StartTestResponse{
		AttemptID:       attemptID,
		TemplateID:      req.TemplateID,
		Status:          models.AttemptInProgress,
		DurationMinutes: req.DurationMinutes,
		Strategy:        strategy,
		MaxQuestions:    maxQuestions,
		Questions:       questions,
	}, nil
}

// loadAttemptQuestions returns the attempt's questions in their persisted
// order, options included. Correct flags stay server-side (IsCorrect is
// never serialised).
func loadAttemptQuestions(ctx context.Context, pool *pgxpool.Pool, attemptID int) ([]models.Question, error) {
	rows, err := pool.Query(ctx, `
		SELECT q.id, q.paper_id, q.section_id, q.subsection_id, q.question_text,
			q.difficulty_level, q.topic, q.numeric_difficulty
		FROM attempt_questions aq
		JOIN questions q ON q.id = aq.question_id
		WHERE aq.attempt_id = $1
		ORDER BY aq.question_order
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions for attempt %d: %w", attemptID, err)
	}
	defer rows.Close()

	var questions []models.Question
	byID := make(map[int]int)
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.PaperID, &q.SectionID, &q.SubsectionID, &q.QuestionText,
			&q.DifficultyLevel, &q.Topic, &q.NumericDifficulty); err != nil {
			return nil, fmt.Errorf("failed to scan attempt question: %w", err)
		}
		byID[q.ID] = len(questions)
		questions = append(questions, q)
	}

	optRows, err := pool.Query(ctx, `
		SELECT o.id, o.question_id, o.option_index, o.option_text
		FROM question_options o
		JOIN attempt_questions aq ON aq.question_id = o.question_id
		WHERE aq.attempt_id = $1
		ORDER BY o.question_id, o.option_index
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load options for attempt %d: %w", attemptID, err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var o models.QuestionOption
		if err := optRows.Scan(&o.ID, &o.QuestionID, &o.OptionIndex, &o.OptionText); err != nil {
			return nil, fmt.Errorf("failed to scan question option: %w", err)
		}
		if idx, ok := byID[o.QuestionID]; ok {
			questions[idx].Options = append(questions[idx].Options, o)
		}
	}

	return questions, nil
}

// SubmitAnswer grades one answer and folds it into the attempt. The attempt
// row is locked for the duration of the transaction so concurrent submits
// for the same attempt serialise instead of racing the question index.
func SubmitAnswer(ctx context.Context, pool *pgxpool.Pool, userID, attemptID int, req models.AnswerRequest) (*models.AnswerResponse, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var att models.TestAttempt
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, status, current_question_index, max_questions
		FROM test_attempts
		WHERE id = $1
		FOR UPDATE
	`, attemptID).Scan(&att.ID, &att.UserID, &att.Status, &att.CurrentQuestionIndex, &att.MaxQuestions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock attempt %d: %w", attemptID, err)
	}
	if att.UserID != userID {
		return nil, ErrNotOwner
	}
	if att.Status != models.AttemptInProgress {
		return nil, ErrAttemptFinished
	}

	var topic, level string
	err = tx.QueryRow(ctx, `
		SELECT q.topic, q.difficulty_level
		FROM attempt_questions aq
		JOIN questions q ON q.id = aq.question_id
		WHERE aq.attempt_id = $1 AND aq.question_id = $2
	`, attemptID, req.QuestionID).Scan(&topic, &level)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQuestionNotInSet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify question %d in attempt %d: %w", req.QuestionID, attemptID, err)
	}

	// A question with no correct option on record grades everything wrong
	// rather than blocking the attempt.
	correctIndex := -1
	err = tx.QueryRow(ctx, `
		SELECT option_index FROM question_options
		WHERE question_id = $1 AND is_correct
	`, req.QuestionID).Scan(&correctIndex)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to load correct option for question %d: %w", req.QuestionID, err)
	}

	correct := GradeSelection(req.SelectedOption, correctIndex)

	tag, err := tx.Exec(ctx, `
		INSERT INTO user_performance_profiles
			(user_id, attempt_id, question_id, is_correct, response_seconds, topic, difficulty_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (attempt_id, question_id) DO NOTHING
	`, userID, attemptID, req.QuestionID, correct, req.TimeSeconds, topic, level)
	if err != nil {
		return nil, fmt.Errorf("failed to record answer for attempt %d: %w", attemptID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyAnswered
	}

	newIndex := att.CurrentQuestionIndex + 1
	status := models.AttemptInProgress
	if att.MaxQuestions != nil && newIndex >= *att.MaxQuestions {
		status = models.AttemptCompleted
	}

	if status == models.AttemptCompleted {
		if err := finalizeTx(ctx, tx, attemptID, newIndex, models.AttemptCompleted); err != nil {
			return nil, err
		}
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE test_attempts SET current_question_index = $1 WHERE id = $2
		`, newIndex, attemptID)
		if err != nil {
			return nil, fmt.Errorf("failed to advance attempt %d: %w", attemptID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit answer for attempt %d: %w", attemptID, err)
	}

	// Difficulty update and aggregation run after the answer is durable;
	// their failures should not undo a recorded answer.
	if _, err := adaptive.RecordAnswer(ctx, pool, userID, req.QuestionID, correct, req.TimeSeconds); err != nil {
		log.Printf("WARNING: difficulty update failed for user %d, question %d: %v", userID, req.QuestionID, err)
	}
	if status == models.AttemptCompleted {
		if err := analytics.Aggregate(ctx, pool, attemptID); err != nil {
			log.Printf("WARNING: aggregation failed for attempt %d: %v", attemptID, err)
		}
	}

	return &models.AnswerResponse{
		Correct:              correct,
		CurrentQuestionIndex: newIndex,
		AttemptStatus:        status,
	}, nil
}

// finalizeTx scores the attempt from its profile rows and stamps the
// terminal status. Runs inside the caller's transaction.
func finalizeTx(ctx context.Context, tx pgx.Tx, attemptID, questionIndex int, status string) error {
	var answered, correct int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_correct)
		FROM user_performance_profiles
		WHERE attempt_id = $1
	`, attemptID).Scan(&answered, &correct)
	if err != nil {
		return fmt.Errorf("failed to score attempt %d: %w", attemptID, err)
	}

	score := 0.0
	if answered > 0 {
		score = float64(correct) / float64(answered) * 100.0
	}

	_, err = tx.Exec(ctx, `
		UPDATE test_attempts SET
			status = $1,
			current_question_index = $2,
			completed_at = CURRENT_TIMESTAMP,
			score_percent = $3
		WHERE id = $4
	`, status, questionIndex, score, attemptID)
	if err != nil {
		return fmt.Errorf("failed to finalize attempt %d: %w", attemptID, err)
	}
	return nil
}

// Complete finalises an attempt. Calling it on an already-finished attempt
// returns the stored result instead of failing, so retried requests are
// harmless.
func Complete(ctx context.Context, pool *pgxpool.Pool, userID, attemptID int) (*models.CompleteResponse, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var att models.TestAttempt
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, status, current_question_index, score_percent
		FROM test_attempts
		WHERE id = $1
		FOR UPDATE
	`, attemptID).Scan(&att.ID, &att.UserID, &att.Status, &att.CurrentQuestionIndex, &att.ScorePercent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock attempt %d: %w", attemptID, err)
	}
	if att.UserID != userID {
		return nil, ErrNotOwner
	}

	if att.Status != models.AttemptInProgress {
		return completeResponse(ctx, pool, attemptID, att.Status)
	}

	if err := finalizeTx(ctx, tx, attemptID, att.CurrentQuestionIndex, models.AttemptCompleted); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit completion of attempt %d: %w", attemptID, err)
	}

	if err := analytics.Aggregate(ctx, pool, attemptID); err != nil {
		log.Printf("WARNING: aggregation failed for attempt %d: %v", attemptID, err)
	}

	log.Printf("Completed attempt %d for user %d", attemptID, userID)
	return completeResponse(ctx, pool, attemptID, models.AttemptCompleted)
}

func completeResponse(ctx context.Context, pool *pgxpool.Pool, attemptID int, status string) (*models.CompleteResponse, error) {
	resp := &models.CompleteResponse{AttemptID: attemptID, Status: status}
	var score *float64
	err := pool.QueryRow(ctx, `
		SELECT a.score_percent,
			COUNT(p.id),
			COUNT(p.id) FILTER (WHERE p.is_correct)
		FROM test_attempts a
		LEFT JOIN user_performance_profiles p ON p.attempt_id = a.id
		WHERE a.id = $1
		GROUP BY a.score_percent
	`, attemptID).Scan(&score, &resp.TotalAnswered, &resp.TotalCorrect)
	if err != nil {
		return nil, fmt.Errorf("failed to load result of attempt %d: %w", attemptID, err)
	}
	if score != nil {
		resp.ScorePercent = *score
	}
	return resp, nil
}

// Status reports progress for an in-flight attempt, including a formatted
// time-remaining clock derived from the allotted duration.
func Status(ctx context.Context, pool *pgxpool.Pool, userID, attemptID int) (*models.AttemptStatusResponse, error) {
	var att models.TestAttempt
	err := pool.QueryRow(ctx, `
		SELECT id, user_id, status, current_question_index,
			total_allotted_duration_minutes, started_at
		FROM test_attempts
		WHERE id = $1
	`, attemptID).Scan(&att.ID, &att.UserID, &att.Status, &att.CurrentQuestionIndex,
		&att.TotalAllottedMinutes, &att.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt %d: %w", attemptID, err)
	}
	if att.UserID != userID {
		return nil, ErrNotOwner
	}

	var answered, total int
	err = pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM user_performance_profiles WHERE attempt_id = $1),
			(SELECT COUNT(*) FROM attempt_questions WHERE attempt_id = $1)
	`, attemptID).Scan(&answered, &total)
	if err != nil {
		return nil, fmt.Errorf("failed to count progress for attempt %d: %w", attemptID, err)
	}

	remaining := time.Duration(att.TotalAllottedMinutes)*time.Minute - time.Since(att.StartedAt)
	if remaining < 0 || att.Status != models.AttemptInProgress {
		remaining = 0
	}

	return &models.AttemptStatusResponse{
		AttemptID:            att.ID,
		Status:               att.Status,
		CurrentQuestionIndex: att.CurrentQuestionIndex,
		AnsweredCount:        answered,
		TotalQuestions:       total,
		TimeRemaining:        FormatRemaining(remaining),
	}, nil
}

// FormatRemaining renders a duration as HH:MM:SS, flooring at zero.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ExpireStale sweeps attempts whose allotted time (plus a grace period from
// settings) has run out, marking them abandoned with whatever score their
// recorded answers earned. One bad attempt never stops the sweep.
func ExpireStale(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	grace := db.GetSettingInt(pool, "attempt_sweep_grace_minutes", defaultSweepGraceMinutes)

	rows, err := pool.Query(ctx, `
		SELECT id FROM test_attempts
		WHERE status = $1
			AND started_at + (total_allotted_duration_minutes + $2) * INTERVAL '1 minute' < CURRENT_TIMESTAMP
	`, models.AttemptInProgress, grace)
	if err != nil {
		return 0, fmt.Errorf("failed to query stale attempts: %w", err)
	}
	defer rows.Close()

	var staleIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan stale attempt id: %w", err)
		}
		staleIDs = append(staleIDs, id)
	}

	swept := 0
	for _, id := range staleIDs {
		if err := abandonOne(ctx, pool, id); err != nil {
			log.Printf("ERROR: Failed to abandon stale attempt %d: %v", id, err)
			continue
		}
		if err := analytics.Aggregate(ctx, pool, id); err != nil {
			log.Printf("WARNING: aggregation failed for abandoned attempt %d: %v", id, err)
		}
		swept++
	}
	if swept > 0 {
		log.Printf("Attempt sweep: marked %d stale attempt(s) abandoned", swept)
	}
	return swept, nil
}

func abandonOne(ctx context.Context, pool *pgxpool.Pool, attemptID int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	var index int
	err = tx.QueryRow(ctx, `
		SELECT status, current_question_index FROM test_attempts WHERE id = $1 FOR UPDATE
	`, attemptID).Scan(&status, &index)
	if err != nil {
		return fmt.Errorf("failed to lock attempt: %w", err)
	}
	// Completed between the sweep query and the lock; nothing to do.
	if status != models.AttemptInProgress {
		return nil
	}

	if err := finalizeTx(ctx, tx, attemptID, index, models.AttemptAbandoned); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
