package models

import (
	"encoding/json"
	"time"
)

// Difficulty levels assigned to questions and per-user difficulty records.
const (
	LevelEasy   = "Easy"
	LevelMedium = "Medium"
	LevelHard   = "Hard"
)

// Selection strategies accepted at test start.
const (
	StrategyBalanced = "balanced"
	StrategyAdaptive = "adaptive"
	StrategyRandom   = "random"
)

// Attempt statuses.
const (
	AttemptInProgress = "in_progress"
	AttemptCompleted  = "completed"
	AttemptAbandoned  = "abandoned"
)

// ProviderType is the closed set of AI credential providers. The column is
// plain VARCHAR; validity is enforced here so extending the set is an
// additive code change, never an enum-type rebuild.
type ProviderType string

const (
	ProviderGoogle     ProviderType = "google"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderA4F        ProviderType = "a4f"
)

// IsValid reports whether p names a known provider.
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderGoogle, ProviderOpenRouter, ProviderA4F:
		return true
	}
	return false
}

// User represents an exam taker.
type User struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// PaperInfo is the API listing shape for a paper with its section tree.
type PaperInfo struct {
	ID            int           `json:"paper_id"`
	PaperCode     string        `json:"paper_code"`
	PaperName     string        `json:"paper_name"`
	IsActive      bool          `json:"is_active"`
	QuestionCount int           `json:"question_count"`
	Sections      []SectionInfo `json:"sections,omitempty"`
}

// SectionInfo is a section with its subsections for API responses.
type SectionInfo struct {
	ID          int              `json:"section_id"`
	SectionName string           `json:"section_name"`
	Subsections []SubsectionInfo `json:"subsections,omitempty"`
}

// SubsectionInfo is a subsection row for API responses.
type SubsectionInfo struct {
	ID             int    `json:"subsection_id"`
	SubsectionName string `json:"subsection_name"`
}

// Question represents a question row. Identity fields are immutable; the
// numeric metrics are derived and refreshed by the analytics job.
type Question struct {
	ID                   int              `json:"question_id"`
	PaperID              int              `json:"paper_id"`
	SectionID            int              `json:"section_id"`
	SubsectionID         *int             `json:"subsection_id"`
	QuestionText         string           `json:"question_text"`
	DifficultyLevel      string           `json:"difficulty_level"` // Easy / Medium / Hard
	Topic                string           `json:"topic"`
	NumericDifficulty    float64          `json:"numeric_difficulty"`
	SuccessRate          *float64         `json:"success_rate"`
	AvgCompletionSeconds *float64         `json:"average_completion_time"`
	MetricsCalculatedAt  *time.Time       `json:"metrics_calculated_at"`
	Options              []QuestionOption `json:"options,omitempty"`
}

// QuestionOption is one of the four answer options (indices 0-3).
type QuestionOption struct {
	ID          int    `json:"option_id"`
	QuestionID  int    `json:"question_id"`
	OptionIndex int    `json:"option_index"`
	OptionText  string `json:"option_text"`
	IsCorrect   bool   `json:"-"`
}

// UserQuestionDifficulty is the per (user, question) difficulty record.
// attempts >= correct_answers >= 0 always holds; is_calibrating flips
// true->false once and never back.
type UserQuestionDifficulty struct {
	ID                int      `json:"id"`
	UserID            int      `json:"user_id"`
	QuestionID        int      `json:"question_id"`
	NumericDifficulty float64  `json:"numeric_difficulty"`
	DifficultyLevel   string   `json:"difficulty_level"`
	Confidence        *float64 `json:"confidence"`
	Attempts          int      `json:"attempts"`
	CorrectAnswers    int      `json:"correct_answers"`
	AvgTimeSeconds    float64  `json:"avg_time_seconds"`
	IsCalibrating     bool     `json:"is_calibrating"`
}

// TestTemplate declares which paper/section combinations compose a test.
type TestTemplate struct {
	ID           int                   `json:"template_id"`
	TemplateName string                `json:"template_name"`
	TestType     string                `json:"test_type"`
	CreatedBy    string                `json:"created_by"`
	CreatedAt    time.Time             `json:"created_at"`
	Sections     []TestTemplateSection `json:"sections,omitempty"`
}

// TestTemplateSection scopes a template to a section (and optionally a
// subsection) with a question count. SectionIDRef is the foreign key into
// the sections table and must always be read off this row, never from an
// ambient local of the same name.
type TestTemplateSection struct {
	ID            int  `json:"id"`
	TemplateID    int  `json:"template_id"`
	PaperID       int  `json:"paper_id"`
	SectionIDRef  int  `json:"section_id_ref"`
	SubsectionID  *int `json:"subsection_id"`
	QuestionCount int  `json:"question_count"`
}

// TestAttempt tracks one run of a test by a user.
type TestAttempt struct {
	ID                   int        `json:"attempt_id"`
	TemplateID           int        `json:"template_id"`
	UserID               int        `json:"user_id"`
	TestType             string     `json:"test_type"`
	Status               string     `json:"status"`
	DurationMinutes      int        `json:"duration_minutes"`
	TotalAllottedMinutes int        `json:"total_allotted_duration_minutes"`
	MaxQuestions         *int       `json:"max_questions"` // adaptive attempts only
	CurrentQuestionIndex int        `json:"current_question_index"`
	AdaptiveStrategy     *string    `json:"adaptive_strategy_chosen"`
	StartedAt            time.Time  `json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at"`
	ScorePercent         *float64   `json:"score_percent"`
}

// AttemptQuestion is the persisted question order for an attempt.
type AttemptQuestion struct {
	ID            int `json:"id"`
	AttemptID     int `json:"attempt_id"`
	QuestionID    int `json:"question_id"`
	QuestionOrder int `json:"question_order"`
}

// UserPerformanceProfile is an append-only record of one answered question.
type UserPerformanceProfile struct {
	ID              int       `json:"id"`
	UserID          int       `json:"user_id"`
	AttemptID       int       `json:"attempt_id"`
	QuestionID      int       `json:"question_id"`
	IsCorrect       bool      `json:"is_correct"`
	ResponseSeconds float64   `json:"response_seconds"`
	Topic           string    `json:"topic"`
	DifficultyLevel string    `json:"difficulty_level"`
	AnsweredAt      time.Time `json:"answered_at"`
}

// UserOverallSummary is the single recomputed summary row per user.
type UserOverallSummary struct {
	UserID             int       `json:"user_id"`
	TotalAnswered      int       `json:"total_answered"`
	TotalCorrect       int       `json:"total_correct"`
	AccuracyPercent    float64   `json:"accuracy_percent"`
	AvgResponseSeconds float64   `json:"avg_response_seconds"`
	EasyAnswered       int       `json:"easy_answered"`
	EasyCorrect        int       `json:"easy_correct"`
	MediumAnswered     int       `json:"medium_answered"`
	MediumCorrect      int       `json:"medium_correct"`
	HardAnswered       int       `json:"hard_answered"`
	HardCorrect        int       `json:"hard_correct"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// UserTopicSummary is the recomputed summary row per (user, topic).
type UserTopicSummary struct {
	UserID             int       `json:"user_id"`
	Topic              string    `json:"topic"`
	TotalAnswered      int       `json:"total_answered"`
	TotalCorrect       int       `json:"total_correct"`
	AccuracyPercent    float64   `json:"accuracy_percent"`
	AvgResponseSeconds float64   `json:"avg_response_seconds"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// APIKey holds the stored credential for one provider.
type APIKey struct {
	ID        int          `json:"id"`
	Provider  ProviderType `json:"provider"`
	Key       string       `json:"-"` // never serialised back out
	UpdatedBy string       `json:"updated_by"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// --- Request / response shapes ---

// StartTestRequest starts a new attempt from a template.
type StartTestRequest struct {
	TemplateID      int    `json:"template_id" binding:"required"`
	DurationMinutes int    `json:"duration_minutes" binding:"required,gt=0"`
	Strategy        string `json:"strategy" binding:"omitempty,oneof=balanced adaptive random"`
	MaxQuestions    *int   `json:"max_questions" binding:"omitempty,gt=0"`
}

// StartTestResponse returns the created attempt and its question order.
type StartTestResponse struct {
	AttemptID       int        `json:"attempt_id"`
	TemplateID      int        `json:"template_id"`
	Status          string     `json:"status"`
	DurationMinutes int        `json:"duration_minutes"`
	Strategy        string     `json:"strategy,omitempty"`
	MaxQuestions    *int       `json:"max_questions,omitempty"`
	Questions       []Question `json:"questions"`
}

// AnswerRequest submits an answer for one question of an attempt.
// SelectedOption is kept raw on purpose: anything that is not an integer
// in the valid option range is graded incorrect rather than rejected.
type AnswerRequest struct {
	QuestionID     int             `json:"question_id" binding:"required"`
	SelectedOption json.RawMessage `json:"selected_option_id"`
	TimeSeconds    float64         `json:"time_seconds" binding:"omitempty,gte=0"`
}

// AnswerResponse reports grading and attempt progress.
type AnswerResponse struct {
	Correct              bool   `json:"correct"`
	CurrentQuestionIndex int    `json:"current_question_index"`
	AttemptStatus        string `json:"attempt_status"`
}

// AttemptStatusResponse reports attempt progress for polling.
type AttemptStatusResponse struct {
	AttemptID            int    `json:"attempt_id"`
	Status               string `json:"status"`
	CurrentQuestionIndex int    `json:"current_question_index"`
	AnsweredCount        int    `json:"answered_count"`
	TotalQuestions       int    `json:"total_questions"`
	TimeRemaining        string `json:"time_remaining"` // HH:MM:SS
}

// CompleteResponse is returned when an attempt is finalised.
type CompleteResponse struct {
	AttemptID     int     `json:"attempt_id"`
	Status        string  `json:"status"`
	ScorePercent  float64 `json:"score_percent"`
	TotalAnswered int     `json:"total_answered"`
	TotalCorrect  int     `json:"total_correct"`
}

// CalibrationStatus is the overall calibration readout for a user.
type CalibrationStatus struct {
	TotalAttempted     int     `json:"total_attempted"`
	CalibratedCount    int     `json:"calibrated_count"`
	CalibratingCount   int     `json:"calibrating_count"`
	ProgressPercentage float64 `json:"progress_percentage"`
	IsCalibrated       bool    `json:"is_calibrated"`
	StatusLabel        string  `json:"status_label"`
}

// CalibrationDetails breaks the status down by difficulty bucket.
type CalibrationDetails struct {
	Overall CalibrationStatus            `json:"overall"`
	Buckets map[string]CalibrationStatus `json:"buckets"` // Easy/Medium/Hard
}

// TemplateSectionRequest is one section line of a template create request.
type TemplateSectionRequest struct {
	PaperID       int  `json:"paper_id" binding:"required"`
	SectionID     int  `json:"section_id" binding:"required"`
	SubsectionID  *int `json:"subsection_id"`
	QuestionCount int  `json:"question_count" binding:"required,gt=0"`
}

// TemplateCreateRequest creates a reusable test template.
type TemplateCreateRequest struct {
	TemplateName string                   `json:"template_name" binding:"required"`
	TestType     string                   `json:"test_type" binding:"required,oneof=practice mock adaptive"`
	Sections     []TemplateSectionRequest `json:"sections" binding:"required,min=1,dive"`
}

// APIKeyRequest creates or replaces the credential for one provider.
type APIKeyRequest struct {
	Provider string `json:"provider" binding:"required"`
	Key      string `json:"key" binding:"required"`
}

// ErrorLog represents an entry in the error_logs table.
type ErrorLog struct {
	ID           int       `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	PaperCode    string    `json:"paper_code"`
	FilePath     *string   `json:"file_path"`
	LineNumber   *int      `json:"line_number"`
	FieldName    *string   `json:"field_name"`
	ErrorMessage string    `json:"error_message"`
	SuggestedFix *string   `json:"suggested_fix"`
}

// AdminEvent represents an entry in the admin_events table.
type AdminEvent struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Target    string    `json:"target"`
	Notes     string    `json:"notes"`
}

// Setting represents an entry in the settings table.
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `json:"updated_by"`
}

// QuestionStats is the admin question statistics row.
type QuestionStats struct {
	QuestionID        int      `json:"question_id"`
	QuestionText      string   `json:"question_text"`
	DifficultyLevel   string   `json:"difficulty_level"`
	Topic             string   `json:"topic"`
	NumericDifficulty float64  `json:"numeric_difficulty"`
	SuccessRate       *float64 `json:"success_rate"`
	TimesAttempted    int      `json:"times_attempted"`
	CorrectCount      int      `json:"correct_count"`
}

// PaperYAML is the paper.yaml shape consumed by ingestion.
type PaperYAML struct {
	PaperCode string `yaml:"paper_code"`
	PaperName string `yaml:"paper_name"`
	Sections  []struct {
		Name        string   `yaml:"name"`
		Subsections []string `yaml:"subsections"`
	} `yaml:"sections"`
}
