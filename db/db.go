package db

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InitDB initializes the PostgreSQL database connection pool.
func InitDB(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL database!")
	return pool, nil
}

// CreateSchema sets up the tables the CBT server needs. Schema changes are
// additive only: columns and values are added, live types are never dropped
// and recreated.
func CreateSchema(pool *pgxpool.Pool) error {
	schemaSQL := `
	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS papers (
		id SERIAL PRIMARY KEY,
		paper_code VARCHAR(50) NOT NULL UNIQUE,
		paper_name VARCHAR(255) NOT NULL,
		is_active BOOLEAN DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS sections (
		id SERIAL PRIMARY KEY,
		paper_id INT NOT NULL,
		section_name VARCHAR(255) NOT NULL,
		FOREIGN KEY (paper_id) REFERENCES papers(id) ON DELETE CASCADE,
		UNIQUE (paper_id, section_name)
	);

	CREATE TABLE IF NOT EXISTS subsections (
		id SERIAL PRIMARY KEY,
		section_id INT NOT NULL,
		subsection_name VARCHAR(255) NOT NULL,
		FOREIGN KEY (section_id) REFERENCES sections(id) ON DELETE CASCADE,
		UNIQUE (section_id, subsection_name)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id SERIAL PRIMARY KEY,
		paper_id INT NOT NULL,
		section_id INT NOT NULL,
		subsection_id INT,
		question_text TEXT NOT NULL,
		difficulty_level VARCHAR(20) NOT NULL CHECK (difficulty_level IN ('Easy', 'Medium', 'Hard')),
		topic VARCHAR(255) NOT NULL,
		numeric_difficulty FLOAT NOT NULL DEFAULT 5.0,
		success_rate FLOAT,
		average_completion_time FLOAT,
		metrics_calculated_at TIMESTAMP WITH TIME ZONE,
		FOREIGN KEY (paper_id) REFERENCES papers(id) ON DELETE CASCADE,
		FOREIGN KEY (section_id) REFERENCES sections(id) ON DELETE CASCADE,
		FOREIGN KEY (subsection_id) REFERENCES subsections(id) ON DELETE SET NULL,
		UNIQUE (section_id, question_text)
	);

	CREATE TABLE IF NOT EXISTS question_options (
		id SERIAL PRIMARY KEY,
		question_id INT NOT NULL,
		option_index INT NOT NULL CHECK (option_index BETWEEN 0 AND 3),
		option_text TEXT NOT NULL,
		is_correct BOOLEAN DEFAULT FALSE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE,
		UNIQUE (question_id, option_index)
	);

	CREATE TABLE IF NOT EXISTS user_question_difficulties (
		id SERIAL PRIMARY KEY,
		user_id INT NOT NULL,
		question_id INT NOT NULL,
		numeric_difficulty FLOAT NOT NULL DEFAULT 5.0,
		difficulty_level VARCHAR(20) NOT NULL DEFAULT 'Medium',
		confidence FLOAT,
		attempts INT NOT NULL DEFAULT 0 CHECK (attempts >= 0),
		correct_answers INT NOT NULL DEFAULT 0 CHECK (correct_answers >= 0),
		avg_time_seconds FLOAT NOT NULL DEFAULT 0,
		is_calibrating BOOLEAN NOT NULL DEFAULT TRUE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE,
		UNIQUE (user_id, question_id),
		CHECK (correct_answers <= attempts)
	);

	CREATE TABLE IF NOT EXISTS test_templates (
		id SERIAL PRIMARY KEY,
		template_name VARCHAR(255) NOT NULL,
		test_type VARCHAR(50) NOT NULL CHECK (test_type IN ('practice', 'mock', 'adaptive')),
		created_by VARCHAR(255) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS test_template_sections (
		id SERIAL PRIMARY KEY,
		template_id INT NOT NULL,
		paper_id INT NOT NULL,
		section_id_ref INT NOT NULL,
		subsection_id INT,
		question_count INT NOT NULL CHECK (question_count > 0),
		FOREIGN KEY (template_id) REFERENCES test_templates(id) ON DELETE CASCADE,
		FOREIGN KEY (paper_id) REFERENCES papers(id) ON DELETE CASCADE,
		FOREIGN KEY (section_id_ref) REFERENCES sections(id) ON DELETE CASCADE,
		FOREIGN KEY (subsection_id) REFERENCES subsections(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS test_attempts (
		id SERIAL PRIMARY KEY,
		template_id INT NOT NULL,
		user_id INT NOT NULL,
		test_type VARCHAR(50) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'in_progress' CHECK (status IN ('in_progress', 'completed', 'abandoned')),
		duration_minutes INT NOT NULL,
		total_allotted_duration_minutes INT NOT NULL,
		max_questions INT,
		current_question_index INT NOT NULL DEFAULT 0,
		adaptive_strategy_chosen VARCHAR(50),
		started_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP WITH TIME ZONE,
		score_percent FLOAT,
		FOREIGN KEY (template_id) REFERENCES test_templates(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS attempt_questions (
		id SERIAL PRIMARY KEY,
		attempt_id INT NOT NULL,
		question_id INT NOT NULL,
		question_order INT NOT NULL,
		FOREIGN KEY (attempt_id) REFERENCES test_attempts(id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE,
		UNIQUE (attempt_id, question_id),
		UNIQUE (attempt_id, question_order)
	);

	CREATE TABLE IF NOT EXISTS user_performance_profiles (
		id SERIAL PRIMARY KEY,
		user_id INT NOT NULL,
		attempt_id INT NOT NULL,
		question_id INT NOT NULL,
		is_correct BOOLEAN NOT NULL,
		response_seconds FLOAT NOT NULL DEFAULT 0,
		topic VARCHAR(255) NOT NULL,
		difficulty_level VARCHAR(20) NOT NULL,
		answered_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (attempt_id) REFERENCES test_attempts(id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE,
		UNIQUE (attempt_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS user_overall_summaries (
		user_id INT PRIMARY KEY,
		total_answered INT NOT NULL DEFAULT 0,
		total_correct INT NOT NULL DEFAULT 0,
		accuracy_percent FLOAT NOT NULL DEFAULT 0,
		avg_response_seconds FLOAT NOT NULL DEFAULT 0,
		easy_answered INT NOT NULL DEFAULT 0,
		easy_correct INT NOT NULL DEFAULT 0,
		medium_answered INT NOT NULL DEFAULT 0,
		medium_correct INT NOT NULL DEFAULT 0,
		hard_answered INT NOT NULL DEFAULT 0,
		hard_correct INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS user_topic_summaries (
		user_id INT NOT NULL,
		topic VARCHAR(255) NOT NULL,
		total_answered INT NOT NULL DEFAULT 0,
		total_correct INT NOT NULL DEFAULT 0,
		accuracy_percent FLOAT NOT NULL DEFAULT 0,
		avg_response_seconds FLOAT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, topic),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id SERIAL PRIMARY KEY,
		provider VARCHAR(50) NOT NULL UNIQUE,
		key_value TEXT NOT NULL,
		updated_by VARCHAR(255) NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS error_logs (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		source TEXT NOT NULL,
		paper_code VARCHAR(50),
		file_path TEXT,
		line_number INT,
		field_name TEXT,
		error_message TEXT NOT NULL,
		suggested_fix TEXT
	);

	CREATE TABLE IF NOT EXISTS admin_events (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		action VARCHAR(255),
		actor VARCHAR(255),
		target TEXT,
		notes TEXT
	);

	CREATE TABLE IF NOT EXISTS settings (
		key VARCHAR(255) PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		updated_by VARCHAR(255)
	);
	`
	_, err := pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	// Policy thresholds live in settings so they can be tuned without a deploy.
	defaultSettings := map[string]string{
		"calibration_record_attempts": "3",
		"calibration_user_attempted":  "8",
		"calibration_user_calibrated": "3",
		"attempt_sweep_grace_minutes": "5",
	}

	for key, value := range defaultSettings {
		_, err := pool.Exec(context.Background(), `
			INSERT INTO settings (key, value, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING;
		`, key, value, fmt.Sprintf("Default setting for %s", key))
		if err != nil {
			log.Printf("Warning: Failed to insert default setting %s: %v", key, err)
		}
	}

	return nil
}

// LogError adds an entry to the error_logs table.
func LogError(pool *pgxpool.Pool, source, paperCode, filePath string, lineNumber int, fieldName, errMsg, fixSug string) {
	_, err := pool.Exec(context.Background(), `
		INSERT INTO error_logs (source, paper_code, file_path, line_number, field_name, error_message, suggested_fix)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, source, paperCode, filePath, lineNumber, fieldName, errMsg, fixSug)
	if err != nil {
		log.Printf("ERROR: Failed to log error to database: %v. Original error: %s", err, errMsg)
	}
}

// LogAdminEvent adds an entry to the admin_events table.
func LogAdminEvent(pool *pgxpool.Pool, actor, action, target, notes string) {
	_, err := pool.Exec(context.Background(), `
		INSERT INTO admin_events (action, actor, target, notes)
		VALUES ($1, $2, $3, $4)
	`, action, actor, target, notes)
	if err != nil {
		log.Printf("ERROR: Failed to log admin event to database: %v. Event: %s by %s on %s", err, action, actor, target)
	}
}

// GetSetting fetches a setting value from the settings table.
func GetSetting(pool *pgxpool.Pool, key string) (string, error) {
	var value string
	err := pool.QueryRow(context.Background(), "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("setting %s not found: %w", key, err)
	}
	return value, nil
}

// GetSettingInt fetches an integer setting, falling back to def when the
// setting is missing or malformed.
func GetSettingInt(pool *pgxpool.Pool, key string, def int) int {
	raw, err := GetSetting(pool, key)
	if err != nil {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: setting %s has non-integer value %q, using default %d", key, raw, def)
		return def
	}
	return v
}

// GetOrCreateUser resolves a user row by email, creating it on first sight.
func GetOrCreateUser(pool *pgxpool.Pool, email string) (int, error) {
	var id int
	err := pool.QueryRow(context.Background(), `
		INSERT INTO users (email) VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, email).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert user %s: %w", email, err)
	}
	return id, nil
}
