package ingestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/sudghosh/CIL-CBT-APP-sub001/db"
	"github.com/sudghosh/CIL-CBT-APP-sub001/models"
)

const (
	csvColumnCount = 10 // section, subsection, text, level, topic, 4 options, correct index
	sourceName     = "ingestion"
)

var validLevels = map[string]bool{
	models.LevelEasy:   true,
	models.LevelMedium: true,
	models.LevelHard:   true,
}

// Result summarises one ingestion run.
type Result struct {
	PaperID   int
	Inserted  int
	Skipped   int
	TotalRows int
}

// ProcessPaperBank reads paper.yaml and question_bank.csv from the paper's
// bank directory, upserts the paper tree and its questions in one
// transaction, and records every rejected row in error_logs with a
// suggested fix. A bad row is skipped, not fatal; only structural problems
// (missing files, malformed YAML, no valid questions) abort the run.
func ProcessPaperBank(pool *pgxpool.Pool, paperCode, bankDir string) (*Result, error) {
	paperPath := filepath.Join(bankDir, paperCode)
	paperYAMLPath := filepath.Join(paperPath, "paper.yaml")
	questionCSVPath := filepath.Join(paperPath, "question_bank.csv")

	paperYAMLData, err := os.ReadFile(paperYAMLPath)
	if err != nil {
		db.LogError(pool, sourceName, paperCode, paperYAMLPath, 0, "", "Failed to read paper.yaml", fmt.Sprintf("Ensure file exists and is readable: %v", err))
		return nil, fmt.Errorf("failed to read paper.yaml for %s: %w", paperCode, err)
	}

	var paperMeta models.PaperYAML
	if err := yaml.Unmarshal(paperYAMLData, &paperMeta); err != nil {
		db.LogError(pool, sourceName, paperCode, paperYAMLPath, 0, "", "Failed to parse paper.yaml", fmt.Sprintf("Ensure YAML format is correct: %v", err))
		return nil, fmt.Errorf("failed to unmarshal paper.yaml for %s: %w", paperCode, err)
	}

	if paperMeta.PaperCode != paperCode {
		db.LogError(pool, sourceName, paperCode, paperYAMLPath, 0, "paper_code", "Mismatch between paper.yaml and directory name", fmt.Sprintf("paper_code in YAML (%s) must match directory name (%s)", paperMeta.PaperCode, paperCode))
		return nil, fmt.Errorf("paper code mismatch in paper.yaml for %s", paperCode)
	}
	if strings.TrimSpace(paperMeta.PaperName) == "" {
		db.LogError(pool, sourceName, paperCode, paperYAMLPath, 0, "paper_name", "Missing paper_name", "Provide a human-readable paper name.")
		return nil, fmt.Errorf("missing paper_name in paper.yaml for %s", paperCode)
	}

	csvFile, err := os.Open(questionCSVPath)
	if err != nil {
		db.LogError(pool, sourceName, paperCode, questionCSVPath, 0, "", "Failed to open question_bank.csv", fmt.Sprintf("Ensure file exists and is readable: %v", err))
		return nil, fmt.Errorf("failed to open question_bank.csv for %s: %w", paperCode, err)
	}
	defer csvFile.Close()

	reader := csv.NewReader(csvFile)
	reader.FieldsPerRecord = -1 // column count is checked per row
	rows, err := reader.ReadAll()
	if err != nil {
		db.LogError(pool, sourceName, paperCode, questionCSVPath, 0, "", "Failed to read question_bank.csv", fmt.Sprintf("Ensure CSV format is correct: %v", err))
		return nil, fmt.Errorf("failed to read CSV rows for %s: %w", paperCode, err)
	}
	if len(rows) < 2 { // header + at least one question
		db.LogError(pool, sourceName, paperCode, questionCSVPath, 0, "", "Insufficient rows in question_bank.csv", "A header row and at least one question row are required.")
		return nil, fmt.Errorf("insufficient rows in question_bank.csv for %s", paperCode)
	}

	tx, err := pool.Begin(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.Background())

	var paperID int
	err = tx.QueryRow(context.Background(), `
		INSERT INTO papers (paper_code, paper_name)
		VALUES ($1, $2)
		ON CONFLICT (paper_code) DO UPDATE SET paper_name = EXCLUDED.paper_name
		RETURNING id
	`, paperMeta.PaperCode, paperMeta.PaperName).Scan(&paperID)
	if err != nil {
		db.LogError(pool, sourceName, paperCode, "", 0, "", "Failed to upsert paper", fmt.Sprintf("Database error: %v", err))
		return nil, fmt.Errorf("failed to upsert paper %s: %w", paperCode, err)
	}

	// Section/subsection tree from the YAML, keyed by name for row lookups.
	sectionIDs := make(map[string]int)
	subsectionIDs := make(map[string]int) // "section/subsection"
	for _, sec := range paperMeta.Sections {
		var sectionID int
		err = tx.QueryRow(context.Background(), `
			INSERT INTO sections (paper_id, section_name)
			VALUES ($1, $2)
			ON CONFLICT (paper_id, section_name) DO UPDATE SET section_name = EXCLUDED.section_name
			RETURNING id
		`, paperID, sec.Name).Scan(&sectionID)
		if err != nil {
			db.LogError(pool, sourceName, paperCode, paperYAMLPath, 0, "sections", fmt.Sprintf("Failed to upsert section %q", sec.Name), fmt.Sprintf("Database error: %v", err))
			return nil, fmt.Errorf("failed to upsert section %q for %s: %w", sec.Name, paperCode, err)
		}
		sectionIDs[sec.Name] = sectionID

		for _, sub := range sec.Subsections {
			var subsectionID int
			err = tx.QueryRow(context.Background(), `
				INSERT INTO subsections (section_id, subsection_name)
				VALUES ($1, $2)
				ON CONFLICT (section_id, subsection_name) DO UPDATE SET subsection_name = EXCLUDED.subsection_name
				RETURNING id
			`, sectionID, sub).Scan(&subsectionID)
			if err != nil {
				db.LogError(pool, sourceName, paperCode, paperYAMLPath, 0, "subsections", fmt.Sprintf("Failed to upsert subsection %q", sub), fmt.Sprintf("Database error: %v", err))
				return nil, fmt.Errorf("failed to upsert subsection %q for %s: %w", sub, paperCode, err)
			}
			subsectionIDs[sec.Name+"/"+sub] = subsectionID
		}
	}

	result := &Result{PaperID: paperID, TotalRows: len(rows) - 1}

	for i, row := range rows[1:] {
		lineNumber := i + 2 // 1-based, after the header
		skipped, err := ingestQuestionRow(tx, pool, paperCode, questionCSVPath, lineNumber, paperID, sectionIDs, subsectionIDs, row)
		if err != nil {
			// SQL failures poison the transaction; abort rather than pile
			// up doomed statements.
			return nil, err
		}
		if skipped {
			result.Skipped++
			continue
		}
		result.Inserted++
	}

	if result.Inserted == 0 {
		db.LogError(pool, sourceName, paperCode, questionCSVPath, 0, "", "No valid question rows", "Every row was rejected; fix the logged rows and re-run ingestion.")
		return nil, fmt.Errorf("no valid question rows in question_bank.csv for %s", paperCode)
	}

	if err := tx.Commit(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to commit ingestion for %s: %w", paperCode, err)
	}

	log.Printf("Ingested paper %s: %d question(s) inserted, %d skipped", paperCode, result.Inserted, result.Skipped)
	return result, nil
}

// ingestQuestionRow validates and upserts a single CSV row. Validation
// problems are logged to error_logs and reported as a skip; database
// failures are fatal because the enclosing transaction cannot continue.
func ingestQuestionRow(tx pgx.Tx, pool *pgxpool.Pool, paperCode, csvPath string, lineNumber, paperID int, sectionIDs, subsectionIDs map[string]int, row []string) (skipped bool, err error) {
	if len(row) != csvColumnCount {
		db.LogError(pool, sourceName, paperCode, csvPath, lineNumber, "", "Incorrect column count", fmt.Sprintf("Expected %d columns, got %d", csvColumnCount, len(row)))
		return true, nil
	}

	sectionName := strings.TrimSpace(row[0])
	subsectionName := strings.TrimSpace(row[1])
	questionText := strings.TrimSpace(row[2])
	level := strings.TrimSpace(row[3])
	topic := strings.TrimSpace(row[4])
	options := []string{strings.TrimSpace(row[5]), strings.TrimSpace(row[6]), strings.TrimSpace(row[7]), strings.TrimSpace(row[8])}
	correctRaw := strings.TrimSpace(row[9])

	sectionID, ok := sectionIDs[sectionName]
	if !ok {
		db.LogError(pool, sourceName, paperCode, csvPath, lineNumber, "section", fmt.Sprintf("Unknown section %q", sectionName), "Section must be declared in paper.yaml.")
		return true, nil
	}

	var subsectionID *int
	if subsectionName != "" {
		id, ok := subsectionIDs[sectionName+"/"+subsectionName]
		if !ok {
			db.LogError(pool, sourceName, paperCode, csvPath, lineNumber, "subsection", fmt.Sprintf("Unknown subsection %q", subsectionName), "Subsection must be declared under its section in paper.yaml.")
			return true, nil
		}
		subsectionID = &id
	}

	if questionText == "" {
		db.LogError(pool, sourceName, paperCode, csvPath, lineNumber, "question_text", "Empty question text", "Provide the question text.")
		return true, nil
	}
	if !validLevels[level] {
		db.LogError(pool, sourceName, paperCode, csvPath, lineNumber, "difficulty_level", fmt.Sprintf("Invalid difficulty level %q", level), "Must be one of Easy, Medium, Hard.")
		return true, nil
	}
	if topic == "" {
		db.LogError(pool, sourceName, paperCode, csvPath, lineNumber, "topic", "Empty topic", "Provide the topic this question belongs to.")
		return true, nil
	}
	for idx, opt := range options {
		if opt == "" {
			db.LogError(pool, sourceName, paperCode, csvPath, lineNumber, fmt.Sprintf("option_%d", idx), "Empty option text", "All four options must be provided.")
			return true, nil
		}
	}
	correctIndex, err := strconv.Atoi(correctRaw)
	if err != nil || correctIndex < 0 || correctIndex > 3 {
		db.LogError(pool, sourceName, paperCode, csvPath, lineNumber, "correct_index", fmt.Sprintf("Invalid correct option index %q", correctRaw), "Must be an integer between 0 and 3.")
		return true, nil
	}

	var questionID int
	err = tx.QueryRow(context.Background(), `
		INSERT INTO questions (paper_id, section_id, subsection_id, question_text, difficulty_level, topic)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (section_id, question_text) DO UPDATE SET
			subsection_id = EXCLUDED.subsection_id,
			difficulty_level = EXCLUDED.difficulty_level,
			topic = EXCLUDED.topic
		RETURNING id
	`, paperID, sectionID, subsectionID, questionText, level, topic).Scan(&questionID)
	if err != nil {
		db.LogError(pool, sourceName, paperCode, csvPath, lineNumber, "", "Failed to upsert question", fmt.Sprintf("Database error: %v", err))
		return false, fmt.Errorf("failed to upsert question at line %d: %w", lineNumber, err)
	}

	for idx, opt := range options {
		_, err = tx.Exec(context.Background(), `
			INSERT INTO question_options (question_id, option_index, option_text, is_correct)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (question_id, option_index) DO UPDATE SET
				option_text = EXCLUDED.option_text,
				is_correct = EXCLUDED.is_correct
		`, questionID, idx, opt, idx == correctIndex)
		if err != nil {
			db.LogError(pool, sourceName, paperCode, csvPath, lineNumber, fmt.Sprintf("option_%d", idx), "Failed to upsert option", fmt.Sprintf("Database error: %v", err))
			return false, fmt.Errorf("failed to upsert option %d at line %d: %w", idx, lineNumber, err)
		}
	}

	return false, nil
}
