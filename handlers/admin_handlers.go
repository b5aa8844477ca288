package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudghosh/CIL-CBT-APP-sub001/analytics"
	"github.com/sudghosh/CIL-CBT-APP-sub001/db"
	"github.com/sudghosh/CIL-CBT-APP-sub001/ingestion"
	"github.com/sudghosh/CIL-CBT-APP-sub001/models"
)

// AdminDashboard renders the admin dashboard with metrics and recent activity.
// GET /admin/dashboard
func AdminDashboard(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var totalUsers int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM users`).Scan(&totalUsers)

		var totalAttempts int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM test_attempts`).Scan(&totalAttempts)

		var completedAttempts int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM test_attempts WHERE status = 'completed'`).Scan(&completedAttempts)

		var ingestionFailures int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM error_logs WHERE source = 'ingestion'`).Scan(&ingestionFailures)

		var recentEvents []models.AdminEvent
		eventRows, err := pool.Query(context.Background(), `
			SELECT id, timestamp, action, actor, target, notes FROM admin_events ORDER BY timestamp DESC LIMIT 5
		`)
		if err == nil {
			for eventRows.Next() {
				var ae models.AdminEvent
				_ = eventRows.Scan(&ae.ID, &ae.Timestamp, &ae.Action, &ae.Actor, &ae.Target, &ae.Notes)
				recentEvents = append(recentEvents, ae)
			}
			eventRows.Close()
		} else {
			log.Printf("Error fetching recent admin events: %v", err)
		}

		var recentPapers []models.PaperInfo
		paperRows, err := pool.Query(context.Background(), `
			SELECT id, paper_code, paper_name FROM papers ORDER BY id DESC LIMIT 5
		`)
		if err == nil {
			for paperRows.Next() {
				var p models.PaperInfo
				_ = paperRows.Scan(&p.ID, &p.PaperCode, &p.PaperName)
				recentPapers = append(recentPapers, p)
			}
			paperRows.Close()
		} else {
			log.Printf("Error fetching recent papers: %v", err)
		}

		c.HTML(http.StatusOK, "admin_dashboard", gin.H{
			"Title":             "CBT Admin Dashboard",
			"TotalUsers":        totalUsers,
			"TotalAttempts":     totalAttempts,
			"CompletedAttempts": completedAttempts,
			"IngestionFailures": ingestionFailures,
			"RecentAdminEvents": recentEvents,
			"RecentPapers":      recentPapers,
			"UserEmail":         c.GetString("user_email"),
		})
	}
}

// AdminCreateTemplate creates a test template with its section lines.
// POST /admin/templates
func AdminCreateTemplate(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TemplateCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := c.GetString("user_email")

		tx, err := pool.Begin(context.Background())
		if err != nil {
			log.Printf("Error beginning template transaction: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create template"})
			return
		}
		defer tx.Rollback(context.Background())

		var templateID int
		err = tx.QueryRow(context.Background(), `
			INSERT INTO test_templates (template_name, test_type, created_by)
			VALUES ($1, $2, $3) RETURNING id
		`, req.TemplateName, req.TestType, actor).Scan(&templateID)
		if err != nil {
			log.Printf("Error inserting template: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create template"})
			return
		}

		for _, s := range req.Sections {
			// The section must belong to the paper it is declared under.
			var ok bool
			err = tx.QueryRow(context.Background(), `
				SELECT EXISTS (SELECT 1 FROM sections WHERE id = $1 AND paper_id = $2)
			`, s.SectionID, s.PaperID).Scan(&ok)
			if err != nil || !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Section %d does not belong to paper %d", s.SectionID, s.PaperID)})
				return
			}
			_, err = tx.Exec(context.Background(), `
				INSERT INTO test_template_sections (template_id, paper_id, section_id_ref, subsection_id, question_count)
				VALUES ($1, $2, $3, $4, $5)
			`, templateID, s.PaperID, s.SectionID, s.SubsectionID, s.QuestionCount)
			if err != nil {
				log.Printf("Error inserting template section: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create template section"})
				return
			}
		}

		if err := tx.Commit(context.Background()); err != nil {
			log.Printf("Error committing template: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create template"})
			return
		}

		db.LogAdminEvent(pool, actor, "template_created", strconv.Itoa(templateID), req.TemplateName)
		c.JSON(http.StatusCreated, gin.H{"template_id": templateID})
	}
}

// AdminListTemplates lists templates with their section lines.
// GET /admin/templates
func AdminListTemplates(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := pool.Query(context.Background(), `
			SELECT id, template_name, test_type, created_by, created_at
			FROM test_templates
			ORDER BY created_at DESC
		`)
		if err != nil {
			log.Printf("Error querying templates: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve templates"})
			return
		}
		defer rows.Close()

		templates := []models.TestTemplate{}
		index := make(map[int]int)
		for rows.Next() {
			var t models.TestTemplate
			if err := rows.Scan(&t.ID, &t.TemplateName, &t.TestType, &t.CreatedBy, &t.CreatedAt); err != nil {
				log.Printf("Error scanning template row: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process template data"})
				return
			}
			index[t.ID] = len(templates)
			templates = append(templates, t)
		}

		sectionRows, err := pool.Query(context.Background(), `
			SELECT id, template_id, paper_id, section_id_ref, subsection_id, question_count
			FROM test_template_sections
			ORDER BY template_id, id
		`)
		if err != nil {
			log.Printf("Error querying template sections: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve template sections"})
			return
		}
		defer sectionRows.Close()

		for sectionRows.Next() {
			var s models.TestTemplateSection
			if err := sectionRows.Scan(&s.ID, &s.TemplateID, &s.PaperID, &s.SectionIDRef, &s.SubsectionID, &s.QuestionCount); err != nil {
				log.Printf("Error scanning template section row: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process template sections"})
				return
			}
			if ti, ok := index[s.TemplateID]; ok {
				templates[ti].Sections = append(templates[ti].Sections, s)
			}
		}

		c.JSON(http.StatusOK, templates)
	}
}

// AdminDeleteTemplate removes a template and its section lines.
// DELETE /admin/templates/:template_id
func AdminDeleteTemplate(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		templateID, err := strconv.Atoi(c.Param("template_id"))
		if err != nil || templateID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid template ID"})
			return
		}

		tag, err := pool.Exec(context.Background(), `DELETE FROM test_templates WHERE id = $1`, templateID)
		if err != nil {
			log.Printf("Error deleting template %d: %v", templateID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete template"})
			return
		}
		if tag.RowsAffected() == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}

		db.LogAdminEvent(pool, c.GetString("user_email"), "template_deleted", strconv.Itoa(templateID), "")
		c.JSON(http.StatusOK, gin.H{"deleted": templateID})
	}
}

// AdminUpsertAPIKey stores or replaces the credential for one provider.
// PUT /admin/api_keys
func AdminUpsertAPIKey(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.APIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		provider := models.ProviderType(req.Provider)
		if !provider.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown provider %q", req.Provider)})
			return
		}
		actor := c.GetString("user_email")

		_, err := pool.Exec(context.Background(), `
			INSERT INTO api_keys (provider, key_value, updated_by)
			VALUES ($1, $2, $3)
			ON CONFLICT (provider) DO UPDATE SET
				key_value = EXCLUDED.key_value,
				updated_by = EXCLUDED.updated_by,
				updated_at = CURRENT_TIMESTAMP
		`, string(provider), req.Key, actor)
		if err != nil {
			log.Printf("Error upserting API key for provider %s: %v", provider, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store API key"})
			return
		}

		db.LogAdminEvent(pool, actor, "api_key_updated", string(provider), "")
		c.JSON(http.StatusOK, gin.H{"provider": provider})
	}
}

// AdminListAPIKeys lists stored providers without exposing key material.
// GET /admin/api_keys
func AdminListAPIKeys(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := pool.Query(context.Background(), `
			SELECT id, provider, updated_by, updated_at FROM api_keys ORDER BY provider
		`)
		if err != nil {
			log.Printf("Error querying API keys: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve API keys"})
			return
		}
		defer rows.Close()

		keys := []models.APIKey{}
		for rows.Next() {
			var k models.APIKey
			if err := rows.Scan(&k.ID, &k.Provider, &k.UpdatedBy, &k.UpdatedAt); err != nil {
				log.Printf("Error scanning API key row: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process API keys"})
				return
			}
			keys = append(keys, k)
		}
		c.JSON(http.StatusOK, keys)
	}
}

// AdminDeleteAPIKey removes the credential for one provider.
// DELETE /admin/api_keys/:provider
func AdminDeleteAPIKey(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := models.ProviderType(c.Param("provider"))
		if !provider.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown provider %q", c.Param("provider"))})
			return
		}

		tag, err := pool.Exec(context.Background(), `DELETE FROM api_keys WHERE provider = $1`, string(provider))
		if err != nil {
			log.Printf("Error deleting API key for provider %s: %v", provider, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete API key"})
			return
		}
		if tag.RowsAffected() == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "No key stored for provider"})
			return
		}

		db.LogAdminEvent(pool, c.GetString("user_email"), "api_key_deleted", string(provider), "")
		c.JSON(http.StatusOK, gin.H{"deleted": provider})
	}
}

// AdminIngestPaper runs ingestion for one paper bank directory.
// POST /admin/ingest/:paper_code
func AdminIngestPaper(pool *pgxpool.Pool, questionBankDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		paperCode := c.Param("paper_code")
		actor := c.GetString("user_email")

		result, err := ingestion.ProcessPaperBank(pool, paperCode, questionBankDir)
		if err != nil {
			log.Printf("Ingestion failed for paper %s: %v", paperCode, err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("Ingestion failed: %v", err)})
			return
		}

		db.LogAdminEvent(pool, actor, "paper_ingested", paperCode,
			fmt.Sprintf("%d inserted, %d skipped", result.Inserted, result.Skipped))
		c.JSON(http.StatusOK, gin.H{
			"paper_id": result.PaperID,
			"inserted": result.Inserted,
			"skipped":  result.Skipped,
		})
	}
}

// AdminBackfillPerformance rebuilds every user's performance summaries.
// POST /admin/backfill_performance
func AdminBackfillPerformance(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		done, err := analytics.AggregateAll(c.Request.Context(), pool)
		if err != nil {
			log.Printf("Performance backfill failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Backfill failed"})
			return
		}
		db.LogAdminEvent(pool, c.GetString("user_email"), "performance_backfill", "", fmt.Sprintf("%d user(s)", done))
		c.JSON(http.StatusOK, gin.H{"aggregated_users": done})
	}
}

// AdminQuestionStats lists per-question answer statistics.
// GET /admin/question_stats
func AdminQuestionStats(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		if page < 1 {
			page = 1
		}
		pageSize := 25
		offset := (page - 1) * pageSize

		rows, err := pool.Query(context.Background(), `
			SELECT q.id, q.question_text, q.difficulty_level, q.topic, q.numeric_difficulty, q.success_rate,
				COUNT(p.id), COUNT(p.id) FILTER (WHERE p.is_correct)
			FROM questions q
			LEFT JOIN user_performance_profiles p ON p.question_id = q.id
			GROUP BY q.id
			ORDER BY COUNT(p.id) DESC, q.id
			LIMIT $1 OFFSET $2
		`, pageSize, offset)
		if err != nil {
			log.Printf("Error querying question stats: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve question stats"})
			return
		}
		defer rows.Close()

		stats := []models.QuestionStats{}
		for rows.Next() {
			var s models.QuestionStats
			if err := rows.Scan(&s.QuestionID, &s.QuestionText, &s.DifficultyLevel, &s.Topic,
				&s.NumericDifficulty, &s.SuccessRate, &s.TimesAttempted, &s.CorrectCount); err != nil {
				log.Printf("Error scanning question stats row: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process question stats"})
				return
			}
			stats = append(stats, s)
		}
		c.JSON(http.StatusOK, gin.H{"page": page, "questions": stats})
	}
}

// AdminListSettings lists the tunable settings.
// GET /admin/settings
func AdminListSettings(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := pool.Query(context.Background(), `
			SELECT key, value, description, updated_at, updated_by FROM settings ORDER BY key
		`)
		if err != nil {
			log.Printf("Error querying settings: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve settings"})
			return
		}
		defer rows.Close()

		settings := []models.Setting{}
		for rows.Next() {
			var s models.Setting
			var description, updatedBy *string
			if err := rows.Scan(&s.Key, &s.Value, &description, &s.UpdatedAt, &updatedBy); err != nil {
				log.Printf("Error scanning setting row: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process settings"})
				return
			}
			if description != nil {
				s.Description = *description
			}
			if updatedBy != nil {
				s.UpdatedBy = *updatedBy
			}
			settings = append(settings, s)
		}
		c.JSON(http.StatusOK, settings)
	}
}

// AdminUpdateSetting changes one setting value.
// PUT /admin/settings/:key
func AdminUpdateSetting(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		var req struct {
			Value string `json:"value" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := c.GetString("user_email")

		tag, err := pool.Exec(context.Background(), `
			UPDATE settings SET value = $1, updated_by = $2, updated_at = CURRENT_TIMESTAMP WHERE key = $3
		`, req.Value, actor, key)
		if err != nil {
			log.Printf("Error updating setting %s: %v", key, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update setting"})
			return
		}
		if tag.RowsAffected() == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Setting not found"})
			return
		}

		db.LogAdminEvent(pool, actor, "setting_updated", key, req.Value)
		c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
	}
}
