package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudghosh/CIL-CBT-APP-sub001/adaptive"
	"github.com/sudghosh/CIL-CBT-APP-sub001/analytics"
	"github.com/sudghosh/CIL-CBT-APP-sub001/attempt"
	"github.com/sudghosh/CIL-CBT-APP-sub001/db"
	"github.com/sudghosh/CIL-CBT-APP-sub001/models"
)

// currentUserID resolves the authenticated caller to a user row, creating
// it on first sight. Returns false after writing the error response.
func currentUserID(c *gin.Context, pool *pgxpool.Pool) (int, bool) {
	email := c.GetString("user_email")
	if email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No authenticated user"})
		return 0, false
	}
	userID, err := db.GetOrCreateUser(pool, email)
	if err != nil {
		log.Printf("Error resolving user %s: %v", email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve user record"})
		return 0, false
	}
	return userID, true
}

func attemptIDParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("attempt_id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid attempt ID"})
		return 0, false
	}
	return id, true
}

// respondAttemptError maps lifecycle errors to HTTP statuses.
func respondAttemptError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attempt.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Attempt not found"})
	case errors.Is(err, attempt.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "Attempt belongs to another user"})
	case errors.Is(err, attempt.ErrAttemptFinished):
		c.JSON(http.StatusConflict, gin.H{"error": "Attempt is no longer in progress"})
	case errors.Is(err, attempt.ErrQuestionNotInSet):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Question is not part of this attempt"})
	case errors.Is(err, attempt.ErrAlreadyAnswered):
		c.JSON(http.StatusConflict, gin.H{"error": "Question already answered in this attempt"})
	case errors.Is(err, attempt.ErrTemplateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Test template not found"})
	case errors.Is(err, attempt.ErrTemplateNoSections):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Test template has no sections"})
	case errors.Is(err, attempt.ErrNoQuestions):
		c.JSON(http.StatusConflict, gin.H{"error": "No questions available for this template"})
	default:
		log.Printf("Attempt operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// GetPapers lists active papers with their section tree and question counts.
// GET /api/v1/papers
func GetPapers(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := pool.Query(context.Background(), `
			SELECT p.id, p.paper_code, p.paper_name, p.is_active, COUNT(q.id)
			FROM papers p
			LEFT JOIN questions q ON q.paper_id = p.id
			WHERE p.is_active
			GROUP BY p.id
			ORDER BY p.paper_name
		`)
		if err != nil {
			log.Printf("Error querying papers: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve papers"})
			return
		}
		defer rows.Close()

		papers := []models.PaperInfo{}
		index := make(map[int]int)
		for rows.Next() {
			var p models.PaperInfo
			if err := rows.Scan(&p.ID, &p.PaperCode, &p.PaperName, &p.IsActive, &p.QuestionCount); err != nil {
				log.Printf("Error scanning paper row: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process paper data"})
				return
			}
			index[p.ID] = len(papers)
			papers = append(papers, p)
		}

		sectionRows, err := pool.Query(context.Background(), `
			SELECT s.id, s.paper_id, s.section_name, sub.id, sub.subsection_name
			FROM sections s
			LEFT JOIN subsections sub ON sub.section_id = s.id
			ORDER BY s.paper_id, s.section_name, sub.subsection_name
		`)
		if err != nil {
			log.Printf("Error querying sections: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve sections"})
			return
		}
		defer sectionRows.Close()

		for sectionRows.Next() {
			var sectionID, paperID int
			var sectionName string
			var subID *int
			var subName *string
			if err := sectionRows.Scan(&sectionID, &paperID, &sectionName, &subID, &subName); err != nil {
				log.Printf("Error scanning section row: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process section data"})
				return
			}
			pi, ok := index[paperID]
			if !ok {
				continue
			}
			sections := papers[pi].Sections
			if len(sections) == 0 || sections[len(sections)-1].ID != sectionID {
				sections = append(sections, models.SectionInfo{ID: sectionID, SectionName: sectionName})
			}
			if subID != nil && subName != nil {
				last := &sections[len(sections)-1]
				last.Subsections = append(last.Subsections, models.SubsectionInfo{ID: *subID, SubsectionName: *subName})
			}
			papers[pi].Sections = sections
		}

		c.JSON(http.StatusOK, papers)
	}
}

// StartTest creates a new attempt from a template.
// POST /api/v1/tests/start
func StartTest(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.StartTestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		userID, ok := currentUserID(c, pool)
		if !ok {
			return
		}

		resp, err := attempt.Start(c.Request.Context(), pool, userID, req)
		if err != nil {
			respondAttemptError(c, err)
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// SubmitAnswer grades one answer for an in-progress attempt.
// POST /api/v1/tests/:attempt_id/answer
func SubmitAnswer(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		attemptID, ok := attemptIDParam(c)
		if !ok {
			return
		}
		var req models.AnswerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		userID, ok := currentUserID(c, pool)
		if !ok {
			return
		}

		resp, err := attempt.SubmitAnswer(c.Request.Context(), pool, userID, attemptID, req)
		if err != nil {
			respondAttemptError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// GetAttemptStatus reports progress and remaining time for an attempt.
// GET /api/v1/tests/:attempt_id/status
func GetAttemptStatus(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		attemptID, ok := attemptIDParam(c)
		if !ok {
			return
		}
		userID, ok := currentUserID(c, pool)
		if !ok {
			return
		}

		resp, err := attempt.Status(c.Request.Context(), pool, userID, attemptID)
		if err != nil {
			respondAttemptError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// CompleteTest finalises an attempt and returns its score.
// POST /api/v1/tests/:attempt_id/complete
func CompleteTest(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		attemptID, ok := attemptIDParam(c)
		if !ok {
			return
		}
		userID, ok := currentUserID(c, pool)
		if !ok {
			return
		}

		resp, err := attempt.Complete(c.Request.Context(), pool, userID, attemptID)
		if err != nil {
			respondAttemptError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// GetCalibrationStatus returns the caller's overall calibration readout.
// GET /api/v1/calibration/status
func GetCalibrationStatus(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c, pool)
		if !ok {
			return
		}
		status, err := adaptive.StatusForUser(c.Request.Context(), pool, userID)
		if err != nil {
			log.Printf("Error computing calibration status for user %d: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute calibration status"})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// GetCalibrationDetails returns the per-bucket calibration breakdown.
// GET /api/v1/calibration/details
func GetCalibrationDetails(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c, pool)
		if !ok {
			return
		}
		details, err := adaptive.DetailsForUser(c.Request.Context(), pool, userID)
		if err != nil {
			log.Printf("Error computing calibration details for user %d: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute calibration details"})
			return
		}
		c.JSON(http.StatusOK, details)
	}
}

// GetOverallPerformance returns the caller's aggregated performance summary.
// GET /api/v1/performance/overall
func GetOverallPerformance(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c, pool)
		if !ok {
			return
		}
		summary, err := analytics.OverallForUser(c.Request.Context(), pool, userID)
		if err != nil {
			log.Printf("Error loading overall performance for user %d: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve performance summary"})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// GetTopicPerformance returns the caller's per-topic performance summaries.
// GET /api/v1/performance/topics
func GetTopicPerformance(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c, pool)
		if !ok {
			return
		}
		summaries, err := analytics.TopicsForUser(c.Request.Context(), pool, userID)
		if err != nil {
			log.Printf("Error loading topic performance for user %d: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve topic summaries"})
			return
		}
		c.JSON(http.StatusOK, summaries)
	}
}
