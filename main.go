package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/sudghosh/CIL-CBT-APP-sub001/analytics"
	"github.com/sudghosh/CIL-CBT-APP-sub001/attempt"
	"github.com/sudghosh/CIL-CBT-APP-sub001/config"
	"github.com/sudghosh/CIL-CBT-APP-sub001/db"
	"github.com/sudghosh/CIL-CBT-APP-sub001/handlers"
	"github.com/sudghosh/CIL-CBT-APP-sub001/middleware"
)

func main() {
	// .env first so viper sees its values as environment overrides.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment and config.yaml")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	pool, err := db.InitDB(cfg.ConnString())
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.CreateSchema(pool); err != nil {
		log.Fatalf("Error creating database schema: %v", err)
	}

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	// Admin UI templates
	renderer := multitemplate.NewRenderer()
	renderer.AddFromFiles("admin_dashboard", "templates/layout.html", "templates/admin_dashboard.html")
	router.HTMLRender = renderer

	authMiddleware := middleware.AuthMiddleware(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(authMiddleware)
	{
		apiV1.GET("/papers", handlers.GetPapers(pool))
		apiV1.POST("/tests/start", handlers.StartTest(pool))
		apiV1.POST("/tests/:attempt_id/answer", handlers.SubmitAnswer(pool))
		apiV1.GET("/tests/:attempt_id/status", handlers.GetAttemptStatus(pool))
		apiV1.POST("/tests/:attempt_id/complete", handlers.CompleteTest(pool))
		apiV1.GET("/calibration/status", handlers.GetCalibrationStatus(pool))
		apiV1.GET("/calibration/details", handlers.GetCalibrationDetails(pool))
		apiV1.GET("/performance/overall", handlers.GetOverallPerformance(pool))
		apiV1.GET("/performance/topics", handlers.GetTopicPerformance(pool))
	}

	admin := router.Group("/admin")
	admin.Use(authMiddleware)
	admin.Use(middleware.RoleCheckMiddleware([]string{"admin"}))
	{
		admin.GET("/dashboard", handlers.AdminDashboard(pool))
		admin.GET("/templates", handlers.AdminListTemplates(pool))
		admin.POST("/templates", handlers.AdminCreateTemplate(pool))
		admin.DELETE("/templates/:template_id", handlers.AdminDeleteTemplate(pool))
		admin.GET("/api_keys", handlers.AdminListAPIKeys(pool))
		admin.PUT("/api_keys", handlers.AdminUpsertAPIKey(pool))
		admin.DELETE("/api_keys/:provider", handlers.AdminDeleteAPIKey(pool))
		admin.POST("/ingest/:paper_code", handlers.AdminIngestPaper(pool, cfg.QuestionBankDir))
		admin.POST("/backfill_performance", handlers.AdminBackfillPerformance(pool))
		admin.GET("/question_stats", handlers.AdminQuestionStats(pool))
		admin.GET("/settings", handlers.AdminListSettings(pool))
		admin.PUT("/settings/:key", handlers.AdminUpdateSetting(pool))
	}

	// Background sweep for attempts that ran out of time.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := attempt.ExpireStale(context.Background(), pool); err != nil {
				log.Printf("Error sweeping stale attempts: %v", err)
				db.LogAdminEvent(pool, "system", "attempt_sweep_failed", "", fmt.Sprintf("Error: %v", err))
			}
		}
	}()

	// Background refresh of crowd-sourced question metrics.
	go func() {
		ticker := time.NewTicker(cfg.MetricsInterval)
		defer ticker.Stop()
		for range ticker.C {
			log.Println("Running scheduled question metrics refresh...")
			if _, err := analytics.RefreshQuestionMetrics(context.Background(), pool); err != nil {
				log.Printf("Error refreshing question metrics: %v", err)
				db.LogAdminEvent(pool, "system", "metrics_refresh_failed", "all_questions", fmt.Sprintf("Error: %v", err))
			}
		}
	}()

	srv := &http.Server{
		Addr:    cfg.ServerPort,
		Handler: router,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("CBT Server starting on %s", cfg.ServerPort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server startup error: %v", err)
	}
	log.Println("Server exited gracefully.")
}
