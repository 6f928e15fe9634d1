package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campushub/thesis-api/api/swagger"
	"github.com/campushub/thesis-api/internal/gateway"
	"github.com/campushub/thesis-api/internal/handler"
	"github.com/campushub/thesis-api/internal/middleware"
	"github.com/campushub/thesis-api/internal/models"
	"github.com/campushub/thesis-api/internal/repository"
	"github.com/campushub/thesis-api/internal/service"
	"github.com/campushub/thesis-api/pkg/cache"
	"github.com/campushub/thesis-api/pkg/config"
	"github.com/campushub/thesis-api/pkg/database"
	"github.com/campushub/thesis-api/pkg/export"
	"github.com/campushub/thesis-api/pkg/logger"
	corsmiddleware "github.com/campushub/thesis-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campushub/thesis-api/pkg/middleware/requestid"
	"github.com/campushub/thesis-api/pkg/storage"
)

// @title Thesis Management API
// @version 1.0.0
// @description Thesis lifecycle management: topics, applications, theses and presentations
// @BasePath /api/v2
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	documents, err := storage.NewDocumentStore(cfg.Documents.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document store", "error", err)
	}

	validate := validator.New()
	txManager := database.NewTxManager(db)

	userRepo := repository.NewUserRepository(db)
	topicRepo := repository.NewTopicRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	thesisRepo := repository.NewThesisRepository(db)
	presentationRepo := repository.NewPresentationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsService := service.NewMetricsService()
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Feed.CacheTTL, logr, true)

	mailer := gateway.NewQueuedMailer(gateway.NewMailer(cfg.Mail, logr), cfg.Mail, metricsService, logr)
	mailer.Start(context.Background())
	defer mailer.Stop()
	calendar := gateway.NewCalendar(cfg.Calendar, logr)
	identity := gateway.NewIdentitySync(cfg.Identity, logr)

	authService := service.NewAuthService(userRepo, identity, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "thesis-api",
		Audience:           []string{"thesis-api"},
	})
	userService := service.NewUserService(userRepo, identity, validate, logr)
	topicService := service.NewTopicService(topicRepo, applicationRepo, userRepo, txManager, mailer, validate, logr)
	applicationService := service.NewApplicationService(applicationRepo, topicRepo, thesisRepo, userRepo, identity, txManager, mailer, validate, logr).WithMetrics(metricsService)
	thesisService := service.NewThesisService(thesisRepo, userRepo, documents, identity, txManager, mailer, cfg.Documents, validate, logr).WithMetrics(metricsService)
	presentationService := service.NewPresentationService(presentationRepo, thesisRepo, userRepo, calendar, mailer, cacheService, txManager, cfg.Presentations, cfg.Feed, validate, logr).WithMetrics(metricsService)
	exportService := service.NewExportService(thesisRepo, userRepo, logr, export.NewCSVExporter(), export.NewPDFExporter())

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	topicHandler := handler.NewTopicHandler(topicService)
	applicationHandler := handler.NewApplicationHandler(applicationService)
	thesisHandler := handler.NewThesisHandler(thesisService, exportService)
	presentationHandler := handler.NewPresentationHandler(presentationService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Anonymous surface.
	api.GET("/feed/presentations.ics", presentationHandler.Feed)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("", middleware.JWT(authService))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	users := api.Group("/users", middleware.JWT(authService))
	{
		users.GET("", middleware.RequireStaff(), userHandler.List)
		users.GET("/:id", middleware.RequireGroups(models.GroupAdmin, "SELF"), userHandler.Get)
		users.POST("", middleware.RequireGroups(models.GroupAdmin), userHandler.Create)
		users.PUT("/:id", middleware.RequireGroups(models.GroupAdmin, "SELF"), userHandler.Update)
		users.PUT("/:id/groups", middleware.RequireGroups(models.GroupAdmin), userHandler.SetGroups)
		users.DELETE("/:id", middleware.RequireGroups(models.GroupAdmin), userHandler.Delete)
	}

	topics := api.Group("/topics", middleware.JWT(authService))
	{
		topics.GET("", topicHandler.List)
		topics.GET("/:id", topicHandler.Get)
		topics.POST("", middleware.RequireStaff(), topicHandler.Create)
		topics.PUT("/:id", middleware.RequireStaff(), topicHandler.Update)
		topics.POST("/:id/close", middleware.RequireStaff(), topicHandler.Close)
	}

	applications := api.Group("/applications", middleware.JWT(authService))
	{
		applications.POST("", applicationHandler.Submit)
		applications.GET("", applicationHandler.List)
		applications.GET("/:id", applicationHandler.Get)
		applications.POST("/:id/accept", middleware.RequireStaff(), applicationHandler.Accept)
		applications.POST("/:id/reject", middleware.RequireStaff(), applicationHandler.Reject)
		applications.PUT("/:id/mark", middleware.RequireStaff(), applicationHandler.Mark)
		applications.DELETE("/:id/mark", middleware.RequireStaff(), applicationHandler.ClearMark)
		applications.GET("/:id/marks", middleware.RequireStaff(), applicationHandler.Marks)
	}

	theses := api.Group("/theses")
	{
		// Reads tolerate anonymous callers; visibility rules scope the
		// results.
		thesisReads := theses.Group("", middleware.OptionalJWT(authService))
		thesisReads.GET("", thesisHandler.List)
		thesisReads.GET("/:id", thesisHandler.Get)

		authed := theses.Group("", middleware.JWT(authService))
		authed.POST("", thesisHandler.Create)
		authed.GET("/export", middleware.RequireStaff(), thesisHandler.Export)
		authed.PUT("/:id", thesisHandler.Update)
		authed.POST("/:id/proposal", thesisHandler.SubmitProposal)
		authed.POST("/:id/proposal/:proposalId/accept", thesisHandler.AcceptProposal)
		authed.POST("/:id/files", thesisHandler.UploadFile)
		authed.GET("/:id/documents/:ref", thesisHandler.Document)
		authed.POST("/:id/submit", thesisHandler.Submit)
		authed.POST("/:id/assess", thesisHandler.Assess)
		authed.POST("/:id/grade", thesisHandler.Grade)
		authed.POST("/:id/complete", thesisHandler.Complete)
		authed.POST("/:id/drop-out", thesisHandler.DropOut)
	}

	presentations := api.Group("/presentations")
	{
		presentationReads := presentations.Group("", middleware.OptionalJWT(authService))
		presentationReads.GET("", presentationHandler.List)
		presentationReads.GET("/:id", presentationHandler.Get)

		authed := presentations.Group("", middleware.JWT(authService))
		authed.POST("", presentationHandler.Create)
		authed.PUT("/:id", presentationHandler.Update)
		authed.POST("/:id/schedule", presentationHandler.Schedule)
		authed.DELETE("/:id", presentationHandler.Delete)
	}

	admin := api.Group("/admin", middleware.JWT(authService), middleware.RequireGroups(models.GroupAdmin))
	{
		admin.GET("/metrics", metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
