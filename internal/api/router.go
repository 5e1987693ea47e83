package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/warit/csvmatch/internal/api/handler"
	"github.com/warit/csvmatch/internal/api/middleware"
	"github.com/warit/csvmatch/internal/config"
	"github.com/warit/csvmatch/internal/logger"
	"github.com/warit/csvmatch/internal/repository"
	"github.com/warit/csvmatch/internal/service"
)

// Deps are the constructed services and repositories the router wires into
// handlers.
type Deps struct {
	DB        *gorm.DB
	Intake    *service.Intake
	Lifecycle *service.TaskLifecycle
	Search    *service.SearchService
	Tracker   *service.SearchTracker
	Tasks     *repository.TaskRepository
	Logger    *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Deps, cfg *config.ServerConfig) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))
	r.Use(middleware.Owner())

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.DB)
	taskHandler := handler.NewTaskHandler(deps.Intake, deps.Lifecycle, deps.Tasks, deps.Tracker, deps.Search)
	searchHandler := handler.NewSearchHandler(deps.Search, deps.Tracker)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(middleware.RequireOwner())
	{
		// Tasks
		v1.POST("/tasks", taskHandler.Create)
		v1.GET("/tasks", taskHandler.List)
		v1.GET("/tasks/:id", taskHandler.Get)
		v1.POST("/tasks/:id/cancel", taskHandler.Cancel)
		v1.GET("/tasks/:id/columns", taskHandler.Columns)
		v1.GET("/tasks/:id/stats", taskHandler.Stats)

		// Search
		v1.POST("/search/single", searchHandler.Single)
		v1.POST("/search/bulk", searchHandler.Bulk)
		v1.GET("/search/history", searchHandler.History)
	}

	return r
}
