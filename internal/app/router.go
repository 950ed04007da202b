package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"taximeter/internal/handler"
	"taximeter/internal/logger"
	"taximeter/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	FareCategoryHandler *handler.FareCategoryHandler
	TripHandler         *handler.TripHandler
	MeterStreamHandler  *handler.MeterStreamHandler
	DriverHandler       *handler.DriverHandler
	SurgeHandler        *handler.SurgeHandler
	RedisClient         *redis.Client
	NewRelicApp         *newrelic.Application
	Logger              *logger.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.NewRelicAttributes())
	}

	router.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Logger))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Fare category routes.
		categories := v1.Group("/fare-categories")
		{
			categories.POST("", deps.FareCategoryHandler.Create)
			categories.GET("", deps.FareCategoryHandler.GetAll)
			categories.GET("/:id", deps.FareCategoryHandler.Get)
			categories.PUT("/:id", deps.FareCategoryHandler.Update)
			categories.DELETE("/:id", deps.FareCategoryHandler.Delete)
		}

		// Trip routes.
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.StartTrip)
			trips.GET("", deps.TripHandler.GetAll)
			trips.GET("/:id", deps.TripHandler.GetTrip)
			trips.POST("/:id/positions", deps.TripHandler.RecordPosition)
			trips.PUT("/:id/multiplier", deps.TripHandler.SetMultiplier)
			trips.POST("/:id/pause", deps.TripHandler.PauseTrip)
			trips.POST("/:id/resume", deps.TripHandler.ResumeTrip)
			trips.POST("/:id/end", deps.TripHandler.EndTrip)
			trips.GET("/:id/meter", deps.TripHandler.GetMeter)
			trips.GET("/:id/meter/stream", deps.MeterStreamHandler.Stream)
			trips.GET("/:id/receipt", deps.TripHandler.GetReceipt)
		}

		// Driver routes.
		drivers := v1.Group("/drivers")
		{
			drivers.POST("/:id/location", deps.DriverHandler.UpdateLocation)
			drivers.POST("/:id/offline", deps.DriverHandler.SetOffline)
		}

		v1.GET("/surge", deps.SurgeHandler.GetSurge)
	}

	return router
}
