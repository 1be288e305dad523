package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter creates and configures the Gin router. An empty allowedOrigins
// allows all origins.
func SetupRouter(handler *Handler, allowedOrigins []string) *gin.Engine {
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	// API v1 routes.
	v1 := router.Group("/v1")
	tec := v1.Group("/tec")
	tec.GET("/archive", handler.GetArchive)
	tec.GET("/neighborhood", handler.GetNeighborhood)
	tec.POST("/interpolate", handler.Interpolate)
	tec.GET("/runs", handler.ListRuns)
	tec.GET("/runs/:id", handler.GetRun)

	// Health check.
	router.GET("/health", handler.HealthCheck)

	return router
}
