package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nghyane/medistream/internal/access"
)

func (s *Server) setupRoutes() {
	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "medistream",
			"endpoints": []string{
				"POST /api",
				"POST /api/consultation",
				"GET /api/idea",
				"GET /api/usage",
			},
		})
	})
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := s.engine.Group("/api")
	authed.Use(access.Middleware(s.access))
	{
		authed.POST("", s.handleConsultation)
		authed.POST("/consultation", s.handleConsultation)
		authed.GET("/idea", s.handleIdea)
		authed.GET("/usage", s.handleUsage)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
	})
}
