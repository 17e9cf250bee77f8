package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	commonmw "ojcore/internal/common/http/middleware"
	"ojcore/pkg/utils/logger"
)

// NewRouter wires the judge endpoints onto a gin engine.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	api := router.Group("/api")

	submissions := api.Group("/submissions")
	submissions.POST("/", h.CreateSubmission)
	submissions.GET("/", h.ListSubmissions)
	submissions.GET("/:id", h.GetSubmission)
	submissions.PUT("/:id/rejudge", h.Rejudge)
	submissions.GET("/:id/log", h.GetSubmissionLog)

	problems := api.Group("/problems")
	problems.PUT("/:pid/log_visibility", h.SetLogVisibility)
	problems.POST("/:pid/spj", h.UploadChecker)
	problems.DELETE("/:pid/spj", h.DeleteChecker)
	problems.POST("/:pid/spj/test", h.TestChecker)

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
