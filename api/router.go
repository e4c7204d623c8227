package api

import (
	"github.com/gin-gonic/gin"

	"promptcut/config"
)

func SetupRouter(svc JobService, files ObjectStore, tasks TaskLister, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(), gin.Recovery(), CORS(cfg))
	h := NewHandler(svc, files, tasks, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		// Direct uploads: issue a signed URL, then PUT the bytes to it.
		v1.POST("/uploads/url", h.handleIssueUpload)
		v1.PUT("/uploads/*key", h.handleUpload)

		v1.POST("/jobs", h.handleCreateUploadJob)
		v1.POST("/jobs/url", h.handleCreateURLJob)
		v1.GET("/jobs/:jobId", h.handleGetJob)
		v1.GET("/jobs/:jobId/tasks", h.handleListTasks)

		// Push targets for the stage queue.
		workers := v1.Group("/workers")
		workers.Use(AuthMiddleware(cfg))
		workers.POST("/download", h.handleWorkerDownload)
		workers.POST("/analyze", h.handleWorkerAnalyze)
	}

	// Public results, or anything with a valid signature.
	r.GET("/files/*key", h.handleGetFile)
	r.HEAD("/files/*key", h.handleGetFile)
	return r
}
