package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"promptcut/config"
	"promptcut/job"
	"promptcut/logger"
	"promptcut/pipeline"
	"promptcut/storage"
	"promptcut/task"
)

// JobService is what the handlers need from the pipeline.
type JobService interface {
	IssueUpload(filename string, ttl time.Duration) (key, uploadURL string, err error)
	CreateUploadJob(ctx context.Context, sourceRef, prompt string) (*job.Job, error)
	CreateURLJob(ctx context.Context, videoURL, prompt string) (*job.Job, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	HandleDownload(ctx context.Context, jobID string) error
	HandleAnalyze(ctx context.Context, jobID string) error
}

// ObjectStore is the local bucket as seen by the upload and file routes.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Path(key string) (string, error)
	IsPublic(key string) bool
	Verify(method, key, expires, signature string) error
}

// TaskLister exposes queue deliveries for a job. It may be nil.
type TaskLister interface {
	List(jobID string) []*task.Task
}

var _ JobService = (*pipeline.Orchestrator)(nil)
var _ ObjectStore = (*storage.Local)(nil)

type Handler struct {
	svc   JobService
	files ObjectStore
	tasks TaskLister
	cfg   *config.Config
}

func NewHandler(svc JobService, files ObjectStore, tasks TaskLister, cfg *config.Config) *Handler {
	return &Handler{
		svc:   svc,
		files: files,
		tasks: tasks,
		cfg:   cfg,
	}
}

type UploadURLRequest struct {
	Filename string `json:"filename" binding:"required"`
}

type UploadJobRequest struct {
	SourceRef string `json:"source_ref" binding:"required"`
	Prompt    string `json:"prompt" binding:"required"`
}

type URLJobRequest struct {
	VideoURL string `json:"video_url" binding:"required"`
	Prompt   string `json:"prompt" binding:"required"`
}

type WorkerRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

// handleIssueUpload returns a signed PUT URL and the key the upload will live under.
func (h *Handler) handleIssueUpload(c *gin.Context) {
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, uploadURL, err := h.svc.IssueUpload(req.Filename, h.cfg.UploadURLTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign upload url", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"upload_url": uploadURL,
		"source_ref": key,
		"expires_in": int(h.cfg.UploadURLTTL.Seconds()),
	})
}

// handleUpload stores the request body under a key signed by handleIssueUpload.
func (h *Handler) handleUpload(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := h.files.Verify(http.MethodPut, key, c.Query("expires"), c.Query("signature")); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	body := c.Request.Body
	if h.cfg.MaxInputSize > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.cfg.MaxInputSize)
	}
	n, err := h.files.Put(c.Request.Context(), key, body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds size limit"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store upload", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"source_ref": key, "size": n})
}

func (h *Handler) handleCreateUploadJob(c *gin.Context) {
	var req UploadJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	j, err := h.svc.CreateUploadJob(c.Request.Context(), req.SourceRef, req.Prompt)
	h.respondCreated(c, j, err)
}

func (h *Handler) handleCreateURLJob(c *gin.Context) {
	var req URLJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	j, err := h.svc.CreateURLJob(c.Request.Context(), req.VideoURL, req.Prompt)
	h.respondCreated(c, j, err)
}

func (h *Handler) respondCreated(c *gin.Context, j *job.Job, err error) {
	if errors.Is(err, pipeline.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job", "details": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": j.ID, "state": j.State})
}

// handleGetJob returns the job snapshot the frontend polls.
func (h *Handler) handleGetJob(c *gin.Context) {
	j, err := h.svc.GetJob(c.Request.Context(), c.Param("jobId"))
	if errors.Is(err, job.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, j)
}

// handleListTasks lists the queue deliveries this process made for a job.
func (h *Handler) handleListTasks(c *gin.Context) {
	if h.tasks == nil {
		c.JSON(http.StatusOK, []*task.Task{})
		return
	}
	tasks := h.tasks.List(c.Param("jobId"))
	if tasks == nil {
		tasks = []*task.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *Handler) handleWorkerDownload(c *gin.Context) {
	h.runWorker(c, task.StageDownload, h.svc.HandleDownload)
}

func (h *Handler) handleWorkerAnalyze(c *gin.Context) {
	h.runWorker(c, task.StageAnalyze, h.svc.HandleAnalyze)
}

// runWorker acknowledges every delivery it could act on, including failed and
// stale ones, so the queue stops redelivering. Only an untouched job (the
// record could not be read) answers 503.
func (h *Handler) runWorker(c *gin.Context, stage task.Stage, handle func(context.Context, string) error) {
	var req WorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The stage outlives a dropped push connection.
	ctx := context.WithoutCancel(c.Request.Context())
	if err := handle(ctx, req.JobID); err != nil {
		logger.WithJob(req.JobID, string(stage)).Errorf("Delivery not processed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": req.JobID, "status": "acknowledged"})
}

// handleGetFile serves a stored object: public ones freely, others with a
// valid signature.
func (h *Handler) handleGetFile(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if !h.files.IsPublic(key) {
		if err := h.files.Verify(http.MethodGet, key, c.Query("expires"), c.Query("signature")); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
	}

	filePath, err := h.files.Path(key)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if info, err := os.Stat(filePath); err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.File(filePath)
}
