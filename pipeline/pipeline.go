// Package pipeline runs prompt-driven edit jobs: intake, the download stage for
// URL jobs and the analyze stage that asks the model and assembles the cut.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"promptcut/assemble"
	"promptcut/fetch"
	"promptcut/job"
	"promptcut/logger"
	"promptcut/model"
	"promptcut/segment"
	"promptcut/storage"
	"promptcut/task"
)

// Terminal writes get their own deadline so a job that timed out can still be
// marked FAILED.
const finalizeTimeout = 30 * time.Second

const defaultSignTTL = 15 * time.Minute

// Enqueuer schedules stage deliveries. Deliveries are at-least-once.
type Enqueuer interface {
	Enqueue(ctx context.Context, stage task.Stage, jobID string) error
}

// Model finds the parts of a video matching a prompt.
type Model interface {
	FindSegments(ctx context.Context, videoURL, prompt string) (string, error)
}

// Assembler materializes a stored source and renders the cut list.
type Assembler interface {
	Open(ctx context.Context, ref string) (*assemble.Source, error)
	Assemble(ctx context.Context, src *assemble.Source, cuts []segment.TimeRange, outputKey string) (string, error)
}

// Deps are the collaborators, built once in main.
type Deps struct {
	Jobs         *job.Machine
	Bucket       storage.Bucket
	Queue        Enqueuer
	Fetcher      fetch.Fetcher
	Model        Model
	Assembler    Assembler
	TempDir      string
	StageTimeout time.Duration
	SignTTL      time.Duration
}

var _ Model = (*model.Client)(nil)
var _ Assembler = (*assemble.Assembler)(nil)

type Orchestrator struct {
	Deps
	newID func() string
}

func New(d Deps) *Orchestrator {
	if d.SignTTL <= 0 {
		d.SignTTL = defaultSignTTL
	}
	return &Orchestrator{Deps: d, newID: shortuuid.New}
}

// UploadKey returns a fresh storage key for an uploaded file.
func UploadKey(filename string) string {
	return fmt.Sprintf("uploads/%s_%s.mp4", uuid.NewString(), fetch.SafeName(filename))
}

// IssueUpload reserves a key and signs a PUT URL for a direct upload.
func (o *Orchestrator) IssueUpload(filename string, ttl time.Duration) (key, uploadURL string, err error) {
	key = UploadKey(filename)
	uploadURL, err = o.Bucket.SignURL(http.MethodPut, key, ttl)
	if err != nil {
		return "", "", err
	}
	return key, uploadURL, nil
}

// CreateUploadJob starts a job for an object that is already in storage.
func (o *Orchestrator) CreateUploadJob(ctx context.Context, sourceRef, prompt string) (*job.Job, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	key, err := storage.CleanKey(sourceRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := o.Bucket.Stat(ctx, key); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: source %q was not uploaded", ErrInvalidInput, key)
		}
		return nil, err
	}

	j := &job.Job{
		ID:        o.newID(),
		Kind:      job.KindUpload,
		State:     job.StatePending,
		Prompt:    prompt,
		SourceRef: key,
	}
	if err := o.Jobs.Create(ctx, j); err != nil {
		return nil, err
	}
	logger.WithJob(j.ID, "intake").Infof("Upload job created for %s", key)
	return o.enqueue(ctx, j, task.StageAnalyze), nil
}

// CreateURLJob starts a job whose source must be downloaded first.
func (o *Orchestrator) CreateURLJob(ctx context.Context, videoURL, prompt string) (*job.Job, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	videoURL = strings.TrimSpace(videoURL)
	if err := fetch.ValidateURL(videoURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	j := &job.Job{
		ID:        o.newID(),
		Kind:      job.KindURL,
		State:     job.StatePendingURL,
		Prompt:    prompt,
		SourceURL: videoURL,
	}
	if err := o.Jobs.Create(ctx, j); err != nil {
		return nil, err
	}
	logger.WithJob(j.ID, "intake").Infof("URL job created for %s", videoURL)
	return o.enqueue(ctx, j, task.StageDownload), nil
}

// GetJob returns a snapshot of the job or job.ErrNotFound.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return o.Jobs.Get(ctx, id)
}

// WaitFor polls the job until it reaches a terminal state or ctx ends.
func (o *Orchestrator) WaitFor(ctx context.Context, id string, every time.Duration) (*job.Job, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		j, err := o.Jobs.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if j.State.Terminal() {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-ticker.C:
		}
	}
}

// enqueue schedules the next stage. When that fails the job is failed, since
// nothing would ever move it again.
func (o *Orchestrator) enqueue(ctx context.Context, j *job.Job, stage task.Stage) *job.Job {
	err := o.Queue.Enqueue(ctx, stage, j.ID)
	if err == nil {
		return j
	}
	log := logger.WithJob(j.ID, string(stage))
	log.Errorf("Could not enqueue stage: %v", err)

	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	info := (&StageError{Reason: ReasonInternal, Err: fmt.Errorf("could not enqueue %s stage: %w", stage, err)}).Error()
	failed, ferr := o.Jobs.Fire(fctx, j.ID, job.EventEnqueueFailed, job.Changes{ErrorInfo: info})
	if ferr != nil {
		log.Errorf("Could not mark job failed: %v", ferr)
		return j
	}
	return failed
}

// Dispatch implements task.Dispatcher for in-process delivery.
func (o *Orchestrator) Dispatch(ctx context.Context, t *task.Task) error {
	switch t.Stage {
	case task.StageDownload:
		return o.HandleDownload(ctx, t.JobID)
	case task.StageAnalyze:
		return o.HandleAnalyze(ctx, t.JobID)
	}
	logger.Errorf("Dropping task %s with unknown stage %q", t.ID, t.Stage)
	return nil
}

type stageDef struct {
	name      task.Stage
	delivered job.Event
	succeeded job.Event
	failed    job.Event
	next      task.Stage
	work      func(ctx context.Context, j *job.Job) (job.Changes, error)
}

// HandleDownload runs the download stage for a URL job. It returns an error
// only when the job was left untouched, so the delivery can be retried.
func (o *Orchestrator) HandleDownload(ctx context.Context, jobID string) error {
	return o.runStage(ctx, jobID, stageDef{
		name:      task.StageDownload,
		delivered: job.EventDownloadDelivered,
		succeeded: job.EventDownloadSucceeded,
		failed:    job.EventDownloadFailed,
		next:      task.StageAnalyze,
		work:      o.download,
	})
}

// HandleAnalyze runs the analyze stage: model, parse, sanitize, assemble.
func (o *Orchestrator) HandleAnalyze(ctx context.Context, jobID string) error {
	return o.runStage(ctx, jobID, stageDef{
		name:      task.StageAnalyze,
		delivered: job.EventAnalyzeDelivered,
		succeeded: job.EventAnalyzeSucceeded,
		failed:    job.EventAnalyzeFailed,
		work:      o.analyze,
	})
}

func (o *Orchestrator) runStage(parent context.Context, jobID string, s stageDef) error {
	log := logger.WithJob(jobID, string(s.name))

	ctx, cancel := parent, context.CancelFunc(func() {})
	if o.StageTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, o.StageTimeout)
	}
	defer cancel()

	j, err := o.Jobs.Fire(ctx, jobID, s.delivered, job.Changes{})
	if errors.Is(err, job.ErrStale) {
		log.Debugf("Ignoring delivery: %v", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	log.Info("Stage started.")
	start := time.Now()

	changes, serr := o.safely(ctx, j, s.work)
	if serr != nil {
		o.fail(parent, jobID, s.name, s.failed, serr)
		return nil
	}

	fctx, fcancel := finalizeContext(parent)
	defer fcancel()
	done, err := o.Jobs.Fire(fctx, jobID, s.succeeded, changes)
	if errors.Is(err, job.ErrStale) {
		log.Warnf("Stage result discarded: %v", err)
		return nil
	}
	if err != nil {
		o.fail(parent, jobID, s.name, s.failed, &StageError{Reason: ReasonInternal, Err: err})
		return nil
	}
	log.WithField("elapsed", time.Since(start).String()).Infof("Stage finished, job is %s.", done.State)

	if s.next != "" {
		o.enqueue(parent, done, s.next)
	}
	return nil
}

// safely runs work and turns a panic into an internal failure.
func (o *Orchestrator) safely(ctx context.Context, j *job.Job, work func(context.Context, *job.Job) (job.Changes, error)) (c job.Changes, serr *StageError) {
	defer func() {
		if r := recover(); r != nil {
			serr = &StageError{Reason: ReasonInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	c, err := work(ctx, j)
	if err != nil {
		return job.Changes{}, asStageError(ctx, err)
	}
	return c, nil
}

func (o *Orchestrator) fail(parent context.Context, jobID string, stage task.Stage, ev job.Event, serr *StageError) {
	log := logger.WithJob(jobID, string(stage)).WithField("reason", serr.Reason)
	fctx, cancel := finalizeContext(parent)
	defer cancel()
	if _, err := o.Jobs.Fire(fctx, jobID, ev, job.Changes{ErrorInfo: serr.Error()}); err != nil {
		log.Errorf("Could not mark job failed (%v): %v", serr, err)
		return
	}
	log.Warnf("Job failed: %v", serr)
}

func (o *Orchestrator) download(ctx context.Context, j *job.Job) (job.Changes, error) {
	path, err := o.Fetcher.Fetch(ctx, j.SourceURL, o.TempDir)
	if err != nil {
		return job.Changes{}, stageErr(ctx, ReasonFetch, err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warnf("Failed to remove temp download %s: %v", path, err)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return job.Changes{}, stageErr(ctx, ReasonFetch, err)
	}
	defer f.Close()

	key := fmt.Sprintf("uploads/%s_%s.mp4", j.ID, fetch.SourceName(j.SourceURL))
	n, err := o.Bucket.Put(ctx, key, f)
	if err != nil {
		return job.Changes{}, stageErr(ctx, ReasonStorage, err)
	}
	logger.WithJob(j.ID, string(task.StageDownload)).Infof("Stored %d bytes as %s", n, key)
	return job.Changes{SourceRef: key}, nil
}

func (o *Orchestrator) analyze(ctx context.Context, j *job.Job) (job.Changes, error) {
	log := logger.WithJob(j.ID, string(task.StageAnalyze))

	videoURL, err := o.Bucket.SignURL(http.MethodGet, j.SourceRef, o.SignTTL)
	if err != nil {
		return job.Changes{}, stageErr(ctx, ReasonStorage, err)
	}
	text, err := o.Model.FindSegments(ctx, videoURL, j.Prompt)
	if err != nil {
		return job.Changes{}, stageErr(ctx, ReasonModel, err)
	}
	raw, err := segment.ParseResponse(text)
	if err != nil {
		return job.Changes{}, stageErr(ctx, ReasonMalformed, err)
	}
	log.Debugf("Model proposed %d ranges", len(raw))

	src, err := o.Assembler.Open(ctx, j.SourceRef)
	if err != nil {
		return job.Changes{}, classify(ctx, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warnf("Failed to remove local source copy: %v", err)
		}
	}()

	cuts := segment.Sanitize(raw, src.Info.Duration)
	if len(cuts) == 0 {
		return job.Changes{}, stageErr(ctx, ReasonNoSegments, assemble.ErrNoSegments)
	}
	log.Infof("Cutting %d segments (%.3fs of %.3fs)", len(cuts), segment.Total(cuts), src.Info.Duration)

	publicURL, err := o.Assembler.Assemble(ctx, src, cuts, fmt.Sprintf("edits/edited_%s.mp4", j.ID))
	if err != nil {
		return job.Changes{}, classify(ctx, err)
	}
	return job.Changes{ResultRef: publicURL, Segments: cuts}, nil
}

func classify(ctx context.Context, err error) *StageError {
	switch {
	case errors.Is(err, assemble.ErrNoSegments):
		return stageErr(ctx, ReasonNoSegments, err)
	case errors.Is(err, assemble.ErrCodec):
		return stageErr(ctx, ReasonCodec, err)
	case errors.Is(err, assemble.ErrStorage):
		return stageErr(ctx, ReasonStorage, err)
	}
	return stageErr(ctx, ReasonInternal, err)
}

func finalizeContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), finalizeTimeout)
}
