package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/calder/mirage/internal/model"
	"github.com/calder/mirage/internal/pipeline"
	"github.com/calder/mirage/internal/registry"
	"github.com/calder/mirage/internal/store"
	"github.com/calder/mirage/internal/synth"
)

// CancelMessage is the terminal message recorded when a user cancels a job.
const CancelMessage = "cancelled by user"

// Progress checkpoints reported during execution. The synthesis stage has no
// internal progress granularity, so these are the only values observers see.
const (
	progressLoading    = 10
	progressGenerating = 30
	progressSaving     = 80
	progressDone       = 100
)

// initialEstimate is the advisory remaining-seconds hint set at submission.
const initialEstimate = 60

// CancelOutcome reports what a Cancel call did.
type CancelOutcome int

const (
	// OutcomeCancelled means the job was queued or processing and is now terminal.
	OutcomeCancelled CancelOutcome = iota
	// OutcomeAlreadyFinished means the job was already terminal; nothing changed.
	OutcomeAlreadyFinished
)

// ArtifactStore persists produced images and returns their stable URLs.
type ArtifactStore interface {
	SaveImages(ctx context.Context, generationID string, images []synth.Image) ([]string, error)
}

// Engine drives generation jobs from queued to a terminal state, off the
// request path. Execution errors never escape: they are recorded into the job
// record and are only observable by querying or streaming that job.
type Engine struct {
	registry  *registry.Registry
	pipelines *pipeline.Cache
	synth     synth.Synthesizer
	artifacts ArtifactStore
	history   store.Store
	logger    *slog.Logger
	broker    *Broker
	wg        sync.WaitGroup

	// computeTimeout bounds the synthesis stage. Zero means no deadline.
	computeTimeout time.Duration
}

// NewEngine creates an execution engine. Registry change notifications are
// wired into the progress broker here.
func NewEngine(reg *registry.Registry, pipelines *pipeline.Cache, s synth.Synthesizer, artifacts ArtifactStore, history store.Store, logger *slog.Logger, computeTimeout time.Duration) *Engine {
	e := &Engine{
		registry:       reg,
		pipelines:      pipelines,
		synth:          s,
		artifacts:      artifacts,
		history:        history,
		logger:         logger,
		broker:         NewBroker(),
		computeTimeout: computeTimeout,
	}
	reg.OnChange(e.broker.Publish)
	return e
}

// Broker returns the engine's progress broker for stream subscription.
func (e *Engine) Broker() *Broker {
	return e.broker
}

// Submit registers a new job and launches asynchronous execution. The caller
// gets the job id back immediately; everything after that is observable only
// through the registry.
func (e *Engine) Submit(userID string, params model.GenerationParams) string {
	est := initialEstimate
	id := e.registry.Create(userID, model.StatusQueued, 0, "Request queued for processing", &est)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(id, userID, params)
	}()

	return id
}

// Wait blocks until all in-flight job goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Cancel transitions a queued or processing job to its terminal cancelled
// state. Cancellation is cooperative: an in-flight synthesis call is not
// preempted, but the registry freeze guarantees its eventual completion
// cannot overwrite the cancelled status.
func (e *Engine) Cancel(id string) (CancelOutcome, error) {
	snap, err := e.registry.Get(id)
	if err != nil {
		return 0, err
	}
	if model.Terminal(snap.Status) {
		return OutcomeAlreadyFinished, nil
	}

	status := model.StatusFailed
	progress := 0.0
	message := CancelMessage
	snap, err = e.registry.Update(id, registry.Patch{
		Status:   &status,
		Progress: &progress,
		Message:  &message,
	})
	if err != nil {
		return 0, err
	}
	if snap.Message != CancelMessage {
		// Lost the race against the executor's own terminal write.
		return OutcomeAlreadyFinished, nil
	}

	generationsTotal.WithLabelValues("cancelled").Inc()
	e.logger.Info("generation cancelled", "generation_id", id)
	return OutcomeCancelled, nil
}

// execute runs the job lifecycle: queued→processing→completed/failed.
func (e *Engine) execute(id, userID string, params model.GenerationParams) {
	// Close the progress topic when execution finishes, regardless of outcome.
	defer e.broker.Close(id)

	activeJobs.Inc()
	defer activeJobs.Dec()

	if !e.update(id, model.StatusProcessing, progressLoading, "loading resources", intp(30)) {
		return
	}

	loadStart := time.Now()
	handle, err := e.pipelines.GetOrLoad(context.Background(), params.ModelVersion)
	if err != nil {
		e.finishFailed(id, err.Error())
		return
	}
	pipelineLoadDuration.Observe(time.Since(loadStart).Seconds())

	if !e.update(id, "", progressGenerating, "generating", nil) {
		return
	}

	width, height, err := params.Dimensions()
	if err != nil {
		e.finishFailed(id, err.Error())
		return
	}

	ctx := context.Background()
	if e.computeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.computeTimeout)
		defer cancel()
	}

	spec := synth.Spec{
		Prompt:         params.EnhancedPrompt(),
		NegativePrompt: params.EffectiveNegativePrompt(),
		Width:          width,
		Height:         height,
		Steps:          params.Steps,
		GuidanceScale:  params.GuidanceScale,
		Seed:           params.Seed,
		NumImages:      params.NumImages,
		ModelVersion:   params.ModelVersion,
	}

	start := time.Now()
	var images []synth.Image
	err = handle.Invoke(func() error {
		var genErr error
		images, genErr = e.synth.Generate(ctx, spec)
		return genErr
	})
	processingTime := time.Since(start).Seconds()

	if err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = "generation timed out after " + e.computeTimeout.String()
		}
		e.finishFailed(id, msg)
		return
	}
	generationDuration.Observe(processingTime)

	if !e.update(id, "", progressSaving, "saving output", nil) {
		return
	}

	urls, err := e.artifacts.SaveImages(context.Background(), id, images)
	if err != nil {
		e.finishFailed(id, err.Error())
		return
	}

	rec := &model.GenerationRecord{
		ID:             id,
		UserID:         userID,
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Style:          params.Style,
		Size:           params.Size,
		ImageURLs:      urls,
		Parameters:     params.Parameters(),
		CreatedAt:      time.Now().UTC(),
		ProcessingTime: processingTime,
	}
	if err := e.history.Insert(context.Background(), rec); err != nil {
		e.finishFailed(id, "failed to save generation: "+err.Error())
		return
	}

	status := model.StatusCompleted
	progress := float64(progressDone)
	message := "done"
	snap, err := e.registry.Update(id, registry.Patch{
		Status:        &status,
		Progress:      &progress,
		Message:       &message,
		EstimatedTime: intp(0),
		Result:        rec,
	})
	if err != nil {
		e.logger.Error("failed to record completion", "generation_id", id, "error", err)
		return
	}
	if snap.Status != model.StatusCompleted {
		// Cancelled while synthesis was in flight; the record freeze kept the
		// cancellation. The committed history row and artifacts remain.
		e.logger.Info("generation finished after cancellation", "generation_id", id)
		return
	}

	generationsTotal.WithLabelValues("completed").Inc()
	e.logger.Info("generation completed",
		"generation_id", id,
		"user_id", userID,
		"images", len(urls),
		"processing_time_s", processingTime,
	)
}

// update applies a non-terminal checkpoint. An empty status leaves the
// current one in place. Returns false when the job is already terminal,
// which is the executor's signal that a cancellation landed and it should
// stop between stages.
func (e *Engine) update(id, status string, progress float64, message string, estimate *int) bool {
	patch := registry.Patch{
		Progress:      &progress,
		Message:       &message,
		EstimatedTime: estimate,
	}
	if status != "" {
		patch.Status = &status
	}
	snap, err := e.registry.Update(id, patch)
	if err != nil {
		e.logger.Error("failed to update job", "generation_id", id, "error", err)
		return false
	}
	if model.Terminal(snap.Status) {
		e.logger.Info("generation stopped at checkpoint", "generation_id", id, "status", snap.Status)
		return false
	}
	return true
}

// finishFailed marks a job as failed with the given message. Progress resets
// to zero so a failed job never reports partial progress. A no-op if the job
// already reached a terminal state.
func (e *Engine) finishFailed(id, message string) {
	status := model.StatusFailed
	progress := 0.0
	snap, err := e.registry.Update(id, registry.Patch{
		Status:   &status,
		Progress: &progress,
		Message:  &message,
	})
	if err != nil {
		e.logger.Error("failed to record failure", "generation_id", id, "error", err)
		return
	}
	if snap.Message == message {
		generationsTotal.WithLabelValues("failed").Inc()
		e.logger.Warn("generation failed", "generation_id", id, "reason", message)
	}
}

func intp(v int) *int { return &v }
