package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"storysmith/pkg/pipeline"
	"storysmith/pkg/queue"
	"storysmith/pkg/schema"
)

// ErrCancelled is the cancellation cause of a job stopped by Cancel.
var ErrCancelled = errors.New("cancelled by user")

var errSkip = errors.New("job is no longer pending")

const mediaDir = "storysmith"

type Pipeline interface {
	Run(ctx context.Context, topic string, opts pipeline.Options, progress func(pipeline.Event)) (*pipeline.Result, error)
}

// Runner is a fixed pool of workers draining a bounded queue of job ids.
type Runner struct {
	MediaRoot string
	Options   pipeline.Options

	store    Store
	pipeline Pipeline
	workers  int
	queue    chan uuid.UUID
	now      func() time.Time

	// mu serialises every read-modify-write of a job.
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelCauseFunc

	subsMu sync.Mutex
	subs   map[uuid.UUID]map[chan Job]struct{}

	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewRunner(store Store, p Pipeline, workers, queueSize int) *Runner {
	return &Runner{
		Options:  pipeline.Options{GenerateImages: true},
		store:    store,
		pipeline: p,
		workers:  max(workers, 1),
		queue:    make(chan uuid.UUID, max(queueSize, 1)),
		now:      time.Now,
		cancels:  make(map[uuid.UUID]context.CancelCauseFunc),
		subs:     make(map[uuid.UUID]map[chan Job]struct{}),
	}
}

// Start launches the workers and re-enqueues jobs left pending by a
// previous run.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.stop = context.WithCancel(ctx)
	for i := range r.workers {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}

	pending, err := r.store.List(ctx, 0)
	if err != nil {
		log.Warn("could not look for pending jobs", "error", err)
		return
	}
	for i := len(pending) - 1; i >= 0; i-- {
		job := pending[i]
		if job.Status != StatusPending {
			continue
		}
		select {
		case r.queue <- job.ID:
			log.Info("resuming job", "id", job.ID)
		default:
			log.Warn("queue full, pending job left waiting", "id", job.ID)
		}
	}
	log.Info("job runner started", "workers", r.workers, "queue", cap(r.queue))
}

// Stop cancels running jobs and waits for the workers to exit.
func (r *Runner) Stop() {
	if r.stop == nil {
		return
	}
	r.stop()
	r.wg.Wait()
	log.Info("job runner stopped")
}

func (r *Runner) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return r.store.Get(ctx, id)
}

func (r *Runner) List(ctx context.Context, limit int) ([]*Job, error) {
	return r.store.List(ctx, limit)
}

// Submit stores a pending job and queues it. When the queue is full the job
// is stored as failed and queue.ErrQueueFull is returned with it.
func (r *Runner) Submit(ctx context.Context, prompt, audioFilename string, parentID *uuid.UUID) (*Job, error) {
	job := NewJob(prompt, audioFilename, parentID, r.now())
	if err := r.store.Create(ctx, job); err != nil {
		return nil, err
	}

	select {
	case r.queue <- job.ID:
		log.Info("job queued", "id", job.ID, "waiting", len(r.queue))
		r.publish(job)
		return job, nil
	default:
	}

	log.Warn("job queue is full", "id", job.ID)
	failed, err := r.mutate(ctx, job.ID, func(j *Job) error {
		j.ErrorMessage = queue.ErrQueueFull.Error()
		return j.Transition(StatusFailed, r.now())
	})
	if err != nil {
		return nil, err
	}
	return failed, queue.ErrQueueFull
}

// Cancel stops a job. Pending jobs are cancelled at once; processing jobs
// have their context cancelled and are marked cancelled by their worker.
func (r *Runner) Cancel(ctx context.Context, id uuid.UUID) (*Job, error) {
	return r.mutate(ctx, id, func(j *Job) error {
		switch j.Status {
		case StatusPending:
			j.ErrorMessage = ErrCancelled.Error()
			return j.Transition(StatusCancelled, r.now())
		case StatusProcessing:
			if cancel, ok := r.cancels[id]; ok {
				cancel(ErrCancelled)
				j.Step = "cancelling"
				return nil
			}
			// No worker owns it, so it was orphaned by a restart.
			j.ErrorMessage = ErrCancelled.Error()
			return j.Transition(StatusCancelled, r.now())
		default:
			return fmt.Errorf("%w: job is %s", ErrInvalidTransition, j.Status)
		}
	})
}

// Subscribe delivers job snapshots after every change. Slow subscribers
// miss updates rather than block the worker.
func (r *Runner) Subscribe(id uuid.UUID) (<-chan Job, func()) {
	ch := make(chan Job, 8)
	r.subsMu.Lock()
	if r.subs[id] == nil {
		r.subs[id] = make(map[chan Job]struct{})
	}
	r.subs[id][ch] = struct{}{}
	r.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subsMu.Lock()
			delete(r.subs[id], ch)
			if len(r.subs[id]) == 0 {
				delete(r.subs, id)
			}
			r.subsMu.Unlock()
			close(ch)
		})
	}
}

func (r *Runner) publish(job *Job) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for ch := range r.subs[job.ID] {
		select {
		case ch <- *job:
			continue
		default:
		}
		// Full: drop the oldest update so the latest state always lands.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- *job:
		default:
		}
	}
}

// mutate loads a job, applies fn and stores the result under mu.
func (r *Runner) mutate(ctx context.Context, id uuid.UUID, fn func(*Job) error) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	if err := r.store.Update(ctx, job); err != nil {
		return nil, err
	}
	r.publish(job)
	return job, nil
}

func (r *Runner) worker(ctx context.Context, n int) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.process(ctx, id)
			log.Debug("worker idle", "worker", n)
		}
	}
}

func (r *Runner) process(ctx context.Context, id uuid.UUID) {
	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	job, err := r.mutate(ctx, id, func(j *Job) error {
		if j.Status != StatusPending {
			return errSkip
		}
		r.cancels[id] = cancel
		return j.Transition(StatusProcessing, r.now())
	})
	if err != nil {
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
		if errors.Is(err, errSkip) {
			log.Info("skipping job", "id", id)
		} else {
			log.Error("could not start job", "id", id, "error", err)
		}
		return
	}
	defer func() {
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
	}()

	log.Info("processing job", "id", id, "prompt", job.TextPrompt)
	res, runErr := r.run(jobCtx, id, job.TextPrompt)

	// The job is finalised even when the runner is shutting down.
	finishCtx := context.WithoutCancel(ctx)
	cancelled := false
	_, err = r.mutate(finishCtx, id, func(j *Job) error {
		switch {
		case errors.Is(context.Cause(jobCtx), ErrCancelled):
			cancelled = true
			j.ErrorMessage = ErrCancelled.Error()
			return j.Transition(StatusCancelled, r.now())
		case runErr == nil:
			r.applyResult(j, res)
			j.Step = pipeline.StepComplete
			return j.Transition(StatusCompleted, r.now())
		default:
			j.ErrorMessage = "Story generation error: " + runErr.Error()
			return j.Transition(StatusFailed, r.now())
		}
	})
	if err != nil {
		log.Error("could not finish job", "id", id, "error", err)
		return
	}
	if cancelled {
		log.Info("job cancelled", "id", id)
		return
	}
	if runErr != nil {
		log.Warn("job did not complete", "id", id, "error", runErr)
		return
	}
	log.Info("job completed", "id", id)
}

// run calls the pipeline, turning a panic into an error.
func (r *Runner) run(ctx context.Context, id uuid.UUID, topic string) (res *pipeline.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline panicked", "id", id, "panic", p)
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return r.pipeline.Run(ctx, topic, r.Options, func(e pipeline.Event) {
		r.progress(ctx, id, e)
	})
}

func (r *Runner) progress(ctx context.Context, id uuid.UUID, e pipeline.Event) {
	if e.Step == pipeline.StepError || e.Step == pipeline.StepComplete {
		return
	}
	_, err := r.mutate(context.WithoutCancel(ctx), id, func(j *Job) error {
		if j.Status != StatusProcessing {
			return errSkip
		}
		j.Step = e.Step
		if e.Status != pipeline.StatusCompleted {
			return nil
		}
		switch data := e.Data.(type) {
		case schema.StoryBundle:
			j.Story = data.Story
			j.CharacterDescription = data.CharacterDescription
			j.BackgroundDescription = data.BackgroundDescription
		case schema.ImagePrompts:
			j.DetectedStyle = data.DetectedStyle
			j.CharacterPrompt = data.CharacterPrompt
			j.BackgroundPrompt = data.BackgroundPrompt
		}
		return nil
	})
	if err != nil && !errors.Is(err, errSkip) {
		log.Warn("could not record progress", "id", id, "step", e.Step, "error", err)
	}
}

func (r *Runner) applyResult(j *Job, res *pipeline.Result) {
	j.Story = res.Story
	j.CharacterDescription = res.CharacterDescription
	j.BackgroundDescription = res.BackgroundDescription
	j.DetectedStyle = res.DetectedStyle
	j.CharacterPrompt = res.CharacterPrompt
	j.BackgroundPrompt = res.BackgroundPrompt

	id := j.ID.String()
	j.FinalImagePath = r.copyMedia(res.FinalImagePath, "final_image_"+id+".jpg")
	j.CharacterImagePath = r.copyMedia(res.CharacterImagePath, "character_"+id+".png")
	j.BackgroundImagePath = r.copyMedia(res.BackgroundImagePath, "background_"+id+".png")
	j.PreviewImagePath = r.copyMedia(res.PreviewImagePath, "preview_"+id+".webp")
}

// copyMedia copies src under the media root and returns the media-relative
// path, or "" when src is missing.
func (r *Runner) copyMedia(src, name string) string {
	if src == "" {
		return ""
	}
	rel := filepath.ToSlash(filepath.Join(mediaDir, name))
	if err := copyFile(src, filepath.Join(r.MediaRoot, rel)); err != nil {
		log.Warn("could not copy generated file", "src", src, "error", err)
		return ""
	}
	return rel
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
