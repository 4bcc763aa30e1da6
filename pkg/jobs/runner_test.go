package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storysmith/pkg/pipeline"
	"storysmith/pkg/queue"
	"storysmith/pkg/schema"
)

type fakePipeline struct {
	dir     string
	err     error
	panics  bool
	block   bool
	started chan struct{}
	release chan struct{}
	chatter int
}

func (f *fakePipeline) Run(ctx context.Context, topic string, opts pipeline.Options, progress func(pipeline.Event)) (*pipeline.Result, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.panics {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return nil, &pipeline.StageError{Stage: pipeline.StageImage, Err: ctx.Err()}
	}

	bundle := schema.StoryBundle{
		Story:                 "Once upon a time, " + topic + ".",
		CharacterDescription:  "a fox",
		BackgroundDescription: "a forest",
	}
	progress(pipeline.Event{Step: pipeline.StepStory, Status: pipeline.StatusStarting})
	progress(pipeline.Event{Step: pipeline.StepStory, Status: pipeline.StatusCompleted, Data: bundle})
	for range f.chatter {
		progress(pipeline.Event{Step: pipeline.StepImages, Status: pipeline.StatusStarting})
	}
	if f.err != nil {
		return nil, f.err
	}

	res := &pipeline.Result{
		Topic:                 topic,
		Story:                 bundle.Story,
		CharacterDescription:  bundle.CharacterDescription,
		BackgroundDescription: bundle.BackgroundDescription,
		DetectedStyle:         "fantasy",
		CharacterPrompt:       "fox prompt",
		BackgroundPrompt:      "forest prompt",
	}
	if !opts.GenerateImages {
		return res, nil
	}
	res.FinalImagePath = filepath.Join(f.dir, "final.jpg")
	res.CharacterImagePath = filepath.Join(f.dir, "character.png")
	res.BackgroundImagePath = filepath.Join(f.dir, "missing.png")
	for _, p := range []string{res.FinalImagePath, res.CharacterImagePath} {
		if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func waitFor(t *testing.T, r *Runner, id uuid.UUID, status Status) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = r.Get(context.Background(), id)
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestRunnerCompletesJob(t *testing.T) {
	p := &fakePipeline{dir: t.TempDir()}
	r := NewRunner(NewMemoryStore(), p, 2, 4)
	r.MediaRoot = t.TempDir()
	r.Start(context.Background())
	defer r.Stop()

	job, err := r.Submit(context.Background(), "a brave fox", "", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)

	done := waitFor(t, r, job.ID, StatusCompleted)
	assert.Equal(t, "Once upon a time, a brave fox.", done.Story)
	assert.Equal(t, "fantasy", done.DetectedStyle)
	assert.Equal(t, pipeline.StepComplete, done.Step)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	id := job.ID.String()
	assert.Equal(t, "storysmith/final_image_"+id+".jpg", done.FinalImagePath)
	assert.Equal(t, "storysmith/character_"+id+".png", done.CharacterImagePath)
	assert.Empty(t, done.BackgroundImagePath)
	assert.Empty(t, done.PreviewImagePath)
	assert.FileExists(t, filepath.Join(r.MediaRoot, done.FinalImagePath))
}

func TestRunnerFailure(t *testing.T) {
	p := &fakePipeline{dir: t.TempDir(), err: errors.New("model offline")}
	r := NewRunner(NewMemoryStore(), p, 1, 4)
	r.Start(context.Background())
	defer r.Stop()

	job, err := r.Submit(context.Background(), "a storm", "", nil)
	require.NoError(t, err)

	failed := waitFor(t, r, job.ID, StatusFailed)
	assert.Equal(t, "Story generation error: model offline", failed.ErrorMessage)
	assert.Equal(t, "Once upon a time, a storm.", failed.Story, "progress data is kept")
}

func TestRunnerRecoversPanic(t *testing.T) {
	r := NewRunner(NewMemoryStore(), &fakePipeline{panics: true}, 1, 4)
	r.Start(context.Background())
	defer r.Stop()

	job, err := r.Submit(context.Background(), "a glitch", "", nil)
	require.NoError(t, err)

	failed := waitFor(t, r, job.ID, StatusFailed)
	assert.Contains(t, failed.ErrorMessage, "boom")
}

func TestRunnerQueueFull(t *testing.T) {
	// Not started, so nothing drains the queue.
	r := NewRunner(NewMemoryStore(), &fakePipeline{}, 1, 1)
	ctx := context.Background()

	_, err := r.Submit(ctx, "first", "", nil)
	require.NoError(t, err)

	job, err := r.Submit(ctx, "second", "", nil)
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	require.NotNil(t, job)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "queue is full", job.ErrorMessage)
}

func TestRunnerCancelPending(t *testing.T) {
	p := &fakePipeline{dir: t.TempDir()}
	r := NewRunner(NewMemoryStore(), p, 1, 4)
	ctx := context.Background()

	job, err := r.Submit(ctx, "a quiet night", "", nil)
	require.NoError(t, err)

	cancelled, err := r.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// The worker skips the job it finds in the queue.
	r.Start(ctx)
	defer r.Stop()
	time.Sleep(50 * time.Millisecond)
	got, _ := r.Get(ctx, job.ID)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = r.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRunnerCancelProcessing(t *testing.T) {
	p := &fakePipeline{block: true, started: make(chan struct{}, 1)}
	r := NewRunner(NewMemoryStore(), p, 1, 4)
	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop()

	job, err := r.Submit(ctx, "an endless road", "", nil)
	require.NoError(t, err)

	select {
	case <-p.started:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline never started")
	}

	_, err = r.Cancel(ctx, job.ID)
	require.NoError(t, err)

	cancelled := waitFor(t, r, job.ID, StatusCancelled)
	assert.Equal(t, ErrCancelled.Error(), cancelled.ErrorMessage)
}

func TestRunnerCancelWinsOverLateSuccess(t *testing.T) {
	p := &fakePipeline{
		dir:     t.TempDir(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	r := NewRunner(NewMemoryStore(), p, 1, 4)
	r.MediaRoot = t.TempDir()
	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop()

	job, err := r.Submit(ctx, "a stubborn mule", "", nil)
	require.NoError(t, err)

	select {
	case <-p.started:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline never started")
	}

	_, err = r.Cancel(ctx, job.ID)
	require.NoError(t, err)
	close(p.release)

	cancelled := waitFor(t, r, job.ID, StatusCancelled)
	assert.Equal(t, ErrCancelled.Error(), cancelled.ErrorMessage)
	assert.Empty(t, cancelled.FinalImagePath)
	assert.NoFileExists(t, filepath.Join(r.MediaRoot, "storysmith", "final_image_"+job.ID.String()+".jpg"))
}

func TestRunnerCancelUnknown(t *testing.T) {
	r := NewRunner(NewMemoryStore(), &fakePipeline{}, 1, 1)
	_, err := r.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunnerResumesPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job := NewJob("left over", "", nil, time.Now())
	require.NoError(t, store.Create(ctx, job))

	r := NewRunner(store, &fakePipeline{dir: t.TempDir()}, 1, 4)
	r.Options.GenerateImages = false
	r.Start(ctx)
	defer r.Stop()

	done := waitFor(t, r, job.ID, StatusCompleted)
	assert.Empty(t, done.FinalImagePath)
}

func TestRunnerSubscribe(t *testing.T) {
	p := &fakePipeline{dir: t.TempDir()}
	r := NewRunner(NewMemoryStore(), p, 1, 4)
	r.MediaRoot = t.TempDir()
	ctx := context.Background()

	job, err := r.Submit(ctx, "a parade", "", nil)
	require.NoError(t, err)

	updates, unsubscribe := r.Subscribe(job.ID)
	defer unsubscribe()
	r.Start(ctx)
	defer r.Stop()

	var last Job
	timeout := time.After(5 * time.Second)
	for last.Status != StatusCompleted {
		select {
		case last = <-updates:
			assert.Equal(t, job.ID, last.ID)
		case <-timeout:
			t.Fatalf("no completion update, last status %q", last.Status)
		}
	}

	unsubscribe()
	unsubscribe()
	_, open := <-updates
	assert.False(t, open)
}

func TestRunnerSubscribeSlowReaderGetsFinalState(t *testing.T) {
	p := &fakePipeline{dir: t.TempDir(), chatter: 20}
	r := NewRunner(NewMemoryStore(), p, 1, 4)
	r.MediaRoot = t.TempDir()
	ctx := context.Background()

	job, err := r.Submit(ctx, "a long parade", "", nil)
	require.NoError(t, err)

	updates, unsubscribe := r.Subscribe(job.ID)
	defer unsubscribe()
	r.Start(ctx)
	defer r.Stop()

	waitFor(t, r, job.ID, StatusCompleted)

	var last Job
	timeout := time.After(5 * time.Second)
	for last.Status != StatusCompleted {
		select {
		case last = <-updates:
		case <-timeout:
			t.Fatalf("completion update was dropped, last status %q", last.Status)
		}
	}
}
