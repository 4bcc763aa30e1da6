package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"storysmith/pkg/jobs"
	"storysmith/pkg/queue"
	"storysmith/pkg/utils"
)

const (
	maxPromptLen = 300
	refreshEvery = 3
)

type page struct {
	Title   string
	Refresh int
}

type formView struct {
	page
	Action    string
	Prompt    string
	Errors    map[string]string
	Message   string
	Parent    *jobs.Job
	MaxPrompt int
}

type processingView struct {
	page
	Job *jobs.Job
}

type resultView struct {
	page
	Job     *jobs.Job
	Parent  *jobs.Job
	Diff    []utils.WordDelta
	Changed bool
}

func newForm(action string) formView {
	return formView{
		page:      page{Title: "Create a Story"},
		Action:    action,
		Errors:    map[string]string{},
		MaxPrompt: maxPromptLen,
	}
}

// GET /
func (s *Server) handleGetForm(c echo.Context) error {
	return c.Render(http.StatusOK, "form.html", newForm("/"))
}

// POST /
func (s *Server) handlePostForm(c echo.Context) error {
	return s.submit(c, newForm("/"), nil)
}

// GET /retry/:id
func (s *Server) handleGetRetry(c echo.Context) error {
	parent, err := s.loadJob(c)
	if err != nil {
		return err
	}
	view := newForm("/retry/" + parent.ID.String())
	view.Title = "Retry Story"
	view.Prompt = parent.TextPrompt
	view.Parent = parent
	return c.Render(http.StatusOK, "form.html", view)
}

// POST /retry/:id
func (s *Server) handlePostRetry(c echo.Context) error {
	parent, err := s.loadJob(c)
	if err != nil {
		return err
	}
	view := newForm("/retry/" + parent.ID.String())
	view.Title = "Retry Story"
	view.Parent = parent
	return s.submit(c, view, &parent.ID)
}

// submit validates the form, stores any audio upload and queues a job.
func (s *Server) submit(c echo.Context, view formView, parentID *uuid.UUID) error {
	if formTooLarge(c) {
		log.Warn("form body too large", "length", c.Request().ContentLength)
		view.Errors["audio_file"] = msgAudioTooLarge
		view.Message = "Please correct the errors below."
		return c.Render(http.StatusBadRequest, "form.html", view)
	}

	prompt := strings.TrimSpace(c.FormValue("text_prompt"))
	view.Prompt = prompt

	switch {
	case prompt == "":
		view.Errors["text_prompt"] = "Text prompt cannot be empty."
	case utf8.RuneCountInString(prompt) > maxPromptLen:
		view.Errors["text_prompt"] = fmt.Sprintf("Text prompt must be %d characters or less.", maxPromptLen)
	}

	upload, msg := readAudio(c)
	if msg != "" {
		view.Errors["audio_file"] = msg
	}

	if len(view.Errors) > 0 {
		log.Warn("form validation failed", "errors", view.Errors)
		view.Message = "Please correct the errors below."
		return c.Render(http.StatusBadRequest, "form.html", view)
	}

	var audioFilename string
	if upload != nil {
		var err error
		audioFilename, err = saveAudio(s.MediaRoot, upload)
		if err != nil {
			return fmt.Errorf("failed to save audio: %w", err)
		}
		log.Info("audio received", "file", audioFilename)
	}

	log.Info("new story request", "prompt", utils.LimitStr(prompt, 50), "retry", parentID != nil)
	job, err := s.Jobs.Submit(c.Request().Context(), prompt, audioFilename, parentID)
	if errors.Is(err, queue.ErrQueueFull) {
		view.Message = "The story queue is full. Please try again in a few minutes."
		return c.Render(http.StatusServiceUnavailable, "form.html", view)
	}
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/processing/"+job.ID.String())
}

// GET /processing/:id
func (s *Server) handleGetProcessing(c echo.Context) error {
	job, err := s.loadJob(c)
	if err != nil {
		return err
	}
	if job.Status == jobs.StatusCompleted {
		return c.Redirect(http.StatusSeeOther, "/result/"+job.ID.String())
	}

	view := processingView{page: page{Title: "Processing"}, Job: job}
	if job.Status.Active() {
		view.Refresh = refreshEvery
	}
	return c.Render(http.StatusOK, "processing.html", view)
}

// GET /result/:id
func (s *Server) handleGetResult(c echo.Context) error {
	job, err := s.loadJob(c)
	if err != nil {
		return err
	}
	view := resultView{page: page{Title: "Result"}, Job: job}

	if job.ParentID != nil {
		parent, err := s.Jobs.Get(c.Request().Context(), *job.ParentID)
		switch {
		case err == nil:
			view.Parent = parent
			view.Diff = utils.DiffWords(parent.TextPrompt, job.TextPrompt)
			view.Changed = utils.DiffChanged(view.Diff)
		case errors.Is(err, jobs.ErrNotFound):
			log.Debug("parent job gone", "id", job.ID, "parent", *job.ParentID)
		default:
			return err
		}
	}
	return c.Render(http.StatusOK, "result.html", view)
}
