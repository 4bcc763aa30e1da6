// Package jobs tracks story generation requests from submission to result.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether a page showing the job should keep refreshing.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

type Job struct {
	ID            uuid.UUID  `json:"id"`
	TextPrompt    string     `json:"text_prompt"`
	AudioFilename string     `json:"audio_filename,omitempty"`
	ParentID      *uuid.UUID `json:"parent_id,omitempty"`
	Status        Status     `json:"status"`
	Step          string     `json:"step,omitempty"`

	Story                 string `json:"story,omitempty"`
	CharacterDescription  string `json:"character_description,omitempty"`
	BackgroundDescription string `json:"background_description,omitempty"`
	DetectedStyle         string `json:"detected_style,omitempty"`
	CharacterPrompt       string `json:"character_prompt,omitempty"`
	BackgroundPrompt      string `json:"background_prompt,omitempty"`

	// Image paths are relative to the media root.
	FinalImagePath      string `json:"final_image_path,omitempty"`
	CharacterImagePath  string `json:"character_image_path,omitempty"`
	BackgroundImagePath string `json:"background_image_path,omitempty"`
	PreviewImagePath    string `json:"preview_image_path,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func NewJob(prompt, audioFilename string, parentID *uuid.UUID, now time.Time) *Job {
	return &Job{
		ID:            uuid.New(),
		TextPrompt:    prompt,
		AudioFilename: audioFilename,
		ParentID:      parentID,
		Status:        StatusPending,
		CreatedAt:     now,
	}
}

// Transition moves the job to another status, stamping StartedAt on
// processing and CompletedAt on any terminal status.
func (j *Job) Transition(to Status, now time.Time) error {
	if !j.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	switch {
	case to == StatusProcessing:
		j.StartedAt = &now
	case to.Terminal():
		j.CompletedAt = &now
	}
	return nil
}

// Duration is the processing time of a finished job.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

func (j *Job) clone() *Job {
	c := *j
	return &c
}
