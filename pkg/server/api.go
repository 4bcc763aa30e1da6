package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"storysmith/pkg/jobs"
	"storysmith/pkg/utils"
)

const recentJobs = 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type jobStatus struct {
	Status string    `json:"status"`
	Step   string    `json:"step,omitempty"`
	Exists bool      `json:"exists"`
	Job    *jobs.Job `json:"job,omitempty"`
}

// GET /health
func (s *Server) handleGetHealth(c echo.Context) error {
	body := map[string]any{
		"service": "StorySmith AI",
		"status":  "ok",
	}
	if s.ImagesWaiting != nil {
		body["images_waiting"] = s.ImagesWaiting()
	}
	return c.JSON(http.StatusOK, body)
}

// GET /api/job-status/:id
func (s *Server) handleGetJobStatus(c echo.Context) error {
	job, err := s.loadJob(c)
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code == http.StatusNotFound {
		return c.JSON(http.StatusNotFound, jobStatus{Status: "not_found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, jobStatus{
		Status: string(job.Status),
		Step:   job.Step,
		Exists: true,
		Job:    job,
	})
}

// GET /api/jobs
func (s *Server) handleGetJobs(c echo.Context) error {
	list, err := s.Jobs.List(c.Request().Context(), recentJobs)
	if err != nil {
		log.Error("failed to list jobs", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("failed to list jobs"))
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	return c.JSON(http.StatusOK, list)
}

// POST /api/jobs/:id/cancel
func (s *Server) handlePostCancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, utils.ErrJSON("job not found"))
	}

	job, err := s.Jobs.Cancel(c.Request().Context(), id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return c.JSON(http.StatusNotFound, utils.ErrJSON("job not found"))
	case errors.Is(err, jobs.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, utils.ErrJSON(err.Error()))
	case err != nil:
		return err
	}

	log.Info("job cancel requested", "id", id, "status", job.Status)
	// The processing page posts a plain form.
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMETextHTML) {
		return c.Redirect(http.StatusSeeOther, "/processing/"+id.String())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"status":  job.Status,
		"job":     job,
	})
}

// GET /api/jobs/:id/events streams "job" events until the job is terminal.
func (s *Server) handleGetJobEvents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	// Subscribe first so no update between the snapshot and the loop is lost.
	updates, unsubscribe := s.Jobs.Subscribe(id)
	defer unsubscribe()

	job, err := s.loadJob(c)
	if err != nil {
		return err
	}

	w, err := utils.NewSSEWriter(c)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON(err.Error()))
	}
	defer w.Close()

	if err := w.Event("job", job); err != nil || job.Status.Terminal() {
		return nil
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := w.Event("job", update); err != nil {
				log.Warn("SSE write error", "id", id, "error", err)
				return nil
			}
			if update.Status.Terminal() {
				return nil
			}
		}
	}
}

// GET /ws/jobs/:id sends each job update as a JSON text message and closes
// once the job is terminal.
func (s *Server) handleJobSocket(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	updates, unsubscribe := s.Jobs.Subscribe(id)
	defer unsubscribe()

	job, err := s.loadJob(c)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("websocket read error", "id", id, "error", err)
				}
				return
			}
		}
	}()

	send := func(j *jobs.Job) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(j); err != nil {
			log.Warn("websocket write error", "id", id, "error", err)
			return false
		}
		return !j.Status.Terminal()
	}
	closeConn := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}

	if !send(job) {
		closeConn()
		return nil
	}
	for {
		select {
		case <-gone:
			return nil
		case <-s.Ctx.Done():
			closeConn()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if !send(&update) {
				closeConn()
				return nil
			}
		}
	}
}
