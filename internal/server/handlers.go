package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"agentstudio/internal/artifact"
	"agentstudio/internal/browseruse"
	agenterrors "agentstudio/internal/errors"
	"agentstudio/internal/taskstate"
)

const screenshotNotFound = "Screenshot not found for this step"

type healthResponse struct {
	Status    string    `json:"status"`
	App       string    `json:"app"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		App:       s.service.App().Name,
		Version:   s.config.Version,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	})
}

type startRequest struct {
	CompanyName string `json:"company_name"`
	Website     string `json:"website"`
	TaskType    string `json:"task_type"`
}

func (s *Server) handleStartResearch(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	taskID, err := s.service.StartResearch(c.Request.Context(), browseruse.StartRequest{
		CompanyName: req.CompanyName,
		Website:     req.Website,
		TaskType:    req.TaskType,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID})
}

// taskView is the task snapshot plus the derived display fields.
type taskView struct {
	taskstate.State
	StatusLabel     string         `json:"status_label"`
	Progress        string         `json:"progress,omitempty"`
	ShareURL        string         `json:"share_url,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	Result          map[string]any `json:"result,omitempty"`
	ResultText      string         `json:"result_text,omitempty"`
}

func newTaskView(st taskstate.State, now time.Time) taskView {
	out := st.ParsedOutput()
	return taskView{
		State:           st,
		StatusLabel:     st.StatusLabel(),
		Progress:        st.ProgressMessage(),
		ShareURL:        st.ShareURL(),
		DurationSeconds: st.Duration(now).Seconds(),
		Result:          out.Fields,
		ResultText:      out.Text,
	}
}

func (s *Server) handleGetTask(c *gin.Context) {
	c.JSON(http.StatusOK, newTaskView(s.service.Snapshot(), time.Now()))
}

func (s *Server) handleScreenshot(c *gin.Context) {
	stepID := strings.TrimSpace(c.Param("stepId"))
	resolve := s.service.ResolveScreenshot
	if c.Query("reprobe") == "1" || strings.EqualFold(c.Query("reprobe"), "true") {
		resolve = s.service.ReprobeScreenshot
	}

	res, err := resolve(c.Request.Context(), stepID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	switch res.Kind {
	case artifact.KindImage:
		c.Header("Cache-Control", "public, max-age=3600")
		c.Data(http.StatusOK, res.ContentType, res.Bytes)
	case artifact.KindURL:
		c.JSON(http.StatusOK, gin.H{"screenshot_url": res.URL})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": screenshotNotFound})
	}
}

func (s *Server) handleFile(c *gin.Context) {
	name := c.Param("fileName")
	link, err := s.service.DownloadFile(c.Request.Context(), name)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"download_url": link, "file_name": name})
}

func (s *Server) handleReset(c *gin.Context) {
	s.service.ResetTask()
	c.JSON(http.StatusOK, newTaskView(s.service.Snapshot(), time.Now()))
}

func (s *Server) handleTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":       s.service.App(),
		"templates": s.service.Templates(),
	})
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	message := agenterrors.FormatForUser(err)

	var rejected *agenterrors.RemoteRejectedError
	switch {
	case errors.As(err, &rejected):
		status := rejected.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": message, "details": rejected.Body})
	case errors.Is(err, agenterrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": strings.TrimSuffix(err.Error(), ": "+agenterrors.ErrValidation.Error())})
	case errors.Is(err, agenterrors.ErrConfiguration):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": message})
	case errors.Is(err, agenterrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": message})
	case errors.Is(err, agenterrors.ErrCircuitOpen), errors.Is(err, agenterrors.ErrRemoteUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": message})
	default:
		s.logger.Error("Unhandled request error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
