package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/labelflow/internal/batch"
	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/service"
)

// printResponse is returned by synchronous print requests. On failure the
// partial report accompanies the error.
type printResponse struct {
	Report *service.Report `json:"report"`
	Error  *AppError       `json:"error,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{"status": "ok", "version": s.version}
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			status["status"] = "degraded"
			status["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.labels.Collector().Snapshot())
}

func async(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("async"))
	return v
}

func (s *Server) handlePrintQC(c *gin.Context) {
	var req service.QCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ErrBadRequest("invalid request body: "+err.Error()))
		return
	}
	req.PrintOptions = req.PrintOptions.WithDefaults(s.defaults)
	count := max(req.Count, 1)

	if async(c) {
		job := s.jobs.Submit(c.Request.Context(), models.KindQC, count, func(ctx context.Context, progress func(batch.Event)) (*service.Report, error) {
			req.Progress = progress
			return s.labels.PrintQC(ctx, req)
		})
		c.JSON(http.StatusAccepted, job.Snapshot())
		return
	}

	report, err := s.labels.PrintQC(c.Request.Context(), req)
	s.respondReport(c, report, err)
}

func (s *Server) handlePrintGRN(c *gin.Context) {
	var req service.GRNRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ErrBadRequest("invalid request body: "+err.Error()))
		return
	}
	req.PrintOptions = req.PrintOptions.WithDefaults(s.defaults)

	if async(c) {
		job := s.jobs.Submit(c.Request.Context(), models.KindGRN, len(req.Items), func(ctx context.Context, progress func(batch.Event)) (*service.Report, error) {
			req.Progress = progress
			return s.labels.PrintGRN(ctx, req)
		})
		c.JSON(http.StatusAccepted, job.Snapshot())
		return
	}

	report, err := s.labels.PrintGRN(c.Request.Context(), req)
	s.respondReport(c, report, err)
}

func (s *Server) handleReprint(c *gin.Context) {
	var req service.ReprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ErrBadRequest("invalid request body: "+err.Error()))
		return
	}
	req.PrintOptions = req.PrintOptions.WithDefaults(s.defaults)

	if async(c) {
		job := s.jobs.Submit(c.Request.Context(), models.KindQC, 1, func(ctx context.Context, progress func(batch.Event)) (*service.Report, error) {
			req.Progress = progress
			return s.labels.Reprint(ctx, req)
		})
		c.JSON(http.StatusAccepted, job.Snapshot())
		return
	}

	report, err := s.labels.Reprint(c.Request.Context(), req)
	s.respondReport(c, report, err)
}

func (s *Server) respondReport(c *gin.Context, report *service.Report, err error) {
	if err == nil {
		c.JSON(http.StatusOK, printResponse{Report: report})
		return
	}
	appErr := MapError(err)
	_ = c.Error(err)
	c.JSON(appErr.HTTPStatus, printResponse{Report: report, Error: appErr})
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs := s.jobs.ListJobs()
	out := make([]service.Job, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job := s.jobs.GetJob(c.Param("id"))
	if job == nil {
		respondError(c, ErrNotFound("job", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, job.Snapshot())
}

func (s *Server) handleCancelJob(c *gin.Context) {
	if !s.jobs.Cancel(c.Param("id")) {
		respondError(c, ErrNotFound("job", c.Param("id")))
		return
	}
	c.Status(http.StatusAccepted)
}

// jobMessage is one websocket frame of a job event stream.
type jobMessage struct {
	Type  string       `json:"type"` // "progress" or "done"
	Event *batch.Event `json:"event,omitempty"`
	Job   *service.Job `json:"job,omitempty"`
}

func (s *Server) handleJobEvents(c *gin.Context) {
	job := s.jobs.GetJob(c.Param("id"))
	if job == nil {
		respondError(c, ErrNotFound("job", c.Param("id")))
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", job.ID, "error", err)
		return
	}
	defer conn.Close()

	past, events, unsubscribe := job.Subscribe()
	defer unsubscribe()

	write := func(msg jobMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("websocket write failed", "job_id", job.ID, "error", err)
			return false
		}
		return true
	}

	for i := range past {
		if !write(jobMessage{Type: "progress", Event: &past[i]}) {
			return
		}
	}
	for ev := range events {
		if !write(jobMessage{Type: "progress", Event: &ev}) {
			return
		}
	}

	<-job.Done()
	snap := job.Snapshot()
	if write(jobMessage{Type: "done", Job: &snap}) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status)),
			time.Now().Add(time.Second))
	}
}

func (s *Server) handleSequence(c *gin.Context) {
	alloc := s.labels.Allocator()
	day, err := models.ParseScopeDate(c.Param("date"), alloc.Location())
	if err != nil {
		respondError(c, ErrBadRequest("date must be ddMMyy or YYYY-MM-DD").WithDetail("date", c.Param("date")))
		return
	}
	n, err := alloc.MaxSequenceForScope(c.Request.Context(), day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scope":        models.ScopeKey(day),
		"max_sequence": n,
		"next_pallet":  models.Identifier{ScopeDate: day, Sequence: n + 1}.String(),
	})
}
