// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package server exposes the Brain's read-only HTTP surface: sessions,
// captures, videos, jobs, node health and schedule windows. All writes go
// through the scheduler and workers, never through HTTP.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
	"github.com/AMD-AGI/Skylapse/brain/pkg/database"
	"github.com/AMD-AGI/Skylapse/brain/pkg/scheduler"
	"github.com/AMD-AGI/Skylapse/brain/pkg/solar"
	"github.com/AMD-AGI/Skylapse/brain/pkg/taskqueue"
)

const defaultListLimit = 100

// Handler serves the API from the same stores the scheduler and workers
// write to.
type Handler struct {
	store     *config.Store
	sessions  database.SessionFacadeInterface
	videos    database.VideoFacadeInterface
	queue     taskqueue.Queue
	scheduler *scheduler.Scheduler
	calc      *solar.Calculator
}

func NewHandler(store *config.Store, sessions database.SessionFacadeInterface, videos database.VideoFacadeInterface, queue taskqueue.Queue, sched *scheduler.Scheduler) *Handler {
	return &Handler{
		store:     store,
		sessions:  sessions,
		videos:    videos,
		queue:     queue,
		scheduler: sched,
		calc:      solar.NewCalculator(),
	}
}

// RegisterRoutes wires the API routes.
func RegisterRoutes(router *gin.Engine, h *Handler) {
	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/sessions/:id", h.GetSession)
		v1.GET("/sessions/:id/captures", h.ListSessionCaptures)
		v1.GET("/sessions/:id/videos", h.ListSessionVideos)

		v1.GET("/videos", h.ListVideos)

		v1.GET("/jobs", h.ListJobs)
		v1.GET("/jobs/dead-letter", h.ListDeadLetterJobs)
		v1.GET("/jobs/:id", h.GetJob)

		v1.GET("/nodes", h.ListNodes)
		v1.GET("/schedule/windows", h.ScheduleWindows)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"config_version": h.store.Version(),
	})
}

func (h *Handler) ListSessions(c *gin.Context) {
	filter := &database.SessionFilter{Limit: intQuery(c, "limit", defaultListLimit), Offset: intQuery(c, "offset", 0)}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("schedule"); v != "" {
		filter.ScheduleID = &v
	}
	if v := c.Query("profile"); v != "" {
		filter.ProfileID = &v
	}
	if v := c.Query("date"); v != "" {
		filter.DateLocal = &v
	}

	sessions, err := h.sessions.ListSessions(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) ListSessionCaptures(c *gin.Context) {
	sessionID := c.Param("id")
	session, err := h.sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	captures, err := h.sessions.ListSessionCaptures(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"captures": captures, "count": len(captures)})
}

func (h *Handler) ListSessionVideos(c *gin.Context) {
	videos, err := h.videos.ListSessionVideos(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos, "count": len(videos)})
}

func (h *Handler) ListVideos(c *gin.Context) {
	videos, err := h.videos.ListVideos(c.Request.Context(), intQuery(c, "limit", defaultListLimit), intQuery(c, "offset", 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos, "count": len(videos)})
}

func (h *Handler) ListJobs(c *gin.Context) {
	var statuses []taskqueue.JobStatus
	if v := c.Query("status"); v != "" {
		statuses = append(statuses, taskqueue.JobStatus(v))
	}
	jobs, err := h.queue.List(c.Request.Context(), statuses, intQuery(c, "limit", defaultListLimit))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *Handler) ListDeadLetterJobs(c *gin.Context) {
	jobs, err := h.queue.ListDeadLetter(c.Request.Context(), intQuery(c, "limit", defaultListLimit))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == taskqueue.ErrJobNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListNodes reports the configured nodes with the scheduler's advisory
// online view overlaid.
func (h *Handler) ListNodes(c *gin.Context) {
	doc := h.store.Snapshot()

	statuses := map[string]*scheduler.NodeStatus{}
	if h.scheduler != nil {
		for _, st := range h.scheduler.NodeStatuses() {
			statuses[st.NodeID] = st
		}
	}

	type nodeView struct {
		*config.Node
		Online    bool       `json:"online"`
		LastSeen  *time.Time `json:"last_seen,omitempty"`
		LastError string     `json:"last_error,omitempty"`
	}
	out := make([]nodeView, 0, len(doc.Nodes))
	for _, node := range doc.Nodes {
		view := nodeView{Node: node}
		if st, ok := statuses[node.ID]; ok {
			view.Online = st.Online
			view.LastSeen = st.LastSeen
			view.LastError = st.LastError
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"nodes": out, "count": len(out)})
}

// ScheduleWindows computes the windows for a local date (default today).
func (h *Handler) ScheduleWindows(c *gin.Context) {
	doc := h.store.Snapshot()
	tz, err := doc.Location.LoadTimezone()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	dateLocal := time.Now().In(tz)
	if v := c.Query("date"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, tz)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		dateLocal = parsed
	}

	type windowView struct {
		ScheduleID string     `json:"schedule_id"`
		Type       string     `json:"type"`
		Start      *time.Time `json:"start,omitempty"`
		End        *time.Time `json:"end,omitempty"`
		Error      string     `json:"error,omitempty"`
	}
	out := make([]windowView, 0, len(doc.Schedules))
	for id, sched := range doc.EnabledSchedules() {
		view := windowView{ScheduleID: id, Type: sched.Type}
		window, err := h.calc.Window(doc.Location, sched, dateLocal)
		if err != nil {
			view.Error = err.Error()
		} else {
			view.Start = &window.Start
			view.End = &window.End
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{
		"date":    dateLocal.Format("2006-01-02"),
		"windows": out,
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
