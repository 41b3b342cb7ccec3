package main

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/panocam/internal/database"
	"github.com/therealutkarshpriyadarshi/panocam/internal/live"
	"github.com/therealutkarshpriyadarshi/panocam/internal/stitch"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

func unavailable(c *gin.Context, service string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": gin.H{"message": fmt.Sprintf("%s is not configured", service)},
	})
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	checks, healthy := api.health(c.Request.Context())
	status := http.StatusOK
	body := gin.H{"status": "healthy", "checks": checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}

// Session

func (api *API) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, api.session.State())
}

func (api *API) selectMode(c *gin.Context) {
	sel := api.defaults
	if err := c.ShouldBindJSON(&sel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	if sel.Mode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "mode is required"}})
		return
	}

	bundle, err := api.session.SelectMode(c.Request.Context(), sel)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"bundle": bundle})
}

func (api *API) capturePhoto(c *gin.Context) {
	if err := api.session.CapturePhoto(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.session.State())
}

// Recording

func (api *API) toggleRecord(c *gin.Context) {
	if err := api.recording.Toggle(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.recording.Status())
}

func (api *API) getRecord(c *gin.Context) {
	c.JSON(http.StatusOK, api.recording.Status())
}

// Live

type liveRequest struct {
	URL          string `json:"url"`
	Label        string `json:"label"`
	Ratio        string `json:"ratio"`
	BitrateMbps  int    `json:"bitrate_mbps"`
	Record       *bool  `json:"record"`
	SplitMinutes int    `json:"split_minutes"`
}

func (api *API) startLive(c *gin.Context) {
	var req liveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
			return
		}
	}

	api.live.Configure(func(cfg *live.Config) {
		if req.URL != "" {
			cfg.URL = req.URL
		}
		if req.Label != "" {
			cfg.Label = models.ResolutionLabel(req.Label)
		}
		if req.Ratio != "" {
			cfg.AspectRatio = req.Ratio
		}
		if req.BitrateMbps > 0 {
			cfg.BitrateMbps = req.BitrateMbps
		}
		if req.Record != nil {
			cfg.Record = *req.Record
		}
		if req.SplitMinutes > 0 {
			cfg.SplitMinutes = req.SplitMinutes
		}
	})

	if err := api.live.Start(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.live.Status())
}

func (api *API) stopLive(c *gin.Context) {
	if err := api.live.Stop(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.live.Status())
}

func (api *API) togglePauseLive(c *gin.Context) {
	if err := api.live.PauseResume(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.live.Status())
}

func (api *API) getLive(c *gin.Context) {
	c.JSON(http.StatusOK, api.live.Status())
}

// Stitch

func (api *API) listSources(c *gin.Context) {
	sources, err := stitch.FindSources(api.stitchCfg.Root)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	if sources == nil {
		sources = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"root": api.stitchCfg.Root, "sources": sources})
}

type stitchRequest struct {
	SourcePath string `json:"source_path" binding:"required"`
	Priority   *int   `json:"priority"`
	Bitrate    int    `json:"bitrate"`
}

func (api *API) createStitchJob(c *gin.Context) {
	var req stitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	source := req.SourcePath
	if !filepath.IsAbs(source) {
		source = filepath.Join(api.stitchCfg.Root, source)
	}
	priority := api.stitchCfg.Priority
	if req.Priority != nil {
		priority = *req.Priority
	}
	bitrate := api.stitchCfg.Bitrate
	if req.Bitrate > 0 {
		bitrate = req.Bitrate
	}

	// Hand off to the worker process when a queue is configured
	if api.jobs != nil {
		job := &models.StitchJob{
			ID:         uuid.New().String(),
			SourcePath: source,
			Priority:   priority,
			Bitrate:    bitrate,
			CreatedAt:  time.Now(),
		}
		if err := api.jobs.PublishJob(c.Request.Context(), job); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": fmt.Sprintf("Failed to queue job: %v", err)}})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job": job})
		return
	}

	task, err := stitch.Prepare(c.Request.Context(), api.prober, source)
	if err != nil {
		writeError(c, err)
		return
	}
	task.Priority = priority
	task.Bitrate = bitrate

	task, err = api.stitch.Submit(task)
	if err != nil {
		writeError(c, err)
		return
	}
	// A running task leaves the new one queued behind it
	if err := api.stitch.Start(); err != nil && !errors.Is(err, models.ErrPrecondition) {
		writeError(c, err)
		return
	}
	if current, ok := api.stitch.Task(task.ID); ok {
		task = current
	}
	c.JSON(http.StatusAccepted, gin.H{"task": task})
}

func (api *API) getStitch(c *gin.Context) {
	c.JSON(http.StatusOK, api.stitch.Status())
}

func (api *API) startStitch(c *gin.Context) {
	if err := api.stitch.Start(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.stitch.Status())
}

func (api *API) pauseStitch(c *gin.Context) {
	if err := api.stitch.Pause(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.stitch.Status())
}

func (api *API) stitchProgress(c *gin.Context) {
	id := c.Param("id")

	if task, ok := api.stitch.Task(id); ok {
		c.JSON(http.StatusOK, gin.H{"id": id, "progress": task.ProgressPercent, "state": task.State})
		return
	}
	if api.progress == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "Stitch task not found"}})
		return
	}

	progress, ok, err := api.progress.GetStitchProgress(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "Stitch task not found"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "progress": progress})
}

// Media and events

func (api *API) listMedia(c *gin.Context) {
	if api.media == nil {
		unavailable(c, "database")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	filter := database.MediaFilter{
		Kind:   c.Query("kind"),
		Mode:   models.CaptureMode(c.Query("mode")),
		Limit:  limit,
		Offset: offset,
	}

	records, err := api.media.ListMedia(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	if records == nil {
		records = []*models.MediaRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"media":  records,
		"limit":  limit,
		"offset": offset,
	})
}

func (api *API) listEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	c.JSON(http.StatusOK, gin.H{"events": api.events.Recent(limit)})
}
